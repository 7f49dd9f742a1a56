package main

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	APIBaseURL string
	BrokerURL  string
	ClientID   string

	Email  string
	Secret string

	DeviceID     string
	TokenPath    string
	SettingsPath string

	MetricsAddr     string
	HistoryInterval time.Duration

	// Optional event persistence
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func loadConfig() Config {
	return Config{
		APIBaseURL: getenv("API_BASE_URL", "https://api.protonestconnect.co/api/v1/user"),
		BrokerURL:  getenv("BROKER_URL", "wss://api.protonestconnect.co/ws"),
		ClientID:   getenv("CLIENT_ID", "agricopd"),

		Email:  getenv("USER_EMAIL", ""),
		Secret: getenv("USER_SECRET", ""),

		DeviceID:     getenv("DEVICE_ID", "GH-A1-Tomato"),
		TokenPath:    getenv("TOKEN_PATH", ".agricop-tokens.json"),
		SettingsPath: getenv("SETTINGS_PATH", "settings.json"),

		MetricsAddr:     getenv("METRICS_ADDR", ":9105"),
		HistoryInterval: time.Duration(getenvInt("HISTORY_INTERVAL_MIN", 5)) * time.Minute,

		InfluxURL:    getenv("INFLUX_URL", ""),
		InfluxToken:  getenv("INFLUX_TOKEN", ""),
		InfluxOrg:    getenv("INFLUX_ORG", "agricop"),
		InfluxBucket: getenv("INFLUX_BUCKET", "events"),
	}
}
