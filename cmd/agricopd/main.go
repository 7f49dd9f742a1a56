package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agricop/greenhouse-core/internal/api"
	"github.com/agricop/greenhouse-core/internal/auth"
	"github.com/agricop/greenhouse-core/internal/eventlog"
	"github.com/agricop/greenhouse-core/internal/model"
	"github.com/agricop/greenhouse-core/internal/pump"
	"github.com/agricop/greenhouse-core/internal/session"
	"github.com/agricop/greenhouse-core/internal/settings"
	"github.com/agricop/greenhouse-core/internal/stream"
	"github.com/agricop/greenhouse-core/pkg/token"
)

// fallbackDispatcher sends pump commands over the cloud API and falls back
// to a direct broker publish when the API is unavailable (breaker open,
// network down).
type fallbackDispatcher struct {
	primary *api.Client
	conn    *stream.Connection
}

func (d *fallbackDispatcher) SendPumpCommand(ctx context.Context, deviceID string, status model.PumpStatus, mode model.PumpMode, moisture float64) error {
	err := d.primary.SendPumpCommand(ctx, deviceID, status, mode, moisture)
	if err == nil {
		return nil
	}
	log.Printf("main: pump command over HTTP failed (%v), trying broker publish", err)
	return d.conn.PublishPumpCommand(deviceID, status, mode)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("main: no .env file loaded: %v", err)
	}
	cfg := loadConfig()

	store := token.NewStore(cfg.TokenPath)
	refresher := auth.NewRefresher(cfg.APIBaseURL, store, cfg.Email, cfg.Secret)
	apiClient := api.NewClient(cfg.APIBaseURL, store, refresher)

	settingsSource, err := settings.NewFileSource(cfg.SettingsPath)
	if err != nil {
		log.Fatalf("main: %v", err)
	}

	conn := stream.New(stream.Config{
		BrokerURL: cfg.BrokerURL,
		ClientID:  cfg.ClientID,
	}, store, refresher)

	sess := session.New(conn, settingsSource)
	controller := pump.NewController(&fallbackDispatcher{primary: apiClient, conn: conn}, sess, sess.Alerts)

	sess.DeviceChanged.Subscribe(func(string) { controller.Reset() })
	sess.StateChanged.Subscribe(func(st model.DeviceState) {
		controller.Evaluate(st, sess.Thresholds())
	})
	sess.Alerts.Subscribe(func(evt model.AlertEvent) {
		log.Printf("alert [%s] %s: %s", evt.Severity, evt.DeviceID, evt.Message)
	})
	sess.Status.Subscribe(func(msg model.StatusMessage) {
		log.Printf("status [%s] %s", msg.Level, msg.Text)
	})

	conn.OnConnect(func() { sess.SetConnected(true) })
	conn.OnDisconnect(func() { sess.SetConnected(false) })
	conn.OnAuthError(func() {
		store.Clear()
		sess.Notify(model.SeverityCritical, "Broker rejected credentials; re-authentication required")
	})
	refresher.OnLogout(func() {
		sess.Notify(model.SeverityCritical, "Session expired; re-authentication required")
	})

	// Optional alert persistence.
	if cfg.InfluxURL != "" {
		client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
		defer client.Close()
		sink := eventlog.NewSink(client.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket))
		sess.Alerts.Subscribe(sink.NotifyAlert)
		sess.Connection.Subscribe(func(connected bool) {
			sink.NotifyConnection(sess.DeviceID(), connected)
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	if err := refresher.EnsureFromEnv(authCtx); err != nil {
		log.Printf("main: auto-login: %v", err)
	}
	cancel()

	conn.Connect()
	sess.SelectDevice(cfg.DeviceID)

	// Periodic historical refresh keeps the chart cache warm. The ticker may
	// fire concurrently with message handling; the fetch re-reads current
	// selection each cycle.
	go func() {
		ticker := time.NewTicker(cfg.HistoryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				device := sess.DeviceID()
				if device == "" {
					continue
				}
				fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				points, err := apiClient.GetAllStreamData(fetchCtx, device, time.Time{}, time.Time{})
				cancel()
				if err != nil {
					log.Printf("main: history refresh: %v", err)
					continue
				}
				log.Printf("main: history refresh for %s: %d points", device, len(points))
			}
		}
	}()

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	go func() {
		log.Printf("main: metrics listening on %s", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
			log.Printf("main: metrics server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("main: shutting down")
	conn.Disconnect()
}
