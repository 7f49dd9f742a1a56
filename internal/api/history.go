package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/agricop/greenhouse-core/internal/model"
)

// streamTopics are the historical per-sensor topics merged by
// GetAllStreamData, in merge order.
var streamTopics = []struct {
	name string
	kind model.SensorKind
}{
	{"pmc/temperature", model.SensorTemperature},
	{"pmc/moisture", model.SensorMoisture},
	{"pmc/humidity", model.SensorHumidity},
	{"pmc/battery", model.SensorBattery},
	{"pmc/light", model.SensorLight},
}

// StreamRecord is one raw historical record as returned by the cloud. The
// payload may be a nested object or a JSON-encoded string.
type StreamRecord struct {
	Timestamp string          `json:"timestamp"`
	Time      string          `json:"time"`
	Payload   json.RawMessage `json:"payload"`
	Value     json.RawMessage `json:"value"`
}

func (r StreamRecord) when() string {
	if r.Timestamp != "" {
		return r.Timestamp
	}
	return r.Time
}

// payloadMap unwraps the record payload into a map, tolerating the
// string-encoded variant.
func (r StreamRecord) payloadMap() map[string]any {
	if len(r.Payload) == 0 {
		return nil
	}
	var m map[string]any
	if json.Unmarshal(r.Payload, &m) == nil {
		return m
	}
	var s string
	if json.Unmarshal(r.Payload, &s) == nil {
		if json.Unmarshal([]byte(s), &m) == nil {
			return m
		}
	}
	return nil
}

// sensorValue resolves the record's value for kind: payload key (with
// aliases), then the bare value field.
func (r StreamRecord) sensorValue(kind model.SensorKind) (float64, bool) {
	m := r.payloadMap()
	keys := []string{string(kind)}
	if kind == model.SensorTemperature {
		keys = []string{"temp", "temperature"}
	}
	for _, k := range keys {
		if raw, ok := m[k]; ok {
			if v, ok := asFloat(raw); ok {
				return v, true
			}
		}
	}
	if len(r.Value) > 0 {
		var v float64
		if json.Unmarshal(r.Value, &v) == nil {
			return v, true
		}
		var s string
		if json.Unmarshal(r.Value, &s) == nil {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// StreamPoint is one merged, chart-ready sample across all sensor channels.
type StreamPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	Moisture    *float64  `json:"moisture,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	Light       *float64  `json:"light,omitempty"`
	Battery     *float64  `json:"battery,omitempty"`
}

func (p *StreamPoint) field(kind model.SensorKind) **float64 {
	switch kind {
	case model.SensorMoisture:
		return &p.Moisture
	case model.SensorTemperature:
		return &p.Temperature
	case model.SensorHumidity:
		return &p.Humidity
	case model.SensorLight:
		return &p.Light
	case model.SensorBattery:
		return &p.Battery
	}
	return nil
}

const isoSeconds = "2006-01-02T15:04:05Z"

// GetStreamDataByTopic fetches one topic's historical records. A zero start
// defaults to 24 hours before end; a zero end defaults to now.
func (c *Client) GetStreamDataByTopic(ctx context.Context, deviceID, topic string, start, end time.Time, page, pageSize int) ([]StreamRecord, error) {
	if end.IsZero() {
		end = time.Now().UTC()
	}
	if start.IsZero() {
		start = end.Add(-24 * time.Hour)
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	body := map[string]string{
		"deviceId":   deviceID,
		"topic":      topic,
		"startTime":  start.UTC().Format(isoSeconds),
		"endTime":    end.UTC().Format(isoSeconds),
		"pagination": strconv.Itoa(page),
		"pageSize":   strconv.Itoa(pageSize),
	}

	var env envelope
	if err := c.do(ctx, http.MethodPost, "/get-stream-data/device/topic", body, &env); err != nil {
		return nil, err
	}
	if env.Status != "Success" {
		return nil, nil
	}
	var records []StreamRecord
	if err := json.Unmarshal(env.Data, &records); err != nil {
		return nil, nil
	}
	return records, nil
}

// GetAllStreamData fetches every sensor topic's history and merges the
// records into one time-ordered series. Individual topic failures are
// tolerated (the chart renders what arrived); gaps are forward-filled with
// the last known value per channel.
func (c *Client) GetAllStreamData(ctx context.Context, deviceID string, start, end time.Time) ([]StreamPoint, error) {
	byTimestamp := make(map[string]*StreamPoint)

	for _, t := range streamTopics {
		records, err := c.GetStreamDataByTopic(ctx, deviceID, t.name, start, end, 0, 100)
		if err != nil {
			log.Printf("api: fetch %s history: %v", t.name, err)
			continue
		}
		for _, rec := range records {
			key := rec.when()
			if key == "" {
				continue
			}
			point, ok := byTimestamp[key]
			if !ok {
				ts, terr := time.Parse(time.RFC3339, key)
				if terr != nil {
					continue
				}
				point = &StreamPoint{Timestamp: ts}
				byTimestamp[key] = point
			}
			if v, ok := rec.sensorValue(t.kind); ok {
				*point.field(t.kind) = &v
			}
		}
	}

	out := make([]StreamPoint, 0, len(byTimestamp))
	for _, p := range byTimestamp {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	// Forward-fill: a channel missing at one timestamp keeps its last known
	// value so chart lines stay continuous.
	last := map[model.SensorKind]*float64{}
	for i := range out {
		for _, kind := range model.SensorKinds {
			f := out[i].field(kind)
			if *f != nil {
				last[kind] = *f
			} else if last[kind] != nil {
				*f = last[kind]
			}
		}
	}
	return out, nil
}

// GetHistoricalData fetches the last 24 hours of raw records for export.
func (c *Client) GetHistoricalData(ctx context.Context, deviceID string) ([]StreamRecord, error) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)

	q := url.Values{}
	q.Set("deviceId", deviceID)
	q.Set("startTime", start.Format(time.RFC3339))
	q.Set("endTime", end.Format(time.RFC3339))
	q.Set("pagination", "0")
	q.Set("pageSize", "1000")
	path := "/get-stream-data/device?" + q.Encode()

	var env envelope
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	if env.Status != "Success" {
		return nil, nil
	}
	var records []StreamRecord
	if err := json.Unmarshal(env.Data, &records); err != nil {
		return nil, nil
	}
	return records, nil
}
