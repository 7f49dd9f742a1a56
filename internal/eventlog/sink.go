// Package eventlog persists alert events and connection transitions to
// InfluxDB so operators can chart alert history next to sensor data. The
// core only produces events; rendering and retention live elsewhere.
package eventlog

import (
	"log"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/agricop/greenhouse-core/internal/model"
)

const measurement = "system_event"

// Sink writes events through the async WriteAPI and tracks the last write
// error time for health reporting.
type Sink struct {
	api     api.WriteAPI
	mu      sync.RWMutex
	lastErr time.Time
}

func NewSink(w api.WriteAPI) *Sink {
	s := &Sink{
		api:     w,
		lastErr: time.Now().Add(-24 * time.Hour),
	}
	go func() {
		for err := range w.Errors() {
			if err != nil {
				s.mu.Lock()
				s.lastErr = time.Now()
				s.mu.Unlock()
				log.Printf("eventlog: influx write error: %v", err)
			}
		}
	}()
	return s
}

// NotifyAlert records one alert event.
func (s *Sink) NotifyAlert(evt model.AlertEvent) {
	tags := map[string]string{
		"event_type": "sensor.alert",
		"severity":   string(evt.Severity),
		"sensor":     string(evt.Kind),
	}
	if evt.DeviceID != "" {
		tags["device_id"] = evt.DeviceID
	}
	fields := map[string]any{
		"value": evt.Value,
		"count": int64(1),
	}
	if evt.Message != "" {
		fields["message"] = evt.Message
	}
	s.write(influxdb2.NewPoint(measurement, tags, fields, evt.Timestamp))
}

// NotifyConnection records a broker connectivity transition.
func (s *Sink) NotifyConnection(deviceID string, connected bool) {
	tags := map[string]string{
		"event_type": "broker.connection",
		"severity":   "info",
	}
	if deviceID != "" {
		tags["device_id"] = deviceID
	}
	up := int64(0)
	if connected {
		up = 1
	}
	s.write(influxdb2.NewPoint(measurement, tags, map[string]any{
		"up":    up,
		"count": int64(1),
	}, time.Now()))
}

func (s *Sink) write(p *write.Point) {
	s.api.WritePoint(p)
}

// LastErrorAge reports how long writes have been succeeding.
func (s *Sink) LastErrorAge() time.Duration {
	s.mu.RLock()
	t := s.lastErr
	s.mu.RUnlock()
	return time.Since(t)
}
