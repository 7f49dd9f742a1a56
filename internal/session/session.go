// Package session owns the canonical state of the currently selected device
// and mediates device switches. All cross-component signals go through
// explicit typed buses owned by the session; consumers hold cancel funcs and
// tear down explicitly.
package session

import (
	"log"
	"sync"
	"time"

	"github.com/agricop/greenhouse-core/internal/model"
	"github.com/agricop/greenhouse-core/internal/normalize"
	"github.com/agricop/greenhouse-core/internal/stream"
	"github.com/agricop/greenhouse-core/internal/threshold"
	"github.com/agricop/greenhouse-core/pkg/bus"
	"github.com/agricop/greenhouse-core/pkg/metrics"
)

// Subscriber is the slice of the stream connection the session drives.
type Subscriber interface {
	Subscribe(deviceID string, handler stream.Handler)
	Unsubscribe(deviceID string)
}

// ThresholdSource supplies per-device configuration. It is external and
// read-only to the core.
type ThresholdSource interface {
	Thresholds(deviceID string) model.ThresholdConfig
}

// Session holds the single live DeviceState. Inbound messages, device
// switches, and local commands all serialize on one mutex: a switch fully
// resets state before any late message from the old device could be applied,
// and late messages are additionally discarded by device tag.
type Session struct {
	conn   Subscriber
	config ThresholdSource
	clock  func() time.Time

	mu         sync.Mutex
	deviceID   string
	state      model.DeviceState
	thresholds model.ThresholdConfig
	detector   *threshold.Detector

	StateChanged *bus.Bus[model.DeviceState]
	Alerts       *bus.Bus[model.AlertEvent]
	Status       *bus.Bus[model.StatusMessage]
	Connection   *bus.Bus[bool]

	// DeviceChanged fires with the new device ID on every selection switch,
	// before the baseline snapshot goes out on StateChanged. Per-device
	// consumers (controller cooldowns) reset here.
	DeviceChanged *bus.Bus[string]
}

func New(conn Subscriber, config ThresholdSource) *Session {
	s := &Session{
		conn:          conn,
		config:        config,
		clock:         time.Now,
		detector:      threshold.NewDetector(),
		StateChanged:  bus.New[model.DeviceState](),
		Alerts:        bus.New[model.AlertEvent](),
		Status:        bus.New[model.StatusMessage](),
		Connection:    bus.New[bool](),
		DeviceChanged: bus.New[string](),
	}
	return s
}

// DeviceID returns the currently selected device ("" before the first
// SelectDevice).
func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

// Snapshot returns a copy of the canonical device state.
func (s *Session) Snapshot() model.DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Thresholds returns the active device's configuration.
func (s *Session) Thresholds() model.ThresholdConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thresholds
}

// SelectDevice switches the session to id. Selecting the current device is a
// no-op. The state reset happens synchronously before the new subscription
// is issued, so no reading from the old device can ever appear under the new
// one.
func (s *Session) SelectDevice(id string) {
	s.mu.Lock()
	if id == s.deviceID {
		s.mu.Unlock()
		return
	}
	old := s.deviceID
	s.deviceID = id
	s.state = model.NewDeviceState(id)
	s.thresholds = s.config.Thresholds(id)
	s.detector.Reset()
	snapshot := s.state
	s.mu.Unlock()

	if old != "" {
		s.conn.Unsubscribe(old)
	}
	s.conn.Subscribe(id, s.HandleMessage)
	log.Printf("session: selected device %s", id)
	s.DeviceChanged.Publish(id)
	s.StateChanged.Publish(snapshot)
}

// HandleMessage is the single inbound dispatch path for the active
// subscription.
func (s *Session) HandleMessage(msg stream.Message) {
	now := s.clock()
	switch msg.Channel {
	case stream.ChannelStream:
		readings := normalize.StreamReadings(msg.Payload, msg.Topic, now)
		if len(readings) == 0 {
			metrics.MessagesDropped.Inc()
			return
		}
		for _, r := range readings {
			s.applyReading(msg.DeviceID, r)
		}
	case stream.ChannelState:
		events := normalize.StateEvents(msg.Payload, now)
		if len(events) == 0 {
			metrics.MessagesDropped.Inc()
			return
		}
		for _, e := range events {
			s.applyStateEvent(msg.DeviceID, e)
		}
	default:
		metrics.MessagesDropped.Inc()
	}
}

// ApplyReading merges a normalized reading for the active device. Pump
// fields are unreachable from this path.
func (s *Session) ApplyReading(r model.SensorReading) {
	s.applyReading(s.DeviceID(), r)
}

func (s *Session) applyReading(deviceID string, r model.SensorReading) {
	s.mu.Lock()
	if deviceID != s.deviceID {
		// Late message from a device deselected after this message was
		// already in flight.
		s.mu.Unlock()
		metrics.MessagesDropped.Inc()
		return
	}
	s.state.SetSensor(r.Kind, r.Value)
	snapshot := s.state
	value := r.Value
	alert := s.detector.Observe(deviceID, r.Kind, &value, s.thresholds.BoundsFor(r.Kind), r.Timestamp)
	s.mu.Unlock()

	metrics.MessagesNormalized.WithLabelValues(string(r.Kind)).Inc()
	s.StateChanged.Publish(snapshot)
	if alert != nil {
		metrics.AlertsEmitted.WithLabelValues(string(alert.Severity)).Inc()
		s.Alerts.Publish(*alert)
	}
}

// ApplyStateEvent merges a pump status or mode event for the active device.
// State events are authoritative: they overwrite any optimistic local value
// and clear the pending marker.
func (s *Session) ApplyStateEvent(e model.DeviceStateEvent) {
	s.applyStateEvent(s.DeviceID(), e)
}

func (s *Session) applyStateEvent(deviceID string, e model.DeviceStateEvent) {
	s.mu.Lock()
	if deviceID != s.deviceID {
		s.mu.Unlock()
		metrics.MessagesDropped.Inc()
		return
	}
	switch e.Kind {
	case model.EventPumpStatus:
		s.state.PumpStatus = e.Status
	case model.EventPumpMode:
		s.state.PumpMode = e.Mode
	default:
		s.mu.Unlock()
		metrics.MessagesDropped.Inc()
		return
	}
	s.state.PumpPending = false
	snapshot := s.state
	s.mu.Unlock()

	metrics.MessagesNormalized.WithLabelValues(string(e.Kind)).Inc()
	s.StateChanged.Publish(snapshot)
}

// ApplyLocalPumpCommand records an optimistic pump mutation issued by the
// user or the auto controller, visible immediately and superseded by the
// next authoritative state event.
func (s *Session) ApplyLocalPumpCommand(status model.PumpStatus, mode model.PumpMode) {
	s.mu.Lock()
	s.state.PumpStatus = status
	if mode != "" {
		s.state.PumpMode = mode
	}
	s.state.PumpPending = true
	snapshot := s.state
	s.mu.Unlock()
	s.StateChanged.Publish(snapshot)
}

// SetConnected reflects broker connectivity to the UI layer.
func (s *Session) SetConnected(connected bool) {
	s.Connection.Publish(connected)
}

// Notify pushes a one-shot status message to the UI layer.
func (s *Session) Notify(level model.Severity, text string) {
	s.Status.Publish(model.StatusMessage{Level: level, Text: text, Timestamp: s.clock()})
}
