// Package normalize converts raw broker payloads into canonical sensor
// readings and device-state events. Broker payload shapes are not
// contractually fixed: messages may be flat objects, carry a nested payload
// object, or carry a JSON-encoded payload string, and may name values under
// several aliases. Anything unrecognized is dropped, never an error.
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/agricop/greenhouse-core/internal/model"
)

// batchKeyThreshold is the cutoff above which a payload counts as a
// full-state batch instead of a single-sensor push. Devices periodically
// push consolidated snapshots with all five channels; a partial overlap of
// two keys still counts as a single push.
const batchKeyThreshold = 2

// keyAliases maps recognized payload keys to canonical kinds, in the order
// they are scanned.
var keyAliases = []struct {
	key  string
	kind model.SensorKind
}{
	{"temp", model.SensorTemperature},
	{"temperature", model.SensorTemperature},
	{"humidity", model.SensorHumidity},
	{"moisture", model.SensorMoisture},
	{"light", model.SensorLight},
	{"battery", model.SensorBattery},
}

// topicKinds maps per-sensor topic names to canonical kinds.
var topicKinds = map[string]model.SensorKind{
	"pmc/temperature": model.SensorTemperature,
	"pmc/humidity":    model.SensorHumidity,
	"pmc/moisture":    model.SensorMoisture,
	"pmc/light":       model.SensorLight,
	"pmc/battery":     model.SensorBattery,
}

type envelope struct {
	payload   map[string]any
	topic     string
	timestamp time.Time
}

// decodeEnvelope unwraps the transport envelope: an optional "payload"
// sub-object (possibly string-encoded), an optional "topic" provenance
// field, and an optional "timestamp".
func decodeEnvelope(raw []byte, topicHint string, now time.Time) (envelope, bool) {
	var outer map[string]any
	if err := json.Unmarshal(raw, &outer); err != nil {
		return envelope{}, false
	}

	env := envelope{payload: outer, topic: topicHint, timestamp: now}

	switch p := outer["payload"].(type) {
	case map[string]any:
		env.payload = p
	case string:
		var inner map[string]any
		if err := json.Unmarshal([]byte(p), &inner); err == nil {
			env.payload = inner
		}
	}

	// An embedded topic field states provenance and wins over the
	// subscription topic the message arrived on.
	if t, ok := outer["topic"].(string); ok && t != "" {
		env.topic = t
	}
	if ts, ok := outer["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			env.timestamp = parsed
		}
	}
	return env, true
}

// StreamReadings normalizes a message from the sensor-stream topic into zero
// or more readings. topicHint is the per-sensor remainder of the
// subscription topic (for example "pmc/temperature"), empty when the message
// arrived on the bare stream topic.
func StreamReadings(raw []byte, topicHint string, now time.Time) []model.SensorReading {
	env, ok := decodeEnvelope(raw, topicHint, now)
	if !ok {
		return nil
	}

	found := recognizedKinds(env.payload)
	if len(found) > batchKeyThreshold {
		// Full-state batch: one reading per recognized kind, all sharing
		// the message timestamp.
		out := make([]model.SensorReading, 0, len(found))
		for _, kind := range found {
			if v, ok := kindValue(env.payload, kind); ok {
				out = append(out, model.SensorReading{Kind: kind, Value: v, Timestamp: env.timestamp})
			}
		}
		return out
	}

	if kind, ok := topicKinds[env.topic]; ok {
		// Single-sensor push: the value may sit under the kind's own name
		// (or an alias of it), the full topic string, or the topic's
		// trailing segment.
		if v, ok := kindValue(env.payload, kind); ok {
			return []model.SensorReading{{Kind: kind, Value: v, Timestamp: env.timestamp}}
		}
		if v, ok := lookupValue(env.payload, env.topic, lastSegment(env.topic)); ok {
			return []model.SensorReading{{Kind: kind, Value: v, Timestamp: env.timestamp}}
		}
		return nil
	}

	if env.topic != "" {
		if raw, present := env.payload[env.topic]; present {
			if kind := aliasKind(env.topic); kind.Valid() {
				if v, ok := toFloat(raw); ok {
					return []model.SensorReading{{Kind: kind, Value: v, Timestamp: env.timestamp}}
				}
			}
			return nil
		}
	}

	// No usable topic: fall back to scanning recognized keys (at most two
	// here, or the batch rule would have fired).
	out := make([]model.SensorReading, 0, len(found))
	for _, kind := range found {
		if v, ok := kindValue(env.payload, kind); ok {
			out = append(out, model.SensorReading{Kind: kind, Value: v, Timestamp: env.timestamp})
		}
	}
	return out
}

// StateEvents normalizes a message from the device-state topic into zero,
// one, or two events depending on which pump fields are present. This is the
// only path that may produce pump mutations from the network.
func StateEvents(raw []byte, now time.Time) []model.DeviceStateEvent {
	env, ok := decodeEnvelope(raw, "", now)
	if !ok {
		return nil
	}

	var out []model.DeviceStateEvent

	if v, ok := lookupString(env.payload, "power", "status", "pumpStatus", "pump"); ok {
		switch status := model.PumpStatus(strings.ToUpper(v)); status {
		case model.PumpOn, model.PumpOff:
			out = append(out, model.DeviceStateEvent{
				Kind:      model.EventPumpStatus,
				Status:    status,
				Timestamp: env.timestamp,
			})
		}
	}

	if v, ok := lookupString(env.payload, "mode", "pumpMode"); ok {
		switch mode := model.PumpMode(strings.ToLower(v)); mode {
		case model.ModeAuto, model.ModeManual:
			out = append(out, model.DeviceStateEvent{
				Kind:      model.EventPumpMode,
				Mode:      mode,
				Timestamp: env.timestamp,
			})
		}
	}
	return out
}

// recognizedKinds returns the distinct canonical kinds present in the
// payload, in scan order.
func recognizedKinds(payload map[string]any) []model.SensorKind {
	seen := make(map[model.SensorKind]bool, len(keyAliases))
	var out []model.SensorKind
	for _, a := range keyAliases {
		if _, present := payload[a.key]; present && !seen[a.kind] {
			seen[a.kind] = true
			out = append(out, a.kind)
		}
	}
	return out
}

func kindValue(payload map[string]any, kind model.SensorKind) (float64, bool) {
	for _, a := range keyAliases {
		if a.kind != kind {
			continue
		}
		if raw, present := payload[a.key]; present {
			if v, ok := toFloat(raw); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func aliasKind(key string) model.SensorKind {
	for _, a := range keyAliases {
		if a.key == key {
			return a.kind
		}
	}
	return model.SensorKind(key)
}

func lookupValue(payload map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if raw, present := payload[k]; present {
			if v, ok := toFloat(raw); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func lookupString(payload map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if raw, present := payload[k]; present {
			switch v := raw.(type) {
			case string:
				return v, true
			case bool:
				if v {
					return "on", true
				}
				return "off", true
			}
		}
	}
	return "", false
}

func lastSegment(topic string) string {
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// toFloat accepts numbers and numeric strings, mirroring the loose typing of
// device firmware payloads.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
