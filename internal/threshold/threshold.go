// Package threshold classifies sensor values against configured bounds and
// detects the transitions that warrant an alert.
package threshold

import (
	"fmt"
	"math"
	"time"

	"github.com/agricop/greenhouse-core/internal/model"
)

// Level is the classification of one sensor value.
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	}
	return "unknown"
}

// Classify evaluates value against bounds. A value sitting exactly on a
// configured bound is a warning; strictly outside is critical. A missing or
// non-numeric value is critical: absence of data is a risk signal, not
// something to ignore. A missing bound disables that side's check.
func Classify(value *float64, b model.Bounds) Level {
	if value == nil || math.IsNaN(*value) {
		return LevelCritical
	}
	v := *value
	if b.Min != nil {
		if v < *b.Min {
			return LevelCritical
		}
		if v == *b.Min {
			return LevelWarning
		}
	}
	if b.Max != nil {
		if v > *b.Max {
			return LevelCritical
		}
		if v == *b.Max {
			return LevelWarning
		}
	}
	return LevelNormal
}

// Detector tracks the previous classification per sensor kind and fires one
// alert per crossing into critical. Sustained critical and recovery do not
// fire, which keeps noisy oscillation from becoming an alert storm.
type Detector struct {
	prev map[model.SensorKind]Level
}

func NewDetector() *Detector {
	return &Detector{prev: make(map[model.SensorKind]Level)}
}

// Observe classifies the current value and returns an AlertEvent when the
// kind just crossed into critical. The first observation after a reset
// records a baseline and never fires.
func (d *Detector) Observe(deviceID string, kind model.SensorKind, value *float64, b model.Bounds, ts time.Time) *model.AlertEvent {
	curr := Classify(value, b)
	prev, seeded := d.prev[kind]
	d.prev[kind] = curr

	if !seeded || prev == LevelCritical || curr != LevelCritical {
		return nil
	}

	v := math.NaN()
	if value != nil {
		v = *value
	}
	return &model.AlertEvent{
		Severity:  model.SeverityCritical,
		Kind:      kind,
		Value:     v,
		DeviceID:  deviceID,
		Message:   fmt.Sprintf("Critical: %s reading is %v", kind, v),
		Timestamp: ts,
	}
}

// Reset drops all baselines. Called on device switch so readings from the
// new device never compare against the old device's levels.
func (d *Detector) Reset() {
	d.prev = make(map[model.SensorKind]Level)
}
