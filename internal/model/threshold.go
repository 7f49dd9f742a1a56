package model

// Bounds holds the configured limits for one sensor. A nil side disables
// that side's check.
type Bounds struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// ThresholdConfig is the per-device alerting and control configuration.
// It is supplied externally and read-only to the core.
type ThresholdConfig struct {
	Bounds   map[SensorKind]Bounds `json:"thresholds"`
	AutoMode bool                  `json:"autoMode"`
}

// BoundsFor returns the configured bounds for kind (zero value when absent).
func (c ThresholdConfig) BoundsFor(kind SensorKind) Bounds {
	if c.Bounds == nil {
		return Bounds{}
	}
	return c.Bounds[kind]
}

// Float is a convenience for building Bounds literals.
func Float(v float64) *float64 { return &v }
