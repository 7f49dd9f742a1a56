package model

// DeviceState is the canonical latest-known state of the selected device.
// A nil sensor pointer means the value is unknown (no reading since the
// device was selected).
type DeviceState struct {
	DeviceID    string     `json:"device_id"`
	Moisture    *float64   `json:"moisture,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
	Humidity    *float64   `json:"humidity,omitempty"`
	Light       *float64   `json:"light,omitempty"`
	Battery     *float64   `json:"battery,omitempty"`
	PumpStatus  PumpStatus `json:"pump_status"`
	PumpMode    PumpMode   `json:"pump_mode"`

	// PumpPending marks an optimistic local pump mutation that has not yet
	// been confirmed by a DeviceStateEvent. Server truth always wins: any
	// incoming state event overwrites the field and clears the marker.
	PumpPending bool `json:"pump_pending,omitempty"`
}

// NewDeviceState returns the unknown/OFF baseline for a freshly selected
// device.
func NewDeviceState(deviceID string) DeviceState {
	return DeviceState{
		DeviceID:   deviceID,
		PumpStatus: PumpOff,
		PumpMode:   ModeAuto,
	}
}

// Sensor returns the last known value for kind, or false when unknown.
func (s *DeviceState) Sensor(kind SensorKind) (float64, bool) {
	p := s.sensorField(kind)
	if p == nil || *p == nil {
		return 0, false
	}
	return **p, true
}

// SetSensor folds a reading value into the state. Pump fields are not
// reachable through this path.
func (s *DeviceState) SetSensor(kind SensorKind, value float64) {
	p := s.sensorField(kind)
	if p == nil {
		return
	}
	v := value
	*p = &v
}

func (s *DeviceState) sensorField(kind SensorKind) **float64 {
	switch kind {
	case SensorMoisture:
		return &s.Moisture
	case SensorTemperature:
		return &s.Temperature
	case SensorHumidity:
		return &s.Humidity
	case SensorLight:
		return &s.Light
	case SensorBattery:
		return &s.Battery
	}
	return nil
}
