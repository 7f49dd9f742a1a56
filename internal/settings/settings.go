// Package settings loads per-device threshold configuration from a JSON
// file. The configuration store is owned by the settings UI; the core only
// reads it.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/agricop/greenhouse-core/internal/model"
)

// FileSource reads a JSON document shaped as
//
//	{"GH-A1-Tomato": {"thresholds": {"moisture": {"min": 20, "max": 70}}, "autoMode": true}}
//
// keyed by device ID.
type FileSource struct {
	mu      sync.RWMutex
	path    string
	configs map[string]model.ThresholdConfig
}

func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: path, configs: map[string]model.ThresholdConfig{}}
	if path == "" {
		return s, nil
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file, replacing all cached configurations.
func (s *FileSource) Reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("settings: read %s: %w", s.path, err)
	}
	var configs map[string]model.ThresholdConfig
	if err := json.Unmarshal(raw, &configs); err != nil {
		return fmt.Errorf("settings: parse %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.configs = configs
	s.mu.Unlock()
	return nil
}

// Thresholds returns the device's configuration. Devices without one get the
// default: moisture minimum 20, auto mode off.
func (s *FileSource) Thresholds(deviceID string) model.ThresholdConfig {
	s.mu.RLock()
	cfg, ok := s.configs[deviceID]
	s.mu.RUnlock()
	if ok {
		return cfg
	}
	return model.ThresholdConfig{
		Bounds: map[model.SensorKind]model.Bounds{
			model.SensorMoisture: {Min: model.Float(20)},
		},
	}
}
