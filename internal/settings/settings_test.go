package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agricop/greenhouse-core/internal/model"
)

func TestFileSourceLoadsPerDeviceConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	doc := `{
		"GH-A1-Tomato": {
			"thresholds": {"moisture": {"min": 25, "max": 80}, "temperature": {"max": 35}},
			"autoMode": true
		}
	}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	cfg := s.Thresholds("GH-A1-Tomato")
	if !cfg.AutoMode {
		t.Error("autoMode not loaded")
	}
	b := cfg.BoundsFor(model.SensorMoisture)
	if b.Min == nil || *b.Min != 25 || b.Max == nil || *b.Max != 80 {
		t.Errorf("moisture bounds = %+v", b)
	}
	if b := cfg.BoundsFor(model.SensorTemperature); b.Min != nil || b.Max == nil || *b.Max != 35 {
		t.Errorf("temperature bounds = %+v", b)
	}
}

func TestFileSourceDefaultForUnknownDevice(t *testing.T) {
	s, err := NewFileSource("")
	if err != nil {
		t.Fatal(err)
	}
	cfg := s.Thresholds("GH-unknown")
	if cfg.AutoMode {
		t.Error("default autoMode should be off")
	}
	b := cfg.BoundsFor(model.SensorMoisture)
	if b.Min == nil || *b.Min != 20 || b.Max != nil {
		t.Errorf("default moisture bounds = %+v", b)
	}
}

func TestFileSourceMissingFileIsEmpty(t *testing.T) {
	s, err := NewFileSource(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg := s.Thresholds("any"); cfg.AutoMode {
		t.Error("missing file produced non-default config")
	}
}

func TestFileSourceRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{bad"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileSource(path); err == nil {
		t.Fatal("corrupt settings accepted")
	}
}

func TestReloadReplacesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"d": {"autoMode": false}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := NewFileSource(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"d": {"autoMode": true}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err != nil {
		t.Fatal(err)
	}
	if !s.Thresholds("d").AutoMode {
		t.Error("reload did not pick up new config")
	}
}
