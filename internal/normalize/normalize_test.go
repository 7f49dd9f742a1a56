package normalize

import (
	"testing"
	"time"

	"github.com/agricop/greenhouse-core/internal/model"
)

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func TestBatchClassification(t *testing.T) {
	// Three recognized keys: a full-state batch, one reading per key.
	readings := StreamReadings([]byte(`{"temp":22,"humidity":55,"moisture":30}`), "", testNow)
	if len(readings) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(readings))
	}
	byKind := map[model.SensorKind]float64{}
	for _, r := range readings {
		byKind[r.Kind] = r.Value
		if !r.Timestamp.Equal(testNow) {
			t.Errorf("reading %s timestamp = %v, want shared message timestamp", r.Kind, r.Timestamp)
		}
	}
	if byKind[model.SensorTemperature] != 22 || byKind[model.SensorHumidity] != 55 || byKind[model.SensorMoisture] != 30 {
		t.Errorf("unexpected values: %v", byKind)
	}
}

func TestTwoKeysOnSensorTopicIsSingleReading(t *testing.T) {
	// Two keys do not make a batch; the topic decides.
	readings := StreamReadings([]byte(`{"temp":22,"humidity":55}`), "pmc/temperature", testNow)
	if len(readings) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(readings))
	}
	if readings[0].Kind != model.SensorTemperature || readings[0].Value != 22 {
		t.Errorf("got %+v, want temperature=22", readings[0])
	}
}

func TestSingleSensorTopicKeyFallbacks(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"own name", `{"moisture": 41}`},
		{"full topic", `{"pmc/moisture": 41}`},
		{"trailing segment", `{"moisture": 41}`},
		{"string value", `{"moisture": "41"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			readings := StreamReadings([]byte(tc.payload), "pmc/moisture", testNow)
			if len(readings) != 1 || readings[0].Value != 41 {
				t.Fatalf("payload %s: got %+v", tc.payload, readings)
			}
		})
	}
}

func TestEmbeddedTopicWinsOverSubscriptionTopic(t *testing.T) {
	raw := []byte(`{"topic":"pmc/light","payload":{"light":812}}`)
	readings := StreamReadings(raw, "pmc/temperature", testNow)
	if len(readings) != 1 || readings[0].Kind != model.SensorLight || readings[0].Value != 812 {
		t.Fatalf("got %+v, want single light=812", readings)
	}
}

func TestStringEncodedPayload(t *testing.T) {
	raw := []byte(`{"topic":"pmc/battery","payload":"{\"battery\": 87}"}`)
	readings := StreamReadings(raw, "", testNow)
	if len(readings) != 1 || readings[0].Kind != model.SensorBattery || readings[0].Value != 87 {
		t.Fatalf("got %+v, want single battery=87", readings)
	}
}

func TestMessageTimestampPreferred(t *testing.T) {
	raw := []byte(`{"timestamp":"2026-08-30T09:30:00Z","moisture":33}`)
	readings := StreamReadings(raw, "", testNow)
	if len(readings) != 1 {
		t.Fatalf("got %d readings", len(readings))
	}
	want := time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC)
	if !readings[0].Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", readings[0].Timestamp, want)
	}
}

func TestNoTopicFallbackScansKeys(t *testing.T) {
	readings := StreamReadings([]byte(`{"humidity":60,"light":300}`), "", testNow)
	if len(readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(readings))
	}
}

func TestUnrecognizedDroppedSilently(t *testing.T) {
	cases := [][]byte{
		[]byte(`{"voltage": 3.3}`),
		[]byte(`not json at all`),
		[]byte(`{"moisture": "wet"}`),
		[]byte(`[1,2,3]`),
	}
	for _, raw := range cases {
		if readings := StreamReadings(raw, "", testNow); len(readings) != 0 {
			t.Errorf("payload %s: expected drop, got %+v", raw, readings)
		}
	}
}

func TestStateEventsPowerAndMode(t *testing.T) {
	events := StateEvents([]byte(`{"power":"on","mode":"AUTO"}`), testNow)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != model.EventPumpStatus || events[0].Status != model.PumpOn {
		t.Errorf("status event = %+v", events[0])
	}
	if events[1].Kind != model.EventPumpMode || events[1].Mode != model.ModeAuto {
		t.Errorf("mode event = %+v", events[1])
	}
}

func TestStateEventKeyAliases(t *testing.T) {
	for _, raw := range []string{
		`{"status":"OFF"}`,
		`{"pumpStatus":"off"}`,
		`{"pump":"Off"}`,
	} {
		events := StateEvents([]byte(raw), testNow)
		if len(events) != 1 || events[0].Status != model.PumpOff {
			t.Errorf("payload %s: got %+v, want single OFF", raw, events)
		}
	}
}

func TestStateTopicNeverEmitsReadings(t *testing.T) {
	// A sensor batch arriving mislabeled on the state path must not produce
	// pump mutations.
	events := StateEvents([]byte(`{"temp":22,"humidity":55,"moisture":30}`), testNow)
	if len(events) != 0 {
		t.Fatalf("sensor keys on state path produced %+v", events)
	}
}

func TestStateEventInvalidValuesDropped(t *testing.T) {
	if events := StateEvents([]byte(`{"power":"maybe","mode":"turbo"}`), testNow); len(events) != 0 {
		t.Errorf("invalid values produced %+v", events)
	}
}
