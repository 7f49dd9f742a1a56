package stream

import "testing"

func TestSplitTopic(t *testing.T) {
	cases := []struct {
		full        string
		wantChannel string
		wantRest    string
	}{
		{"protonest/GH-A1/stream/pmc/temperature", ChannelStream, "pmc/temperature"},
		{"protonest/GH-A1/state/pmc/pump", ChannelState, "pmc/pump"},
		{"protonest/GH-A1/stream", ChannelStream, ""},
		{"protonest/GH-B2/stream/pmc/light", "", ""}, // wrong device
		{"other/GH-A1/stream/x", "", ""},
	}
	for _, tc := range cases {
		channel, rest := splitTopic("GH-A1", tc.full)
		if channel != tc.wantChannel || rest != tc.wantRest {
			t.Errorf("splitTopic(GH-A1, %q) = (%q, %q), want (%q, %q)",
				tc.full, channel, rest, tc.wantChannel, tc.wantRest)
		}
	}
}

func TestQoSPerChannel(t *testing.T) {
	if got := qosFor(streamTopic("GH-A1")); got != 0 {
		t.Errorf("stream topic qos = %d, want 0", got)
	}
	if got := qosFor(stateTopic("GH-A1")); got != 1 {
		t.Errorf("state topic qos = %d, want 1", got)
	}
}

func TestPumpCommandTopic(t *testing.T) {
	if got := pumpCommandTopic("GH-A1"); got != "protonest/GH-A1/state/pmc/pump" {
		t.Errorf("pumpCommandTopic = %q", got)
	}
}
