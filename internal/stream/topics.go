package stream

import "strings"

// Topic layout, per device:
//
//	protonest/{device}/stream/...   sensor readings (single or batch)
//	protonest/{device}/state/...    pump status / mode, command destination
const topicRoot = "protonest"

const (
	ChannelStream = "stream"
	ChannelState  = "state"
)

func streamTopic(deviceID string) string {
	return topicRoot + "/" + deviceID + "/" + ChannelStream + "/#"
}

func stateTopic(deviceID string) string {
	return topicRoot + "/" + deviceID + "/" + ChannelState + "/#"
}

func pumpCommandTopic(deviceID string) string {
	return topicRoot + "/" + deviceID + "/" + ChannelState + "/pmc/pump"
}

// splitTopic extracts the channel and per-sensor remainder from a full
// broker topic, e.g. "protonest/GH-A1/stream/pmc/temperature" for device
// GH-A1 yields ("stream", "pmc/temperature").
func splitTopic(deviceID, full string) (channel, rest string) {
	prefix := topicRoot + "/" + deviceID + "/"
	if !strings.HasPrefix(full, prefix) {
		return "", ""
	}
	trimmed := strings.TrimPrefix(full, prefix)
	if i := strings.Index(trimmed, "/"); i >= 0 {
		return trimmed[:i], trimmed[i+1:]
	}
	return trimmed, ""
}

// qosFor keeps state-bearing topics at QoS 1 and high-volume sensor streams
// at QoS 0.
func qosFor(topic string) byte {
	if strings.Contains(topic, "/"+ChannelState+"/") || strings.HasSuffix(topic, "/"+ChannelState+"/#") {
		return 1
	}
	return 0
}
