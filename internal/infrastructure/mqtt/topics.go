package mqtt

import "fmt"

// TopicPrefix roots every topic the bench publishes or subscribes to.
const TopicPrefix = "benchtop"

// Topics builds the bench's MQTT topic names.
//
//	benchtop/command             inbound command requests
//	benchtop/ack/{request_id}    per-request outcome
//	benchtop/telemetry           one message per poll cycle
//	benchtop/reading             persisted, classified readings
//	benchtop/waveform/preview    sampled period after a generator change
//	benchtop/system/status       retained online/offline status
type Topics struct{}

// Command is the topic the command front-end subscribes to.
func (Topics) Command() string {
	return TopicPrefix + "/command"
}

// Ack returns the acknowledgement topic for one request.
//
// Example: benchtop/ack/6f1c8e1a-...
func (Topics) Ack(requestID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, requestID)
}

// Telemetry carries every poll snapshot.
func (Topics) Telemetry() string {
	return TopicPrefix + "/telemetry"
}

// Reading carries each classified reading after it is stored.
func (Topics) Reading() string {
	return TopicPrefix + "/reading"
}

// WaveformPreview carries the sampled preview of the generator output.
func (Topics) WaveformPreview() string {
	return TopicPrefix + "/waveform/preview"
}

// SystemStatus is the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}
