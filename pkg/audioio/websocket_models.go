package audioio

import (
	"fmt"
	"regexp"
)

// Events of the TTS websocket protocol.
const (
	// inbound
	EventText  = "text"
	EventFlush = "flush"
	EventEnd   = "end"
	// outbound
	EventMedia = "media"
	EventStop  = "stop"
	EventError = "error"
)

// TTSMessage is the base struct for all websocket events in both directions.
//
//	-> {"event": "text", "text": "Hello there."}
//	-> {"event": "flush"}
//	-> {"event": "end"}
//	<- {"event": "media", "sequenceNumber": 1, "requestId": "tx-123", "media": {...}}
//	<- {"event": "stop", "sequenceNumber": 9, "stop": {"frames": 8, "failedRequests": 0}}
type TTSMessage struct {
	Event          string `json:"event"`
	SequenceNumber int    `json:"sequenceNumber,omitempty"`

	// Payload for event = "text"
	Text string `json:"text,omitempty"`

	RequestID string           `json:"requestId,omitempty"`
	Media     *TTSMediaPayload `json:"media,omitempty"`
	Stop      *TTSStopPayload  `json:"stop,omitempty"`
	Error     string           `json:"error,omitempty"`
}

type TTSMediaPayload struct {
	SampleRate        int `json:"sampleRate"`
	Channels          int `json:"channels"`
	SamplesPerChannel int `json:"samplesPerChannel"`
	// Silence marks the frame a failed synthesis was replaced with.
	Silence bool `json:"silence,omitempty"`
	// This is base64 encoded 16-bit little-endian PCM.
	Payload string `json:"payload"`
}

type TTSStopPayload struct {
	Frames         int `json:"frames"`
	FailedRequests int `json:"failedRequests"`
}

var payloadRegex = regexp.MustCompile(`"payload":\s*"(.*?)"`)

// truncatePayload shortens the "payload" field in a JSON string to the first 100 characters.
func truncatePayload(jsonStr string) string {
	return payloadRegex.ReplaceAllStringFunc(jsonStr, func(m string) string {
		matches := payloadRegex.FindStringSubmatch(m)
		if len(matches) > 1 {
			payload := matches[1]
			if len(payload) > 100 {
				return fmt.Sprintf(`"payload": "%.100s ... (truncated)"`, payload)
			}
		}
		return m
	})
}
