package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// BytesPerSample for the signed 16-bit little-endian PCM used everywhere in the pipeline.
	BytesPerSample = 2

	// SilenceSamplesPerChannel is the size of the failure sentinel frame.
	SilenceSamplesPerChannel = 80

	ErrorRequestIDPrefix = "error-"
)

// AudioFrame is a slice of 16-bit little-endian PCM as the voice pipeline consumes it.
type AudioFrame struct {
	SamplesPerChannel int
	SampleRate        int
	NumChannels       int
	Data              []byte
}

// NewAudioFrame wraps pcm and derives SamplesPerChannel from its byte length.
func NewAudioFrame(pcm []byte, sampleRate int, numChannels int) AudioFrame {
	return AudioFrame{
		SamplesPerChannel: SamplesPerChannel(len(pcm), numChannels),
		SampleRate:        sampleRate,
		NumChannels:       numChannels,
		Data:              pcm,
	}
}

// SamplesPerChannel is byteLength / (2 * numChannels), rounded down.
func SamplesPerChannel(byteLength int, numChannels int) int {
	if numChannels <= 0 {
		return 0
	}
	return byteLength / (BytesPerSample * numChannels)
}

// Duration of the frame when played at its sample rate.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SamplesPerChannel) * time.Second / time.Duration(f.SampleRate)
}

// SynthesizedAudio pairs a frame with the id of the synthesis request that produced it.
type SynthesizedAudio struct {
	Frame     AudioFrame
	RequestID string
}

// IsError reports whether the unit is a failure sentinel.
func (s SynthesizedAudio) IsError() bool {
	return strings.HasPrefix(s.RequestID, ErrorRequestIDPrefix)
}

// NewRequestID returns prefix followed by 8 random hex characters.
func NewRequestID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewSilenceSentinel is the unit emitted instead of speech whenever synthesis fails,
// so consumers always get at least one frame per request.
func NewSilenceSentinel(sampleRate int, numChannels int) SynthesizedAudio {
	if numChannels <= 0 {
		numChannels = 1
	}
	data := make([]byte, SilenceSamplesPerChannel*BytesPerSample*numChannels)
	return SynthesizedAudio{
		Frame:     NewAudioFrame(data, sampleRate, numChannels),
		RequestID: NewRequestID(ErrorRequestIDPrefix),
	}
}
