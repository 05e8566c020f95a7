// Package vad finds silence in 16-bit PCM so recordings can be cut between phrases.
package vad

import (
	"encoding/binary"
	"math"

	"github.com/rs/zerolog/log"
)

// Detector is handed to whatever records audio, it is not a process-wide singleton.
type Detector interface {
	// IsSpeech reports whether the S16LE window contains speech.
	IsSpeech(pcm []byte) bool
	// LastSilenceEnd returns the byte index where the last silent window of pcm ends,
	// or -1 when there is none. The index is sample aligned.
	LastSilenceEnd(pcm []byte, sampleRate int, numChannels int) int
}

const (
	DefaultThreshold = 500.0
	DefaultWindowMS  = 20
)

// EnergyDetector treats a window as silence when its RMS is below Threshold.
type EnergyDetector struct {
	Threshold float64
	WindowMS  int
}

func NewEnergyDetector(threshold float64, windowMS int) *EnergyDetector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if windowMS <= 0 {
		windowMS = DefaultWindowMS
	}
	return &EnergyDetector{Threshold: threshold, WindowMS: windowMS}
}

func (d *EnergyDetector) IsSpeech(pcm []byte) bool {
	return RMS(pcm) >= d.Threshold
}

func (d *EnergyDetector) LastSilenceEnd(pcm []byte, sampleRate int, numChannels int) int {
	windowSize := WindowBytes(sampleRate, numChannels, d.WindowMS)
	if windowSize <= 0 || len(pcm) < windowSize {
		return -1
	}

	lastIndex := -1
	for start := 0; start+windowSize <= len(pcm); start += windowSize {
		if !d.IsSpeech(pcm[start : start+windowSize]) {
			lastIndex = start + windowSize
		}
	}
	log.Trace().Int("last_index", lastIndex).Int("data_size", len(pcm)).Int("window_size", windowSize).Float64("threshold", d.Threshold).Msg("LastSilenceEnd returned")
	return lastIndex
}

// WindowBytes is the byte length of milliseconds of S16LE audio.
func WindowBytes(sampleRate int, numChannels int, milliseconds int) int {
	samples := int(int64(milliseconds) * int64(sampleRate) / 1000)
	return samples * numChannels * 2
}

// RMS of the signed 16-bit samples in pcm. A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += sample * sample
	}
	return math.Sqrt(sum / float64(n))
}
