package audioio

import (
	"github.com/dengfengjiang77/mangoesai/pkg/vad"
	"github.com/rs/zerolog/log"
)

const (
	// Only look for a pause once this much audio is pending.
	chunkFlushAfterMs = 2000
	// Whisper: Minimum audio length is 0.1 seconds.
	chunkMinLengthMs = 250
)

// phraseChunker cuts a growing S16LE recording at the pauses the detector finds,
// so phrases can be transcribed while the user keeps talking.
type phraseChunker struct {
	detector    vad.Detector
	sampleRate  int
	numChannels int

	data       []byte
	flushedIdx int
}

func newPhraseChunker(detector vad.Detector, sampleRate int, numChannels int) *phraseChunker {
	return &phraseChunker{detector: detector, sampleRate: sampleRate, numChannels: numChannels}
}

// append adds recorded samples and returns the next phrase once a pause was found, nil otherwise.
func (c *phraseChunker) append(pcm []byte) []byte {
	c.data = append(c.data, pcm...)
	pending := c.data[c.flushedIdx:]
	if len(pending) <= vad.WindowBytes(c.sampleRate, c.numChannels, chunkFlushAfterMs) {
		return nil
	}

	candidate := c.detector.LastSilenceEnd(pending, c.sampleRate, c.numChannels)
	if candidate < 0 {
		return nil
	}
	if candidate < vad.WindowBytes(c.sampleRate, c.numChannels, chunkMinLengthMs) {
		log.Trace().Msg("not enough 'non-silence' from the beginning")
		return nil
	}

	start := c.flushedIdx
	c.flushedIdx += candidate
	log.Trace().Int("start_byte_index", start).Int("end_byte_index", c.flushedIdx).Msg("cutting phrase at silence")
	return c.data[start:c.flushedIdx]
}

// finish returns whatever was not handed out yet.
func (c *phraseChunker) finish() []byte {
	rest := c.data[c.flushedIdx:]
	c.flushedIdx = len(c.data)
	return rest
}

func (c *phraseChunker) all() []byte {
	return c.data
}
