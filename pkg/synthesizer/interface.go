package synthesizer

import (
	"context"
	"time"

	"github.com/dengfengjiang77/mangoesai/pkg/events"
	"github.com/dengfengjiang77/mangoesai/pkg/models"
)

type Capabilities struct {
	// Streaming means text can be pushed incrementally and audio is produced while it arrives.
	Streaming bool
}

const (
	EventSynthesisStarted  = "synthesis_started"
	EventSynthesisFinished = "synthesis_finished"
	EventSynthesisFailed   = "synthesis_failed"
)

// SynthesisEvent describes one synthesis request. RequestID is the correlation id
// carried by the audio the request produced.
type SynthesisEvent struct {
	Provider  string
	RequestID string
	Text      string
	Frames    int
	Bytes     int
	Elapsed   time.Duration
	Err       error
}

type Synthesizer interface {
	// Synthesize never fails: it yields at least one unit (a silence sentinel when the
	// provider could not be used) and closes the channel when the audio is over.
	Synthesize(ctx context.Context, text string) <-chan models.SynthesizedAudio
	// Stream opens a single-use push-text / pull-audio session.
	Stream(ctx context.Context) *Stream
	Capabilities() Capabilities
	SampleRate() int
	NumChannels() int
	Events() *events.Emitter[SynthesisEvent]
}
