package synthesizer

import (
	"context"
	"strings"
	"sync"

	"github.com/dengfengjiang77/mangoesai/pkg/models"
	"github.com/rs/zerolog/log"
)

// SynthesizeFunc starts the synthesis of text; see Synthesizer.Synthesize.
type SynthesizeFunc func(ctx context.Context, text string) <-chan models.SynthesizedAudio

// Stream is a single-use text-in / audio-out session, typically one per conversation turn.
//
// The producer side (PushText, Flush, EndInput, Close) and the one consumer obtained
// from Frames may live on different goroutines.
type Stream struct {
	synthesize SynthesizeFunc
	ctx        context.Context
	cancel     context.CancelFunc

	mu        sync.Mutex
	buffer    []string
	queue     []*segment
	inputDone bool
	closed    bool
	consumed  bool

	// wake has room for one pending signal, so a signal sent while the consumer is
	// busy is not lost.
	wake chan struct{}
}

// segment is the audio of one flush.
type segment struct {
	first *models.SynthesizedAudio
	units <-chan models.SynthesizedAudio
}

// NewStream binds a stream to synthesize. Cancelling ctx (or calling Close) abandons
// in-flight synthesis requests.
func NewStream(ctx context.Context, synthesize SynthesizeFunc) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	return &Stream{
		synthesize: synthesize,
		ctx:        ctx,
		cancel:     cancel,
		wake:       make(chan struct{}, 1),
	}
}

// PushText buffers a fragment until the next Flush. Empty fragments are ignored.
// It does not wake a waiting iterator; an iterator that looks for work while text is
// buffered synthesizes it without waiting for the flush.
func (s *Stream) PushText(fragment string) {
	if fragment == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		log.Warn().Str("text", fragment).Msg("text pushed into a closed stream, dropping")
		return
	}
	log.Debug().Str("text", fragment).Msg("pushing text input")
	s.buffer = append(s.buffer, fragment)
}

// Flush sends the buffered fragments, joined by a space, as one synthesis request and
// waits until its first unit is ready. It is a no-op when nothing is buffered.
// The audio is delivered through Frames in flush order.
func (s *Stream) Flush(ctx context.Context) error {
	text, ok := s.takeBuffer()
	if !ok {
		return nil
	}
	log.Info().Str("text", text).Msg("flushing paragraph for synthesis")

	seg := &segment{units: s.synthesize(s.ctx, text)}
	var err error
	select {
	case first, ok := <-seg.units:
		if ok {
			seg.first = &first
		}
	case <-ctx.Done():
		// The request carries on, its audio still reaches the consumer.
		err = ctx.Err()
	}

	s.mu.Lock()
	s.queue = append(s.queue, seg)
	s.mu.Unlock()
	s.signal()
	return err
}

// EndInput marks the end of the text for this stream. Buffered text is still synthesized.
func (s *Stream) EndInput() {
	s.mu.Lock()
	if !s.inputDone {
		log.Debug().Msg("ending input, no further text will be received")
	}
	s.inputDone = true
	s.mu.Unlock()
	s.signal()
}

// Close ends the stream for good: unflushed text is dropped, in-flight requests are
// abandoned (best effort) and the consumer stops. Safe to call more than once.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	log.Debug().Int("dropped_fragments", len(s.buffer)).Msg("closing synthesis stream")
	s.closed = true
	s.inputDone = true
	s.buffer = nil
	s.queue = nil
	s.mu.Unlock()

	s.cancel()
	s.signal()
}

// Frames returns the consumer side of the stream. There is exactly one consumer:
// later calls get an iterator that is already exhausted.
func (s *Stream) Frames() *AudioIterator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumed {
		log.Warn().Msg("stream frames requested twice, returning an exhausted iterator")
		return &AudioIterator{done: true}
	}
	s.consumed = true
	return &AudioIterator{stream: s}
}

func (s *Stream) takeBuffer() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.buffer) == 0 {
		return "", false
	}
	text := strings.Join(s.buffer, " ")
	s.buffer = nil
	return text, true
}

func (s *Stream) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

type work int

const (
	workWait work = iota
	workSegment
	workText
	workDone
)

// nextWork decides what the consumer does next.
func (s *Stream) nextWork() (work, *segment, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return workDone, nil, ""
	case len(s.queue) > 0:
		seg := s.queue[0]
		s.queue = s.queue[1:]
		return workSegment, seg, ""
	case len(s.buffer) > 0:
		text := strings.Join(s.buffer, " ")
		s.buffer = nil
		return workText, nil, text
	case s.inputDone:
		return workDone, nil, ""
	default:
		return workWait, nil, ""
	}
}

// AudioIterator pulls synthesized audio out of a Stream. It is single pass and is not
// safe for concurrent use.
//
//	frames := stream.Frames()
//	for frames.Next(ctx) {
//		play(frames.Audio())
//	}
//	if err := frames.Err(); err != nil { ... }
type AudioIterator struct {
	stream  *Stream
	current *segment
	unit    models.SynthesizedAudio
	err     error
	done    bool
}

// Next advances to the next unit. It blocks while the stream is open but has nothing
// to synthesize, and returns false once input ended and everything was delivered,
// once the stream is closed, or when ctx is done.
func (it *AudioIterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	for {
		if it.current != nil {
			if it.current.first != nil {
				it.unit = *it.current.first
				it.current.first = nil
				return true
			}
			select {
			case unit, ok := <-it.current.units:
				if ok {
					it.unit = unit
					return true
				}
				it.current = nil
			case <-ctx.Done():
				return it.stop(ctx.Err())
			}
			continue
		}

		w, seg, text := it.stream.nextWork()
		switch w {
		case workSegment:
			it.current = seg
		case workText:
			log.Info().Str("text", text).Msg("synthesizing remaining buffered text")
			it.current = &segment{units: it.stream.synthesize(it.stream.ctx, text)}
		case workDone:
			log.Debug().Msg("synthesis stream drained")
			return it.stop(nil)
		case workWait:
			select {
			case <-it.stream.wake:
			case <-ctx.Done():
				return it.stop(ctx.Err())
			}
		}
	}
}

// Audio is the unit produced by the last successful Next.
func (it *AudioIterator) Audio() models.SynthesizedAudio {
	return it.unit
}

// Err is the context error that stopped the iteration, if any.
func (it *AudioIterator) Err() error {
	return it.err
}

func (it *AudioIterator) stop(err error) bool {
	it.done = true
	it.err = err
	it.current = nil
	return false
}
