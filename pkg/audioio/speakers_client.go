package audioio

import (
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const speakersPollInterval = 5 * time.Millisecond

// speakers owns the process wide oto context and hands out one player per request.
// A new request can only start once the previous player was released.
type speakers struct {
	otoContext *oto.Context

	mu      sync.Mutex
	current *speakerSession
}

// speakerSession is the life of one player: created by Play, watched until it runs dry
// or gets stopped, then closed.
type speakerSession struct {
	requestID string
	player    *oto.Player
	startTime time.Time

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// NewSpeakers opens the default output for S16LE audio. oto allows one context per process.
func NewSpeakers(sampleRate int, numChannels int) (OutputDevice, error) {
	log.Info().Int("sample_rate", sampleRate).Int("num_channels", numChannels).Msg("opening speakers, waiting for the device")
	otoCtx, readyChan, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: numChannels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot create oto context")
	}
	<-readyChan // about 200ms on most machines
	log.Info().Msg("speakers ready")

	return &speakers{otoContext: otoCtx}, nil
}

func (s *speakers) Play(requestID string, audio io.Reader) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return nil, errors.Errorf("speakers still busy with %s, wait for it or call Stop", s.current.requestID)
	}

	session := &speakerSession{
		requestID: requestID,
		player:    s.otoContext.NewPlayer(audio),
		startTime: time.Now(),
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	session.player.Play()
	s.current = session
	go s.watch(session)

	log.Debug().Str("request_id", requestID).Msg("speakers playing")
	return session.done, nil
}

func (s *speakers) Stop() error {
	s.mu.Lock()
	session := s.current
	s.mu.Unlock()
	if session == nil {
		log.Debug().Msg("speakers already idle")
		return nil
	}

	log.Debug().Str("request_id", session.requestID).Msg("stopping speakers")
	session.stopOnce.Do(func() { close(session.stopped) })
	<-session.done
	return nil
}

// watch polls the player until it ran dry or Stop was called, then releases it.
func (s *speakers) watch(session *speakerSession) {
	ticker := time.NewTicker(speakersPollInterval)
	defer ticker.Stop()

	interrupted := false
	for !interrupted && session.player.IsPlaying() {
		select {
		case <-session.stopped:
			session.player.Pause()
			interrupted = true
		case <-ticker.C:
		}
	}

	if err := session.player.Close(); err != nil {
		log.Error().Err(err).Str("request_id", session.requestID).Msg("cannot close player")
	}
	s.mu.Lock()
	if s.current == session {
		s.current = nil
	}
	s.mu.Unlock()
	close(session.done)

	log.Debug().Str("request_id", session.requestID).Bool("interrupted", interrupted).Dur("playback_duration", time.Since(session.startTime)).Msg("speakers released player")
}
