package audioio

import (
	"context"
	"time"

	"github.com/dengfengjiang77/mangoesai/internal/utils"
	"github.com/dengfengjiang77/mangoesai/pkg/models"
	"github.com/rs/zerolog/log"
)

// PlayAudioChunksRoutine plays synthesized audio as it arrives. All frames of one
// request id go through one pipe into one Play call, so playback starts with the first
// frame and the next request only starts once the previous one was heard.
// It returns when audioChan is closed (after the last request played) or ctx is done.
func PlayAudioChunksRoutine(ctx context.Context, outputDevice OutputDevice, audioChan <-chan models.SynthesizedAudio) error {
	log.Info().Msgf("playAudioChunksRoutine started")

	var current *playback
	finish := func() {
		if current != nil {
			current.finish()
			current = nil
		}
	}
	defer finish()

	requests := 0
	for {
		var audio models.SynthesizedAudio
		var ok bool
		select {
		case audio, ok = <-audioChan:
		case <-ctx.Done():
			dbg(outputDevice.Stop())
			return ctx.Err()
		}
		if !ok {
			log.Info().Int("requests", requests).Msgf("playAudioChunksRoutine finished")
			return nil
		}

		if current == nil || current.requestID != audio.RequestID {
			finish()
			requests++
			if audio.IsError() {
				log.Warn().Str("request_id", audio.RequestID).Msg("playing silence for a failed synthesis")
			}
			next, err := startPlayback(outputDevice, audio.RequestID)
			if err != nil {
				log.Error().Err(err).Str("request_id", audio.RequestID).Msg("cannot start playback, skipping request")
				continue
			}
			current = next
		}
		if _, err := current.pipe.Write(audio.Frame.Data); err != nil {
			log.Error().Err(err).Str("request_id", audio.RequestID).Msg("cannot queue audio for playback")
		}
	}
}

type playback struct {
	requestID string
	pipe      *utils.BytePipe
	done      <-chan struct{}
	startTime time.Time
}

func startPlayback(outputDevice OutputDevice, requestID string) (*playback, error) {
	pipe := utils.NewBytePipe()
	done, err := outputDevice.Play(requestID, pipe)
	if err != nil {
		dbg(pipe.Close())
		return nil, err
	}
	log.Debug().Str("request_id", requestID).Msg("playback started")
	return &playback{requestID: requestID, pipe: pipe, done: done, startTime: time.Now()}, nil
}

// finish lets the player drain the pipe and waits until it is done.
func (p *playback) finish() {
	dbg(p.pipe.Close())
	if p.done != nil {
		<-p.done
	}
	log.Debug().Str("request_id", p.requestID).Dur("duration", time.Since(p.startTime)).Msg("player DONE")
}
