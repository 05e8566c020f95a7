package synthesizer

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/dengfengjiang77/mangoesai/pkg/audio_utils"
	"github.com/dengfengjiang77/mangoesai/pkg/events"
	"github.com/dengfengjiang77/mangoesai/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	// ErrProviderRejected wraps non-2xx answers of the provider.
	ErrProviderRejected = errors.New("provider rejected request")
	// ErrMissingRequestID is returned when a successful answer does not say where to fetch the audio.
	ErrMissingRequestID = errors.New("provider response has no request id")
	// ErrEmptyAudio is returned when the provider closed the audio stream without any audio.
	ErrEmptyAudio = errors.New("provider returned no audio")
)

// openFunc starts a synthesis and hands back the correlation id plus the audio body.
type openFunc func(ctx context.Context, text string) (requestID string, body io.ReadCloser, err error)

// httpStreamer is the part shared by the HTTP providers: it turns a streamed
// audio body into frames and every failure into a silence sentinel.
type httpStreamer struct {
	provider    string
	client      *http.Client
	limiter     *rate.Limiter
	encoding    audio_utils.StreamEncoding
	sampleRate  int
	numChannels int
	chunkSize   int
	events      *events.Emitter[SynthesisEvent]
}

func newHTTPStreamer(provider string, client *http.Client, requestsPerSecond float64, encoding audio_utils.StreamEncoding, sampleRate, numChannels, chunkSize int) httpStreamer {
	if client == nil {
		client = &http.Client{}
	}
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return httpStreamer{
		provider:    provider,
		client:      client,
		limiter:     limiter,
		encoding:    encoding,
		sampleRate:  sampleRate,
		numChannels: numChannels,
		chunkSize:   chunkSize,
		events:      events.NewEmitter[SynthesisEvent](),
	}
}

func (h *httpStreamer) Capabilities() Capabilities {
	return Capabilities{Streaming: true}
}

func (h *httpStreamer) SampleRate() int { return h.sampleRate }

func (h *httpStreamer) NumChannels() int { return h.numChannels }

func (h *httpStreamer) Events() *events.Emitter[SynthesisEvent] { return h.events }

// run does the synthesis on its own goroutine. The returned channel is unbuffered,
// so the body is only read as fast as the consumer takes frames.
func (h *httpStreamer) run(ctx context.Context, text string, open openFunc) <-chan models.SynthesizedAudio {
	out := make(chan models.SynthesizedAudio)
	go func() {
		defer close(out)
		startTime := time.Now()

		send := func(unit models.SynthesizedAudio) bool {
			select {
			case out <- unit:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(requestID string, frames int, err error) {
			sentinel := models.NewSilenceSentinel(h.sampleRate, h.numChannels)
			log.Error().Err(err).Str("provider", h.provider).Str("request_id", requestID).Str("sentinel_id", sentinel.RequestID).Int("frames_before_failure", frames).Msg("synthesis failed, emitting silence")
			h.events.Emit(EventSynthesisFailed, SynthesisEvent{
				Provider:  h.provider,
				RequestID: sentinel.RequestID,
				Text:      text,
				Frames:    frames,
				Elapsed:   time.Since(startTime),
				Err:       err,
			})
			send(sentinel)
		}

		if h.limiter != nil {
			if err := h.limiter.Wait(ctx); err != nil {
				fail("", 0, errors.Wrap(err, "rate limiter"))
				return
			}
		}

		requestID, body, err := open(ctx, text)
		if err != nil {
			fail(requestID, 0, err)
			return
		}
		defer func() { dbg(body.Close()) }()

		log.Debug().Str("provider", h.provider).Str("request_id", requestID).Dur("request_time", time.Since(startTime)).Msg("audio stream opened")
		h.events.Emit(EventSynthesisStarted, SynthesisEvent{Provider: h.provider, RequestID: requestID, Text: text})

		decoder, err := audio_utils.NewStreamDecoder(h.encoding, body, h.sampleRate, h.numChannels, h.chunkSize)
		if err != nil {
			fail(requestID, 0, err)
			return
		}

		frames, byteCount := 0, 0
		for {
			pcm, err := decoder.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				fail(requestID, frames, errors.Wrap(err, "cannot read audio stream"))
				return
			}
			unit := models.SynthesizedAudio{
				Frame:     models.NewAudioFrame(pcm, decoder.SampleRate(), decoder.NumChannels()),
				RequestID: requestID,
			}
			if !send(unit) {
				log.Debug().Str("provider", h.provider).Str("request_id", requestID).Int("frames", frames).Msg("consumer gone, abandoning audio stream")
				return
			}
			frames++
			byteCount += len(pcm)
		}

		if frames == 0 {
			fail(requestID, 0, ErrEmptyAudio)
			return
		}

		log.Debug().Str("provider", h.provider).Str("request_id", requestID).Int("frames", frames).Int("bytes", byteCount).Dur("elapsed", time.Since(startTime)).Msg("synthesis done")
		h.events.Emit(EventSynthesisFinished, SynthesisEvent{
			Provider:  h.provider,
			RequestID: requestID,
			Text:      text,
			Frames:    frames,
			Bytes:     byteCount,
			Elapsed:   time.Since(startTime),
		})
	}()
	return out
}

// readErrorBody drains a failed response so the status and provider message can be logged together.
func readErrorBody(resp *http.Response, endpoint string) error {
	errMsg, _ := io.ReadAll(resp.Body)
	return errors.Wrapf(ErrProviderRejected, "received non-2xx status %d from %s: %s", resp.StatusCode, endpoint, errMsg)
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}
