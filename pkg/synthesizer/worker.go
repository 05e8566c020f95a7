package synthesizer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dengfengjiang77/mangoesai/pkg/audio_utils"
	"github.com/dengfengjiang77/mangoesai/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// MinTextBufferForTtsCharLength is mostly to prevent saying like "1,"
// in other cases it's best to just start as soon as first chat completions arrive.
const MinTextBufferForTtsCharLength = 3

func isPunctuationMarkAtEnd(s string) bool {
	s = strings.TrimRight(s, " \t\n")
	if len(s) == 0 {
		return false
	}
	lastChar := s[len(s)-1]
	switch lastChar {
	case ',', '.', '?', '!', ';', ':':
		return true
	default:
		return false
	}
}

// TextToSpeechRoutine feeds chat completion deltas from textChan into a stream of tts,
// flushing at punctuation, and forwards the audio into audioOutputChan. audioOutputChan
// is closed once all text was spoken or ctx is done. recorder may be nil.
func TextToSpeechRoutine(ctx context.Context, tts Synthesizer, textChan <-chan string, audioOutputChan chan<- models.SynthesizedAudio, recorder *WavRecorder) error {
	log.Info().Msg("TextToSpeechRoutine started")
	defer close(audioOutputChan)

	stream := tts.Stream(ctx)
	defer stream.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stream.EndInput()
		var buffer string
		for {
			select {
			case text, ok := <-textChan:
				if ok {
					buffer += text
				}
				trimmed := strings.TrimSpace(buffer)
				if (len(trimmed) > MinTextBufferForTtsCharLength && isPunctuationMarkAtEnd(buffer)) || (!ok && trimmed != "") {
					stream.PushText(trimmed)
					buffer = "" // Clear the buffer after processing
					if err := stream.Flush(gctx); err != nil {
						return err
					}
				}
				if !ok {
					return nil
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		frames := stream.Frames()
		i := 0
		for frames.Next(gctx) {
			audio := frames.Audio()
			i++
			if i == 1 {
				log.Info().Str("request_id", audio.RequestID).Msg("first synthesized frame")
			}
			recorder.Add(audio)
			select {
			case audioOutputChan <- audio:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		recorder.Flush()
		return frames.Err()
	})

	err := g.Wait()
	log.Info().Err(err).Msg("TextToSpeechRoutine ended")
	return err
}

// WavRecorder dumps the audio of every synthesis request into its own wav file, handy
// when debugging what the provider actually sent.
type WavRecorder struct {
	fs  afero.Fs
	dir string

	count     int
	requestID string
	frame     models.AudioFrame
	pcm       []byte
}

func NewWavRecorder(fs afero.Fs, dir string) *WavRecorder {
	return &WavRecorder{fs: fs, dir: dir}
}

// Add appends audio, writing out the previous request once the request id changes.
func (r *WavRecorder) Add(audio models.SynthesizedAudio) {
	if r == nil {
		return
	}
	if audio.RequestID != r.requestID {
		r.Flush()
		r.requestID = audio.RequestID
		r.frame = audio.Frame
	}
	r.pcm = append(r.pcm, audio.Frame.Data...)
}

// Flush writes out whatever is pending.
func (r *WavRecorder) Flush() {
	if r == nil || len(r.pcm) == 0 {
		return
	}
	r.count++
	path := filepath.Join(r.dir, fmt.Sprintf("tts-%d-%s.wav", r.count, r.requestID))
	err := audio_utils.WriteWav(r.fs, path, r.pcm, uint32(r.frame.SampleRate), uint32(r.frame.NumChannels))
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("cannot write tts debug wav")
	}
	r.pcm = nil
}
