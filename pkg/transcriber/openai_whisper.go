package transcriber

import (
	"context"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

// maxPromptWords keeps the previous words under the ~224 tokens Whisper looks at.
const maxPromptWords = 150

// OpenAIWhisper transcribes recorded phrases with the OpenAI transcription endpoint.
type OpenAIWhisper struct {
	client   *openai.Client
	model    string
	language string
}

var _ Transcriber = (*OpenAIWhisper)(nil)

type WhisperOption func(*OpenAIWhisper)

func WithWhisperModel(model string) WhisperOption {
	return func(o *OpenAIWhisper) {
		if model != "" {
			o.model = model
		}
	}
}

// WithWhisperLanguage pins the spoken language (ISO-639-1), which also stops Whisper
// from drifting into other languages on silence.
func WithWhisperLanguage(language string) WhisperOption {
	return func(o *OpenAIWhisper) { o.language = language }
}

func NewOpenAIWhisper(client *openai.Client, opts ...WhisperOption) *OpenAIWhisper {
	o := &OpenAIWhisper{client: client, model: openai.Whisper1}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SendAudio transcribes one phrase. prompt are the words said before it, they help
// Whisper keep names and spelling consistent.
func (o *OpenAIWhisper) SendAudio(ctx context.Context, input io.Reader, fileExtension string, prompt string) (string, error) {
	if fileExtension == "" {
		fileExtension = "wav"
	}
	startTime := time.Now()
	req := openai.AudioRequest{
		Model: o.model,
		// Nothing is read from disk, the name only tells the API the container.
		FilePath: "phrase." + fileExtension,
		Reader:   input,
		Prompt:   lastWords(prompt, maxPromptWords),
		Language: o.language,
	}

	resp, err := o.client.CreateTranscription(ctx, req)
	if err != nil {
		return "", errors.Wrapf(err, "cannot transcribe %s phrase with %s", fileExtension, o.model)
	}

	text := cleanTranscription(resp.Text)
	if text != strings.TrimSpace(resp.Text) {
		log.Info().Str("original_text", resp.Text).Str("processed_text", text).Msg("transcription post-processing removed some text")
	}
	log.Debug().Str("model", o.model).Str("transcription", text).Dur("time_elapsed", time.Since(startTime)).Msg("received transcription")
	return text, nil
}

func lastWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}

var nonASCII = regexp.MustCompile(`[^\x00-\x7F]+`)

// cleanTranscription drops what Whisper makes up on silence, mostly non-English text
// and broadcaster credits like "MBC 뉴스 이덕영입니다.", and normalizes whitespace.
func cleanTranscription(text string) string {
	text = nonASCII.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "MBC", "")
	return strings.Join(strings.Fields(text), " ")
}
