package synthesizer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/dengfengjiang77/mangoesai/pkg/audio_utils"
	"github.com/dengfengjiang77/mangoesai/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	OpenAIDefaultBaseURL = "https://api.openai.com/v1"
	// OpenAISampleRate of the "pcm" response format.
	OpenAISampleRate = 24000
)

type OpenAITTSConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Voice             string
	Speed             float64
	ChunkSize         int
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

func DefaultOpenAITTSConfig() OpenAITTSConfig {
	return OpenAITTSConfig{
		BaseURL:   OpenAIDefaultBaseURL,
		Model:     "tts-1",
		Voice:     "echo",
		Speed:     1.0,
		ChunkSize: audio_utils.DefaultChunkSize,
	}
}

// OpenAITTS streams raw pcm from the OpenAI speech endpoint.
type OpenAITTS struct {
	httpStreamer
	cfg OpenAITTSConfig
}

// TTSPayload for the audio/speech endpoint
type TTSPayload struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

func NewOpenAITTS(cfg OpenAITTSConfig) (*OpenAITTS, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is not set")
	}
	defaults := DefaultOpenAITTSConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Voice == "" {
		cfg.Voice = defaults.Voice
	}
	if cfg.Speed <= 0 {
		cfg.Speed = defaults.Speed
	}
	return &OpenAITTS{
		httpStreamer: newHTTPStreamer("openai", cfg.HTTPClient, cfg.RequestsPerSecond, audio_utils.EncodingRaw, OpenAISampleRate, 1, cfg.ChunkSize),
		cfg:          cfg,
	}, nil
}

func (o *OpenAITTS) Synthesize(ctx context.Context, text string) <-chan models.SynthesizedAudio {
	log.Debug().Str("input", text).Float64("speed", o.cfg.Speed).Msg("openai synthesize start")
	return o.run(ctx, text, o.open)
}

func (o *OpenAITTS) Stream(ctx context.Context) *Stream {
	return NewStream(ctx, o.Synthesize)
}

func (o *OpenAITTS) open(ctx context.Context, text string) (string, io.ReadCloser, error) {
	reqBody, err := json.Marshal(TTSPayload{
		Model:          o.cfg.Model,
		Input:          text,
		Voice:          o.cfg.Voice,
		ResponseFormat: "pcm",
		Speed:          o.cfg.Speed,
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "cannot encode speech request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/audio/speech", bytes.NewReader(reqBody))
	if err != nil {
		return "", nil, errors.Wrap(err, "cannot create speech request")
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", nil, errors.Wrap(err, "speech request failed")
	}
	if !isSuccess(resp.StatusCode) {
		defer func() { dbg(resp.Body.Close()) }()
		return "", nil, readErrorBody(resp, "audio/speech")
	}

	requestID := resp.Header.Get("x-request-id")
	if requestID == "" {
		requestID = models.NewRequestID("openai-")
	}
	return requestID, resp.Body, nil
}
