package synthesizer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dengfengjiang77/mangoesai/pkg/audio_utils"
	"github.com/dengfengjiang77/mangoesai/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	PlayHTDefaultBaseURL     = "https://play.ht/api/v1"
	PlayHTDefaultVoice       = "Emma"
	PlayHTDefaultVoiceEngine = "Play3.0-mini-http"
	PlayHTSampleRate         = 44100
)

type PlayHTConfig struct {
	BaseURL     string
	APIKey      string
	UserID      string
	Voice       string
	VoiceEngine string
	// OutputFormat is what we ask PlayHT to produce.
	OutputFormat string
	// StreamEncoding is how the streamed bytes are read back. Keep it consistent with OutputFormat.
	StreamEncoding    audio_utils.StreamEncoding
	SampleRate        int
	NumChannels       int
	ChunkSize         int
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

func DefaultPlayHTConfig() PlayHTConfig {
	return PlayHTConfig{
		BaseURL:        PlayHTDefaultBaseURL,
		Voice:          PlayHTDefaultVoice,
		VoiceEngine:    PlayHTDefaultVoiceEngine,
		OutputFormat:   string(audio_utils.EncodingRaw),
		StreamEncoding: audio_utils.EncodingRaw,
		SampleRate:     PlayHTSampleRate,
		NumChannels:    1,
		ChunkSize:      audio_utils.DefaultChunkSize,
	}
}

// PlayHT streams speech from the PlayHT convert + stream endpoints.
type PlayHT struct {
	httpStreamer
	cfg PlayHTConfig
}

// playHTRequest is built fresh for every synthesis.
type playHTRequest struct {
	Voice       string `json:"voice"`
	Content     string `json:"content"`
	Format      string `json:"format"`
	VoiceEngine string `json:"voice_engine"`
}

type playHTConvertResponse struct {
	TranscriptionID string `json:"transcriptionId"`
}

func NewPlayHT(cfg PlayHTConfig) (*PlayHT, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("playht api key is not set")
	}
	if cfg.UserID == "" {
		return nil, errors.New("playht user id is not set")
	}
	defaults := DefaultPlayHTConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Voice == "" {
		cfg.Voice = defaults.Voice
	}
	if cfg.VoiceEngine == "" {
		cfg.VoiceEngine = defaults.VoiceEngine
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = defaults.OutputFormat
	}
	if cfg.StreamEncoding == "" {
		cfg.StreamEncoding = defaults.StreamEncoding
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaults.SampleRate
	}
	if cfg.NumChannels <= 0 {
		cfg.NumChannels = defaults.NumChannels
	}
	if cfg.OutputFormat != string(cfg.StreamEncoding) {
		log.Warn().Str("output_format", cfg.OutputFormat).Str("stream_encoding", string(cfg.StreamEncoding)).Msg("playht output format and stream encoding differ")
	}

	return &PlayHT{
		httpStreamer: newHTTPStreamer("playht", cfg.HTTPClient, cfg.RequestsPerSecond, cfg.StreamEncoding, cfg.SampleRate, cfg.NumChannels, cfg.ChunkSize),
		cfg:          cfg,
	}, nil
}

func (p *PlayHT) Synthesize(ctx context.Context, text string) <-chan models.SynthesizedAudio {
	log.Debug().Str("text", text).Str("voice", p.cfg.Voice).Msg("playht synthesize start")
	return p.run(ctx, text, p.open)
}

func (p *PlayHT) Stream(ctx context.Context) *Stream {
	return NewStream(ctx, p.Synthesize)
}

// open posts the text to /convert and opens /stream/{transcriptionId}.
func (p *PlayHT) open(ctx context.Context, text string) (string, io.ReadCloser, error) {
	payload, err := json.Marshal(playHTRequest{
		Voice:       p.cfg.Voice,
		Content:     text,
		Format:      p.cfg.OutputFormat,
		VoiceEngine: p.cfg.VoiceEngine,
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "cannot encode convert request")
	}

	convertURL := p.cfg.BaseURL + "/convert"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, convertURL, bytes.NewReader(payload))
	if err != nil {
		return "", nil, errors.Wrap(err, "cannot create convert request")
	}
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", nil, errors.Wrap(err, "convert request failed")
	}
	defer func() { dbg(resp.Body.Close()) }()

	if !isSuccess(resp.StatusCode) {
		return "", nil, readErrorBody(resp, "convert")
	}

	var converted playHTConvertResponse
	if err := json.NewDecoder(resp.Body).Decode(&converted); err != nil {
		return "", nil, errors.Wrap(err, "cannot decode convert response")
	}
	if converted.TranscriptionID == "" {
		return "", nil, errors.Wrap(ErrMissingRequestID, "convert response has no transcriptionId")
	}
	transcriptionID := converted.TranscriptionID

	streamURL := p.cfg.BaseURL + "/stream/" + url.PathEscape(transcriptionID)
	streamReq, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return transcriptionID, nil, errors.Wrap(err, "cannot create stream request")
	}
	p.setHeaders(streamReq)

	streamResp, err := p.client.Do(streamReq)
	if err != nil {
		return transcriptionID, nil, errors.Wrap(err, "stream request failed")
	}
	if !isSuccess(streamResp.StatusCode) {
		defer func() { dbg(streamResp.Body.Close()) }()
		return transcriptionID, nil, readErrorBody(streamResp, "stream")
	}
	return transcriptionID, streamResp.Body, nil
}

func (p *PlayHT) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("X-User-ID", p.cfg.UserID)
	req.Header.Set("Content-Type", "application/json")
}
