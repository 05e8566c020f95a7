package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/dengfengjiang77/mangoesai/pkg/audio_utils"
	"github.com/dengfengjiang77/mangoesai/pkg/synthesizer"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DotEnvFiles are loaded in order, earlier files win. Missing files are skipped.
var DotEnvFiles = []string{".env.local", ".env"}

const (
	ProviderPlayHT = "playht"
	ProviderOpenAI = "openai"
)

type Config struct {
	LogLevel    string            `yaml:"log_level"`
	TTS         TTSConfig         `yaml:"tts"`
	PlayHT      PlayHTConfig      `yaml:"playht"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Server      ServerConfig      `yaml:"server"`
	VAD         VADConfig         `yaml:"vad"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
}

type TTSConfig struct {
	Provider string `yaml:"provider"` // playht, openai
	// DebugWavDir, when set, receives one wav file per synthesis request.
	DebugWavDir string `yaml:"debug_wav_dir"`
}

type PlayHTConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	UserID            string  `yaml:"user_id"`
	Voice             string  `yaml:"voice"`
	VoiceEngine       string  `yaml:"voice_engine"`
	OutputFormat      string  `yaml:"output_format"`
	StreamEncoding    string  `yaml:"stream_encoding"`
	SampleRate        int     `yaml:"sample_rate"`
	Channels          int     `yaml:"channels"`
	ChunkSize         int     `yaml:"chunk_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type OpenAIConfig struct {
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	ChatModel    string  `yaml:"chat_model"`
	SystemPrompt string  `yaml:"system_prompt"`
	TTSModel     string  `yaml:"tts_model"`
	TTSVoice     string  `yaml:"tts_voice"`
	TTSSpeed     float64 `yaml:"tts_speed"`
	STTModel     string  `yaml:"stt_model"`
	STTLanguage  string  `yaml:"stt_language"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type VADConfig struct {
	// Threshold is the RMS (in 16-bit sample units) under which a window counts as silence.
	Threshold float64 `yaml:"threshold"`
	WindowMS  int     `yaml:"window_ms"`
}

type TranscriptsConfig struct {
	Path string `yaml:"path"`
}

func Default() Config {
	playHT := synthesizer.DefaultPlayHTConfig()
	openAI := synthesizer.DefaultOpenAITTSConfig()
	return Config{
		LogLevel: "info",
		TTS: TTSConfig{
			Provider: ProviderPlayHT,
		},
		PlayHT: PlayHTConfig{
			BaseURL:        playHT.BaseURL,
			Voice:          playHT.Voice,
			VoiceEngine:    playHT.VoiceEngine,
			OutputFormat:   playHT.OutputFormat,
			StreamEncoding: string(playHT.StreamEncoding),
			SampleRate:     playHT.SampleRate,
			Channels:       playHT.NumChannels,
			ChunkSize:      playHT.ChunkSize,
		},
		OpenAI: OpenAIConfig{
			BaseURL:      openAI.BaseURL,
			ChatModel:    "gpt-4o-mini",
			SystemPrompt: "You are a voice assistant. Answer in short, spoken sentences without any formatting.",
			TTSModel:     openAI.Model,
			TTSVoice:     openAI.Voice,
			TTSSpeed:     openAI.Speed,
			STTModel:     "whisper-1",
			STTLanguage:  "en",
		},
		Server: ServerConfig{
			Bind: "0.0.0.0",
			Port: 8081,
		},
		VAD: VADConfig{
			Threshold: 500,
			WindowMS:  20,
		},
		Transcripts: TranscriptsConfig{
			Path: "./transcripts/stt_transcripts.txt",
		},
	}
}

// Load layers defaults, the optional yaml file at path, the dot env files and
// the process environment, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "cannot read config file %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "cannot parse config file %s", path)
		}
	}

	if err := LoadDotEnv(DotEnvFiles...); err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv loads the files which exist into the environment without
// overriding variables that are already set.
func LoadDotEnv(files ...string) error {
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return errors.Wrapf(err, "cannot load %s", file)
		}
		log.Debug().Str("file", file).Msg("loaded env file")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.LogLevel, "MANGOES_LOG_LEVEL")
	overrideString(&cfg.TTS.Provider, "MANGOES_TTS_PROVIDER")
	overrideString(&cfg.TTS.DebugWavDir, "MANGOES_TTS_DEBUG_WAV_DIR")

	overrideString(&cfg.PlayHT.APIKey, "PLAYHT_API_KEY")
	overrideString(&cfg.PlayHT.UserID, "PLAYHT_USER_ID")
	overrideString(&cfg.PlayHT.BaseURL, "MANGOES_PLAYHT_BASE_URL")
	overrideString(&cfg.PlayHT.Voice, "MANGOES_PLAYHT_VOICE")
	overrideString(&cfg.PlayHT.VoiceEngine, "MANGOES_PLAYHT_VOICE_ENGINE")
	overrideString(&cfg.PlayHT.OutputFormat, "MANGOES_PLAYHT_OUTPUT_FORMAT")
	overrideString(&cfg.PlayHT.StreamEncoding, "MANGOES_PLAYHT_STREAM_ENCODING")
	overrideInt(&cfg.PlayHT.SampleRate, "MANGOES_PLAYHT_SAMPLE_RATE")
	overrideInt(&cfg.PlayHT.Channels, "MANGOES_PLAYHT_CHANNELS")
	overrideInt(&cfg.PlayHT.ChunkSize, "MANGOES_PLAYHT_CHUNK_SIZE")
	overrideFloat(&cfg.PlayHT.RequestsPerSecond, "MANGOES_PLAYHT_REQUESTS_PER_SECOND")

	overrideString(&cfg.OpenAI.APIKey, "OPEN_AI_API_KEY")
	overrideString(&cfg.OpenAI.BaseURL, "MANGOES_OPENAI_BASE_URL")
	overrideString(&cfg.OpenAI.ChatModel, "MANGOES_OPENAI_CHAT_MODEL")
	overrideString(&cfg.OpenAI.SystemPrompt, "MANGOES_OPENAI_SYSTEM_PROMPT")
	overrideString(&cfg.OpenAI.TTSModel, "MANGOES_OPENAI_TTS_MODEL")
	overrideString(&cfg.OpenAI.TTSVoice, "MANGOES_OPENAI_TTS_VOICE")
	overrideFloat(&cfg.OpenAI.TTSSpeed, "MANGOES_OPENAI_TTS_SPEED")
	overrideString(&cfg.OpenAI.STTModel, "MANGOES_OPENAI_STT_MODEL")
	overrideString(&cfg.OpenAI.STTLanguage, "MANGOES_OPENAI_STT_LANGUAGE")

	overrideString(&cfg.Server.Bind, "MANGOES_SERVER_BIND")
	overrideInt(&cfg.Server.Port, "MANGOES_SERVER_PORT")
	overrideFloat(&cfg.VAD.Threshold, "MANGOES_VAD_THRESHOLD")
	overrideInt(&cfg.VAD.WindowMS, "MANGOES_VAD_WINDOW_MS")
	overrideString(&cfg.Transcripts.Path, "MANGOES_TRANSCRIPTS_PATH")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		} else {
			log.Warn().Str("env", envKey).Str("value", value).Msg("ignoring non-integer env override")
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		} else {
			log.Warn().Str("env", envKey).Str("value", value).Msg("ignoring non-numeric env override")
		}
	}
}

func validate(cfg Config) error {
	switch cfg.TTS.Provider {
	case ProviderPlayHT, ProviderOpenAI:
	default:
		return errors.Errorf("tts.provider must be %q or %q, got %q", ProviderPlayHT, ProviderOpenAI, cfg.TTS.Provider)
	}
	if _, err := audio_utils.ParseStreamEncoding(cfg.PlayHT.StreamEncoding); err != nil {
		return errors.Wrap(err, "playht.stream_encoding")
	}
	if cfg.PlayHT.SampleRate <= 0 {
		return errors.New("playht.sample_rate must be positive")
	}
	if cfg.PlayHT.Channels <= 0 {
		return errors.New("playht.channels must be positive")
	}
	if cfg.PlayHT.RequestsPerSecond < 0 {
		return errors.New("playht.requests_per_second must not be negative")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if cfg.VAD.WindowMS <= 0 {
		return errors.New("vad.window_ms must be positive")
	}
	if cfg.Transcripts.Path == "" {
		return errors.New("transcripts.path must not be empty")
	}
	return nil
}

// PlayHTSynthesizerConfig maps the playht section onto the synthesizer config.
// The stream encoding was already checked by validate.
func (c Config) PlayHTSynthesizerConfig() synthesizer.PlayHTConfig {
	encoding, _ := audio_utils.ParseStreamEncoding(c.PlayHT.StreamEncoding)
	return synthesizer.PlayHTConfig{
		BaseURL:           c.PlayHT.BaseURL,
		APIKey:            c.PlayHT.APIKey,
		UserID:            c.PlayHT.UserID,
		Voice:             c.PlayHT.Voice,
		VoiceEngine:       c.PlayHT.VoiceEngine,
		OutputFormat:      c.PlayHT.OutputFormat,
		StreamEncoding:    encoding,
		SampleRate:        c.PlayHT.SampleRate,
		NumChannels:       c.PlayHT.Channels,
		ChunkSize:         c.PlayHT.ChunkSize,
		RequestsPerSecond: c.PlayHT.RequestsPerSecond,
	}
}

func (c Config) OpenAITTSConfig() synthesizer.OpenAITTSConfig {
	return synthesizer.OpenAITTSConfig{
		BaseURL: c.OpenAI.BaseURL,
		APIKey:  c.OpenAI.APIKey,
		Model:   c.OpenAI.TTSModel,
		Voice:   c.OpenAI.TTSVoice,
		Speed:   c.OpenAI.TTSSpeed,
	}
}

// NewSynthesizer builds the configured provider.
func (c Config) NewSynthesizer() (synthesizer.Synthesizer, error) {
	switch c.TTS.Provider {
	case ProviderOpenAI:
		return synthesizer.NewOpenAITTS(c.OpenAITTSConfig())
	default:
		return synthesizer.NewPlayHT(c.PlayHTSynthesizerConfig())
	}
}
