package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dengfengjiang77/mangoesai/internal/config"
	"github.com/dengfengjiang77/mangoesai/internal/utils"
	"github.com/dengfengjiang77/mangoesai/pkg/agent"
	"github.com/dengfengjiang77/mangoesai/pkg/audioio"
	"github.com/dengfengjiang77/mangoesai/pkg/events"
	"github.com/dengfengjiang77/mangoesai/pkg/models"
	"github.com/dengfengjiang77/mangoesai/pkg/synthesizer"
	"github.com/dengfengjiang77/mangoesai/pkg/transcriber"
	"github.com/dengfengjiang77/mangoesai/pkg/transcript"
	"github.com/dengfengjiang77/mangoesai/pkg/vad"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:          "local",
		Short:        "Talk to the voice agent through your microphone and speakers",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "optional yaml config file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("local agent failed")
		os.Exit(1)
	}
}

type voiceAgent struct {
	cfg         config.Config
	whisper     transcriber.Transcriber
	chatAgent   agent.ChatAgent
	tts         synthesizer.Synthesizer
	speakers    audioio.OutputDevice
	detector    vad.Detector
	recorder    *synthesizer.WavRecorder
	transcripts *transcript.Log
	userEvents  *events.Emitter[models.TranscriptEvent]
	enterChan   <-chan struct{}
}

func run(ctx context.Context, configPath string) error {
	setupStart := time.Now()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	utils.SetupZerolog(cfg.LogLevel)

	if cfg.OpenAI.APIKey == "" {
		return errors.New("OPEN_AI_API_KEY is not set")
	}
	openAIConfig := openai.DefaultConfig(cfg.OpenAI.APIKey)
	openAIConfig.BaseURL = cfg.OpenAI.BaseURL
	client := openai.NewClientWithConfig(openAIConfig)

	tts, err := cfg.NewSynthesizer()
	if err != nil {
		return err
	}
	tts.Events().On(synthesizer.EventSynthesisFinished, func(e synthesizer.SynthesisEvent) error {
		log.Debug().Str("request_id", e.RequestID).Int("frames", e.Frames).Dur("elapsed", e.Elapsed).Msg("sentence synthesized")
		return nil
	})

	// We use numChannels = 1, to be consistent across the pipeline,
	// synthesizer and transcriber really care only about 1.
	speakers, err := audioio.NewSpeakers(tts.SampleRate(), tts.NumChannels())
	if err != nil {
		return err
	}

	a := &voiceAgent{
		cfg:         cfg,
		whisper:     transcriber.NewOpenAIWhisper(client, transcriber.WithWhisperModel(cfg.OpenAI.STTModel), transcriber.WithWhisperLanguage(cfg.OpenAI.STTLanguage)),
		chatAgent:   agent.NewOpenAIChatAgent(client, cfg.OpenAI.ChatModel),
		tts:         tts,
		speakers:    speakers,
		detector:    vad.NewEnergyDetector(cfg.VAD.Threshold, cfg.VAD.WindowMS),
		transcripts: transcript.NewLog(),
		userEvents:  events.NewEmitter[models.TranscriptEvent](),
		enterChan:   readEnterPresses(),
	}
	if cfg.TTS.DebugWavDir != "" {
		a.recorder = synthesizer.NewWavRecorder(afero.NewOsFs(), cfg.TTS.DebugWavDir)
	}
	a.userEvents.On(transcriber.EventUserTranscript, func(e models.TranscriptEvent) error {
		a.transcripts.Add(e)
		return nil
	})
	defer func() {
		if err := a.transcripts.Save(afero.NewOsFs(), cfg.Transcripts.Path); err != nil {
			log.Error().Err(err).Msg("cannot save transcripts")
		}
	}()

	log.Debug().Dur("setup_time", time.Since(setupStart)).Msg("setup done")

	conversation := models.NewConversation(cfg.OpenAI.SystemPrompt)
	for i := 1; ctx.Err() == nil; i++ {
		prompt, err := a.listen(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		if prompt == "" {
			log.Info().Int("turn", i).Msg("nothing heard, listening again")
			continue
		}
		conversation.Add(models.RoleUser, prompt)

		response, err := a.respond(ctx, conversation)
		if err != nil {
			log.Warn().Err(err).Int("turn", i).Msg("turn ended early")
		}
		if response != "" {
			conversation.Add(models.RoleAssistant, response)
			a.transcripts.AddAgent(response)
		}
		conversation.DebugLog()
	}
	log.Info().Msg("shutting down")
	return nil
}

// listen records until Enter is pressed and returns what the user said.
func (a *voiceAgent) listen(ctx context.Context) (string, error) {
	microphone, err := audioio.NewMicrophone(audioio.MicrophoneConfig{Detector: a.detector})
	if err != nil {
		return "", err
	}
	audioChan := make(chan models.AudioData, 1000)
	textChan := make(chan models.AudioData, 1000)

	type result struct {
		prompt string
		err    error
	}
	resultChan := make(chan result, 1)
	go func() {
		prompt, err := transcriber.TranscribeAudioRoutine(ctx, a.whisper, audioChan, textChan, a.userEvents)
		resultChan <- result{prompt, err}
	}()
	go func() {
		for chunk := range textChan {
			log.Debug().Str("text", chunk.Text).Msg("partial transcript")
		}
	}()

	if err := microphone.StartRecording(audioChan); err != nil {
		return "", err
	}
	fmt.Println("Speak, then press Enter to submit your input...")
	select {
	case <-a.enterChan:
	case <-ctx.Done():
	}
	if _, err := microphone.StopRecording(); err != nil {
		log.Debug().Err(err).Msg("stop recording")
	}

	r := <-resultChan
	return strings.TrimSpace(r.prompt), r.err
}

// respond streams the answer through the synthesizer into the speakers.
// Pressing Enter interrupts it.
func (a *voiceAgent) respond(ctx context.Context, conversation *models.Conversation) (string, error) {
	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()
	go func() {
		select {
		case <-a.enterChan:
			log.Info().Msg("interrupt received, stopping the answer")
			cancelTurn()
		case <-turnCtx.Done():
		}
	}()
	fmt.Println("Press Enter to interrupt the answer...")

	chatOutputChan := make(chan string, 1000)
	audioChan := make(chan models.SynthesizedAudio, 16)
	var response string

	g, gctx := errgroup.WithContext(turnCtx)
	g.Go(func() error {
		var err error
		response, err = a.chatAgent.RunPrompt(gctx, agent.FastAndCheap, conversation, chatOutputChan)
		return err
	})
	g.Go(func() error {
		return synthesizer.TextToSpeechRoutine(gctx, a.tts, chatOutputChan, audioChan, a.recorder)
	})
	g.Go(func() error {
		return audioio.PlayAudioChunksRoutine(gctx, a.speakers, audioChan)
	})
	err := g.Wait()
	return response, err
}

// readEnterPresses turns every line on stdin into a signal.
func readEnterPresses() <-chan struct{} {
	enterChan := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			enterChan <- struct{}{}
		}
	}()
	return enterChan
}
