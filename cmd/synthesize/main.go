package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dengfengjiang77/mangoesai/internal/config"
	"github.com/dengfengjiang77/mangoesai/internal/utils"
	"github.com/dengfengjiang77/mangoesai/pkg/audio_utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func main() {
	var configPath, outPath string
	rootCmd := &cobra.Command{
		Use:          "synthesize [text]",
		Short:        "Synthesize text (or stdin) into a wav file",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := ""
			if len(args) == 1 {
				text = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Wrap(err, "cannot read text from stdin")
				}
				text = string(data)
			}
			return synthesize(cmd.Context(), configPath, text, outPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "optional yaml config file")
	rootCmd.Flags().StringVarP(&outPath, "out", "o", "output/tts.wav", "where to write the wav file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("synthesis failed")
		os.Exit(1)
	}
}

func synthesize(ctx context.Context, configPath string, text string, outPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	utils.SetupZerolog(cfg.LogLevel)

	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("nothing to synthesize")
	}
	tts, err := cfg.NewSynthesizer()
	if err != nil {
		return err
	}

	stream := tts.Stream(ctx)
	defer stream.Close()
	for _, paragraph := range strings.Split(text, "\n\n") {
		if paragraph = strings.TrimSpace(paragraph); paragraph != "" {
			stream.PushText(paragraph)
			if err := stream.Flush(ctx); err != nil {
				return err
			}
		}
	}
	stream.EndInput()

	var pcm []byte
	sampleRate, numChannels := tts.SampleRate(), tts.NumChannels()
	frames, failed := 0, 0
	audio := stream.Frames()
	for audio.Next(ctx) {
		unit := audio.Audio()
		frames++
		if unit.IsError() {
			failed++
		} else if frames-failed == 1 {
			// decoded streams report their own rate
			sampleRate, numChannels = unit.Frame.SampleRate, unit.Frame.NumChannels
		}
		pcm = append(pcm, unit.Frame.Data...)
	}
	if err := audio.Err(); err != nil {
		return err
	}
	if frames == failed {
		return errors.New("provider did not produce any speech, see the log above")
	}

	if err := audio_utils.WriteWav(afero.NewOsFs(), outPath, pcm, uint32(sampleRate), uint32(numChannels)); err != nil {
		return err
	}
	log.Info().Str("path", outPath).Int("frames", frames).Int("failed_frames", failed).Int("bytes", len(pcm)).Msg("wav written")
	return nil
}
