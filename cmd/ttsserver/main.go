package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dengfengjiang77/mangoesai/internal/config"
	"github.com/dengfengjiang77/mangoesai/internal/networking"
	"github.com/dengfengjiang77/mangoesai/internal/utils"
	"github.com/dengfengjiang77/mangoesai/pkg/audioio"
	"github.com/dengfengjiang77/mangoesai/pkg/synthesizer"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:          "ttsserver",
		Short:        "Serve streaming text-to-speech over a websocket at /ws",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "optional yaml config file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("tts server failed")
		os.Exit(1)
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	utils.SetupZerolog(cfg.LogLevel)

	tts, err := cfg.NewSynthesizer()
	if err != nil {
		return err
	}
	tts.Events().On(synthesizer.EventSynthesisFailed, func(e synthesizer.SynthesisEvent) error {
		log.Warn().Str("provider", e.Provider).Str("sentinel_id", e.RequestID).Int("text_length", len(e.Text)).Msg("client got silence instead of speech")
		return nil
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", networking.NewWebsocketHandlerFunc(func(r *http.Request) networking.WebsocketMessageHandler {
		return audioio.NewTTSHandler(ctx, tts)
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Bind, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("provider", cfg.TTS.Provider).Msg("tts server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Msg("tts server shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
