package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"whisper-transcription-service/internal/app"
	"whisper-transcription-service/internal/config"
	internalhttp "whisper-transcription-service/internal/http"
	"whisper-transcription-service/internal/observability/logging"
)

func main() {
	cfg := config.Load()

	logging.Init(logging.Config{
		Level:   cfg.Observability.LogLevel,
		Format:  cfg.Observability.LogFormat,
		Service: cfg.Service.Name,
	})

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to construct application")
	}

	// No WriteTimeout: transcription responses can take several seconds
	// and streaming connections stay open for the whole session.
	server := &http.Server{
		Addr:        ":" + cfg.Service.HTTPPort,
		Handler:     internalhttp.NewRouter(application),
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Transcription service started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Workers.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	application.Shutdown(ctx)
}
