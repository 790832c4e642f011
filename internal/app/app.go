// Package app wires the process-wide collaborators: configuration, the
// inference engine, the worker pool, and the event publisher.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"whisper-transcription-service/internal/config"
	"whisper-transcription-service/internal/events"
	"whisper-transcription-service/internal/observability/logging"
	"whisper-transcription-service/internal/observability/metrics"
	"whisper-transcription-service/internal/service/batch"
	"whisper-transcription-service/internal/service/engine"
)

// Application holds process-wide state for the service. The engine is
// constructed exactly once here and injected into every consumer; there is
// no lazily initialized global.
type Application struct {
	StartupTime time.Time
	Cfg         *config.Config
	Engine      engine.Engine
	Pool        *batch.Pool
	Publisher   *events.Publisher
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// New constructs the application from the provided configuration.
func New(cfg *config.Config) (*Application, error) {
	eng, err := engine.New(cfg.Whisper)
	if err != nil {
		return nil, fmt.Errorf("construct engine: %w", err)
	}

	m := metrics.DefaultMetrics
	pool := batch.NewPool(eng, cfg.Workers.PoolSize, cfg.Workers.QueueDepth, m)
	publisher := events.New(&events.Config{
		Enabled:     cfg.Kafka.Enabled,
		Brokers:     cfg.Kafka.Brokers,
		TopicStream: cfg.Kafka.TopicStream,
		TopicFinal:  cfg.Kafka.TopicFinal,
		Principal:   cfg.Kafka.Principal,
	})

	a := &Application{
		StartupTime: time.Now().UTC(),
		Cfg:         cfg,
		Engine:      eng,
		Pool:        pool,
		Publisher:   publisher,
		Metrics:     m,
		Logger:      logging.WithComponent("application"),
	}

	info := eng.Info()
	a.Logger.Info().
		Str("engine", info.Name).
		Str("model", info.Model).
		Str("device", info.Device).
		Str("computeType", info.ComputeType).
		Int("workers", cfg.Workers.PoolSize).
		Int("batchSize", cfg.Stream.BatchSize).
		Msg("Application created")
	return a, nil
}

// Shutdown drains the worker pool and closes the publisher, best effort.
func (a *Application) Shutdown(ctx context.Context) {
	a.Logger.Info().Msg("Application shutting down")

	if err := a.Pool.Shutdown(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Worker pool did not drain before deadline")
	}
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Error closing event publisher")
	}
}
