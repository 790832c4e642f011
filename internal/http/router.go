// Package http provides the HTTP surface: file transcription, streaming
// upgrade, health, and metrics endpoints.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"whisper-transcription-service/internal/api/ws"
	"whisper-transcription-service/internal/app"
	"whisper-transcription-service/internal/service/session"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Liveness/readiness probes
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Get("/health", healthHandler(application))
	r.Post("/transcribe", transcribeHandler(application))
	r.Handle("/metrics", promhttp.Handler())

	streamHandler := ws.NewHandler(application.Pool, application.Publisher, session.Options{
		BatchSize:       application.Cfg.Stream.BatchSize,
		DefaultLanguage: application.Cfg.Stream.DefaultLanguage,
		MaxBufferBytes:  application.Cfg.Stream.MaxBufferBytes,
	}, application.Metrics)
	r.Handle("/stream", streamHandler)

	return r
}
