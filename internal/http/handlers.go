package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"whisper-transcription-service/internal/app"
	"whisper-transcription-service/internal/models"
	"whisper-transcription-service/internal/observability/logging"
	"whisper-transcription-service/internal/service/batch"
)

// maxUploadBytes caps a single file transcription request.
const maxUploadBytes = 100 * 1024 * 1024

// healthHandler reports process status plus the active model and compute
// device.
func healthHandler(a *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		info := a.Engine.Info()
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"model":  info.Model,
			"device": info.Device,
		})
	}
}

// transcribeHandler accepts a multipart audio upload and returns the full
// transcription. Inference runs through the same bounded worker pool as the
// streaming sessions, never on the request goroutine's own budget beyond
// waiting.
func transcribeHandler(a *app.Application) http.HandlerFunc {
	log := logging.WithComponent("transcribe")

	return func(w http.ResponseWriter, r *http.Request) {
		a.Metrics.UploadsTotal.Inc()

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		file, header, err := r.FormFile("file")
		if err != nil {
			a.Metrics.UploadsFailed.Inc()
			writeJSON(w, http.StatusBadRequest, models.TranscriptionResponse{
				Success: false,
				Error:   "missing or unreadable file field: " + err.Error(),
			})
			return
		}
		defer file.Close()

		audio, err := io.ReadAll(file)
		if err != nil {
			a.Metrics.UploadsFailed.Inc()
			writeJSON(w, http.StatusBadRequest, models.TranscriptionResponse{
				Success: false,
				Error:   "failed to read upload: " + err.Error(),
			})
			return
		}
		if len(audio) == 0 {
			a.Metrics.UploadsFailed.Inc()
			writeJSON(w, http.StatusBadRequest, models.TranscriptionResponse{
				Success: false,
				Error:   "empty audio payload",
			})
			return
		}

		// Absent language defaults; explicitly empty requests
		// auto-detection.
		language := a.Cfg.Stream.DefaultLanguage
		if values, ok := r.Form["language"]; ok && len(values) > 0 {
			language = values[0]
		}

		requestId := "upload-" + uuid.NewString()
		resultCh, err := a.Pool.Submit(batch.Job{
			SessionID: requestId,
			Audio:     audio,
			Language:  language,
			Source:    "file",
		})
		if err != nil {
			a.Metrics.UploadsFailed.Inc()
			log.Warn().Err(err).Str("requestId", requestId).Msg("Transcription request rejected")
			writeJSON(w, http.StatusServiceUnavailable, models.TranscriptionResponse{
				Success: false,
				Error:   "transcription capacity exhausted, retry later",
			})
			return
		}

		res := <-resultCh
		if res.Err != nil {
			a.Metrics.UploadsFailed.Inc()
			log.Error().Err(res.Err).Str("requestId", requestId).Str("filename", header.Filename).Msg("Transcription failed")
			writeJSON(w, http.StatusInternalServerError, models.TranscriptionResponse{
				Success: false,
				Error:   res.Err.Error(),
			})
			return
		}

		result := res.Transcription
		if err := a.Publisher.PublishFinal(context.Background(), requestId, models.TranscriptFinal{
			EventType: "transcription.transcript.final",
			SessionID: requestId,
			Language:  result.Language,
			Timestamp: time.Now().UnixMilli(),
			Text:      result.Text,
			Duration:  result.Duration,
			Segments:  len(result.Segments),
		}); err != nil {
			log.Warn().Err(err).Str("requestId", requestId).Msg("Failed to publish final transcript event")
		}

		writeJSON(w, http.StatusOK, models.TranscriptionResponse{
			Success:  true,
			Language: result.Language,
			Duration: result.Duration,
			Segments: result.Segments,
			Text:     result.Text,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
