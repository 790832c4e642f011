// Package engine defines the interface to the speech-to-text inference
// engine and its implementations.
package engine

import (
	"context"

	"whisper-transcription-service/internal/models"
)

// Info describes the engine for health reporting.
type Info struct {
	Name        string
	Model       string
	Device      string
	ComputeType string
}

// Engine converts an audio buffer into ordered transcript segments.
//
// Transcribe is blocking and CPU-bound. It must never be called from a
// goroutine handling connection I/O; callers go through the batch worker
// pool. Implementations are safe for concurrent invocation. An empty
// language requests auto-detection. The engine performs no retries; the
// caller owns recovery decisions.
type Engine interface {
	Transcribe(ctx context.Context, audio []byte, language string) (models.TranscriptionResult, error)

	// Info returns static engine metadata.
	Info() Info
}
