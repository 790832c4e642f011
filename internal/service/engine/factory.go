package engine

import (
	"fmt"

	"whisper-transcription-service/internal/config"
)

// New constructs the configured engine implementation. The engine is built
// once at startup and injected everywhere it is needed; there is no lazy
// global instance.
func New(cfg config.WhisperConfig) (Engine, error) {
	switch cfg.Engine {
	case "exec":
		return NewExec(cfg)
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown whisper engine %q", cfg.Engine)
	}
}
