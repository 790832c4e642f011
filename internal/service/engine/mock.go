package engine

import (
	"context"
	"strings"
	"sync"

	"whisper-transcription-service/internal/models"
)

// mockPhrases are cycled through by the mock engine, one per call.
var mockPhrases = []string{
	"this is a test of the transcription service",
	"the quick brown fox jumps over the lazy dog",
	"please transcribe this short audio clip",
	"streaming audio arrives in small fragments",
	"thank you for listening",
}

// Mock is a deterministic in-process engine for development and tests. It
// produces one phrase per call, split into word-aligned segments with
// non-overlapping, non-decreasing timestamps.
type Mock struct {
	mu    sync.Mutex
	calls int
}

// NewMock creates a mock engine.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Info() Info {
	return Info{Name: "mock", Model: "mock", Device: "cpu", ComputeType: "int8"}
}

func (m *Mock) Transcribe(ctx context.Context, audioData []byte, language string) (models.TranscriptionResult, error) {
	if err := ctx.Err(); err != nil {
		return models.TranscriptionResult{}, err
	}
	if len(audioData) == 0 {
		return models.TranscriptionResult{Language: m.language(language)}, nil
	}

	m.mu.Lock()
	phrase := mockPhrases[m.calls%len(mockPhrases)]
	m.calls++
	m.mu.Unlock()

	// Pretend the buffer is 16kHz 16-bit mono.
	duration := float64(len(audioData)) / 32000.0
	words := strings.Fields(phrase)

	// Two words per segment, evenly spread over the duration.
	numSegments := (len(words) + 1) / 2
	per := duration / float64(numSegments)
	result := models.TranscriptionResult{
		Language: m.language(language),
		Duration: duration,
		Text:     phrase,
	}
	for i := 0; i < numSegments; i++ {
		end := i*2 + 2
		if end > len(words) {
			end = len(words)
		}
		result.Segments = append(result.Segments, models.Segment{
			ID:         i,
			Start:      float64(i) * per,
			End:        float64(i+1) * per,
			Text:       strings.Join(words[i*2:end], " "),
			Confidence: -0.2,
		})
	}
	return result, nil
}

func (m *Mock) language(hint string) string {
	if hint != "" {
		return hint
	}
	return "en"
}
