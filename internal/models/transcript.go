// Package models defines the data structures for transcription results
// and transcript events.
package models

// Segment is one timestamped span of recognized speech. Start and End are
// seconds relative to the audio buffer that was transcribed, not absolute
// session time.
type Segment struct {
	ID         int     `json:"id"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// TranscriptionResult is the output of one inference call.
type TranscriptionResult struct {
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
	Text     string    `json:"text"`
}

// TranscriptionResponse is the body returned by the file upload endpoint.
type TranscriptionResponse struct {
	Success  bool      `json:"success"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
	Text     string    `json:"text,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// TranscriptStreamed is the event published for each incremental transcript
// produced during a streaming session.
type TranscriptStreamed struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Language  string `json:"language"`
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text"`
	Fragments int    `json:"fragments"`
}

// TranscriptFinal is the event published when a session finalizes or a file
// upload completes, carrying the full result.
type TranscriptFinal struct {
	EventType string  `json:"eventType"`
	SessionID string  `json:"sessionId"`
	Language  string  `json:"language"`
	Timestamp int64   `json:"timestamp"`
	Text      string  `json:"text"`
	Duration  float64 `json:"duration"`
	Segments  int     `json:"segments"`
}
