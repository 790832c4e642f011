package session

import "errors"

// Client message types.
const (
	TypeConfig = "config"
	TypeAudio  = "audio"
	TypeStop   = "stop"
)

// Server message types.
const (
	TypeReady      = "ready"
	TypeTranscript = "transcript"
	TypeDone       = "done"
	TypeError      = "error"
)

// ClientMessage is the JSON-framed message union sent by streaming clients.
type ClientMessage struct {
	Type     string `json:"type"`
	Language string `json:"language,omitempty"`
	Data     string `json:"data,omitempty"` // base64-encoded audio fragment

	// Optional raw-PCM stream description. When Format is "pcm16" every
	// flushed buffer is wrapped as a standalone WAV before inference.
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// ServerMessage is the JSON-framed message union sent to streaming clients.
type ServerMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// Transport failure classification sentinels, wrapped by Conn
// implementations.
var (
	// ErrMalformed marks a message that could not be decoded. The session
	// drops it and keeps reading.
	ErrMalformed = errors.New("malformed client message")

	// ErrClientGone marks an orderly close by the client without a stop
	// message. The session terminates without flushing the remaining
	// buffer; there is nowhere left to deliver a response.
	ErrClientGone = errors.New("client closed the connection")
)

// Conn abstracts the duplex transport under a session. ReadMessage blocks
// until the next message arrives and returns an error wrapping ErrMalformed
// for undecodable messages, ErrClientGone for an orderly client close, or
// the underlying transport error when the channel breaks.
type Conn interface {
	ReadMessage() (ClientMessage, error)
	WriteMessage(ServerMessage) error
}
