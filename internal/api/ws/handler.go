// Package ws exposes the streaming session coordinator over a WebSocket
// endpoint.
package ws

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"whisper-transcription-service/internal/events"
	"whisper-transcription-service/internal/observability/logging"
	"whisper-transcription-service/internal/observability/metrics"
	"whisper-transcription-service/internal/service/batch"
	"whisper-transcription-service/internal/service/session"
)

// Handler upgrades HTTP requests to WebSocket connections and runs one
// session per connection.
type Handler struct {
	pool      *batch.Pool
	publisher *events.Publisher
	opts      session.Options
	metrics   *metrics.Metrics
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

// NewHandler creates the streaming endpoint handler.
func NewHandler(pool *batch.Pool, publisher *events.Publisher, opts session.Options, m *metrics.Metrics) *Handler {
	return &Handler{
		pool:      pool,
		publisher: publisher,
		opts:      opts,
		metrics:   m,
		upgrader: websocket.Upgrader{
			// The service fronts a local desktop client; accept any origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logging.WithComponent("ws"),
	}
}

// ServeHTTP handles one streaming connection for its full lifetime.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sess := session.New(&wsConn{conn: conn}, h.pool, h.publisher, h.opts, h.metrics)
	h.log.Info().Str("sessionId", sess.ID()).Str("remote", r.RemoteAddr).Msg("Streaming client connected")
	sess.Run()
}

// wsConn adapts a gorilla connection to the session transport interface,
// classifying read failures for the session state machine.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() (session.ClientMessage, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived) {
			return session.ClientMessage{}, fmt.Errorf("%w: %v", session.ErrClientGone, err)
		}
		return session.ClientMessage{}, err
	}

	var msg session.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return session.ClientMessage{}, fmt.Errorf("%w: %v", session.ErrMalformed, err)
	}
	return msg, nil
}

func (c *wsConn) WriteMessage(msg session.ServerMessage) error {
	return c.conn.WriteJSON(msg)
}
