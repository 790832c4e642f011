// Package session implements the streaming session coordinator: it owns the
// duplex connection lifecycle, accumulates audio fragments, decides when to
// flush them through the inference worker pool, and emits incremental
// transcripts back to the client.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"whisper-transcription-service/internal/events"
	"whisper-transcription-service/internal/models"
	"whisper-transcription-service/internal/observability/logging"
	"whisper-transcription-service/internal/observability/metrics"
	"whisper-transcription-service/internal/service/batch"
	"whisper-transcription-service/internal/service/engine"
)

// Options tunes a session.
type Options struct {
	// BatchSize is the fragment count that makes the buffer eligible for a
	// periodic flush.
	BatchSize int
	// DefaultLanguage applies when the client never sends a config message.
	DefaultLanguage string
	// MaxBufferBytes forces an early flush when the accumulated buffer
	// grows past it, regardless of fragment count. Zero disables the
	// limit. Audio is never dropped either way.
	MaxBufferBytes int64
}

// Session coordinates one duplex streaming connection. It is owned by the
// connection handler goroutine: all message dispatch and transcript
// emission happens on that single goroutine, and the only blocking waits
// are for the next incoming message and for an in-flight inference result.
// Awaiting each result in-loop is what keeps inference strictly sequential
// within a session while other sessions proceed in parallel.
type Session struct {
	id        string
	conn      Conn
	pool      *batch.Pool
	publisher *events.Publisher
	opts      Options

	acc        Accumulator
	state      *Machine
	language   string
	configured bool

	// Raw-PCM stream description, set by config when format is "pcm16".
	pcmSampleRate int
	pcmChannels   int

	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New creates a session for one open connection.
func New(conn Conn, pool *batch.Pool, publisher *events.Publisher, opts Options, m *metrics.Metrics) *Session {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en"
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		conn:      conn,
		pool:      pool,
		publisher: publisher,
		opts:      opts,
		state:     NewMachine(),
		language:  opts.DefaultLanguage,
		metrics:   m,
		log:       logging.WithSession(id, opts.DefaultLanguage),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state.State() }

// Run drives the session until it terminates. It returns when the client
// stops the session, disconnects, or the transport breaks.
func (s *Session) Run() {
	s.metrics.RecordSessionStart()
	start := time.Now()
	success := false
	defer func() {
		s.state.Close()
		s.metrics.RecordSessionEnd(success, time.Since(start).Seconds())
	}()

	s.log.Info().Msg("Session started")

	for {
		msg, err := s.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				// Dropped for this message only; keep reading.
				s.metrics.RecordFragmentDropped("malformed_message")
				s.log.Warn().Err(err).Msg("Dropping malformed message")
				continue
			}
			s.handleDisconnect(err)
			return
		}

		switch msg.Type {
		case TypeConfig:
			s.handleConfig(msg)
		case TypeAudio:
			if err := s.handleAudio(msg); err != nil {
				s.fail(err)
				return
			}
		case TypeStop:
			success = s.finalize()
			return
		default:
			s.log.Warn().Str("type", msg.Type).Msg("Ignoring unknown message type")
		}
	}
}

// handleDisconnect classifies a terminal read failure: an orderly
// disconnect or a broken transport.
func (s *Session) handleDisconnect(err error) {
	switch {
	case errors.Is(err, ErrClientGone):
		// Disconnect without stop: the remaining buffer is discarded.
		// A response could no longer be delivered anyway.
		if buffered := s.acc.Len(); buffered > 0 {
			s.log.Info().Int("discardedBytes", buffered).Msg("Client disconnected mid-stream, discarding unflushed audio")
		} else {
			s.log.Info().Msg("Client disconnected")
		}
		s.state.Close()
	default:
		s.fail(err)
	}
}

// fail moves the session to ERROR and attempts a best-effort notification.
func (s *Session) fail(err error) {
	if !s.state.Fail() {
		return
	}
	s.log.Error().Err(err).Str("state", s.state.State().String()).Msg("Session transport failure")
	// Swallowed if the channel is already unusable.
	_ = s.conn.WriteMessage(ServerMessage{Type: TypeError, Message: err.Error()})
	s.state.Close()
}

// handleConfig applies the first explicit configuration and acknowledges
// every config that arrives before finalization. A session that started
// streaming implicitly still gets its language from the first config; a
// repeat config keeps the existing settings but is re-acknowledged so a
// client awaiting the handshake does not stall.
func (s *Session) handleConfig(msg ClientMessage) {
	if err := s.state.Configure(); err != nil && !errors.Is(err, ErrAlreadyConfigured) {
		s.log.Warn().Err(err).Msg("Ignoring config message")
		return
	}

	if s.configured {
		s.log.Warn().Msg("Session already configured, keeping existing settings")
	} else {
		s.configured = true
		if msg.Language != "" {
			s.language = msg.Language
		}
		if msg.Format == "pcm16" {
			s.pcmSampleRate = msg.SampleRate
			if s.pcmSampleRate <= 0 {
				s.pcmSampleRate = 16000
			}
			s.pcmChannels = msg.Channels
			if s.pcmChannels <= 0 {
				s.pcmChannels = 1
			}
		}
		s.log = logging.WithSession(s.id, s.language)
		s.log.Info().Str("format", msg.Format).Msg("Session configured")
	}

	if err := s.conn.WriteMessage(ServerMessage{Type: TypeReady}); err != nil {
		s.fail(err)
	}
}

func (s *Session) handleAudio(msg ClientMessage) error {
	if err := s.state.Ingest(); err != nil {
		s.log.Warn().Err(err).Msg("Ignoring audio message")
		return nil
	}

	fragment, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		// Corrupt encoding is a no-op for this message in the streaming
		// path; the session keeps going.
		s.metrics.RecordFragmentDropped("bad_base64")
		s.log.Warn().Err(err).Msg("Dropping fragment with invalid base64 payload")
		return nil
	}

	s.acc.Append(fragment)
	s.metrics.RecordFragmentReceived(len(fragment))
	s.log.Debug().
		Int("fragmentBytes", len(fragment)).
		Int("totalFragments", s.acc.Total()).
		Msg("Fragment received")

	if s.eligible() {
		return s.flush("threshold")
	}
	return nil
}

// eligible reports whether the accumulated buffer should be flushed now.
// Never true for an empty buffer.
func (s *Session) eligible() bool {
	if s.acc.Len() == 0 {
		return false
	}
	if s.acc.Pending() >= s.opts.BatchSize {
		return true
	}
	return s.opts.MaxBufferBytes > 0 && int64(s.acc.Len()) >= s.opts.MaxBufferBytes
}

// flush snapshots the buffer, submits it to the worker pool, awaits the
// result, and emits a transcript when there is text. An inference failure
// is logged and the session stays in STREAMING; only a transport failure
// propagates as an error.
func (s *Session) flush(trigger string) error {
	fragments := s.acc.Pending()
	snapshot := s.acc.Flush()
	s.metrics.RecordFlush(trigger, len(snapshot))

	audio := snapshot
	if s.pcmSampleRate > 0 {
		wrapped, err := engine.WrapPCM16(snapshot, s.pcmSampleRate, s.pcmChannels)
		if err != nil {
			// A misaligned PCM buffer may realign once more fragments
			// arrive; keep the bytes buffered either way.
			s.acc.Restore(snapshot, fragments)
			s.log.Error().Err(err).Msg("Failed to wrap PCM buffer, flush deferred")
			if trigger == "finalize" {
				_ = s.conn.WriteMessage(ServerMessage{Type: TypeError, Message: "final audio buffer could not be decoded: " + err.Error()})
			}
			return nil
		}
		audio = wrapped
	}

	resultCh, err := s.submit(batch.Job{
		SessionID: s.id,
		Audio:     audio,
		Language:  s.language,
		Source:    "stream",
	}, trigger == "finalize")
	if err != nil {
		// Backpressure or shutdown: keep the audio for the next flush so
		// nothing is lost.
		s.acc.Restore(snapshot, fragments)
		s.log.Warn().Err(err).Int("bufferedBytes", s.acc.Len()).Msg("Inference submission rejected, buffer retained")
		return nil
	}

	// Sequential per session: no further messages are read until this
	// result is in.
	res := <-resultCh
	if res.Err != nil {
		// A failed batch does not terminate the session.
		s.log.Error().Err(res.Err).Msg("Transcription failed, session continues")
		return nil
	}

	if res.Transcription.Text == "" {
		// Silence is not reported.
		s.metrics.EmptyResults.Inc()
		return nil
	}

	if err := s.conn.WriteMessage(ServerMessage{Type: TypeTranscript, Text: res.Transcription.Text}); err != nil {
		return err
	}
	s.metrics.TranscriptsEmitted.Inc()

	if err := s.publisher.PublishStreamed(context.Background(), s.id, models.TranscriptStreamed{
		EventType: "transcription.transcript.streamed",
		SessionID: s.id,
		Language:  s.language,
		Timestamp: time.Now().UnixMilli(),
		Text:      res.Transcription.Text,
		Fragments: s.acc.Total(),
	}); err != nil {
		s.log.Warn().Err(err).Msg("Failed to publish streamed transcript event")
	}

	if trigger == "finalize" {
		if err := s.publisher.PublishFinal(context.Background(), s.id, models.TranscriptFinal{
			EventType: "transcription.transcript.final",
			SessionID: s.id,
			Language:  s.language,
			Timestamp: time.Now().UnixMilli(),
			Text:      res.Transcription.Text,
			Duration:  res.Transcription.Duration,
			Segments:  len(res.Transcription.Segments),
		}); err != nil {
			s.log.Warn().Err(err).Msg("Failed to publish final transcript event")
		}
	}
	return nil
}

// submitRetryInterval paces finalize-flush retries while the queue is full.
const submitRetryInterval = 25 * time.Millisecond

// submit hands a job to the worker pool. A threshold flush treats
// backpressure as a deferral and retries at the next ingest, but the
// finalize flush has no later retry point, so it waits for a queue slot
// until the pool accepts the job or shuts down.
func (s *Session) submit(job batch.Job, wait bool) (<-chan batch.Result, error) {
	for {
		ch, err := s.pool.Submit(job)
		if err == nil || !wait || !errors.Is(err, batch.ErrQueueFull) {
			return ch, err
		}
		s.log.Debug().Msg("Inference queue full, finalize flush waiting for a slot")
		time.Sleep(submitRetryInterval)
	}
}

// finalize performs the last unconditional flush, emits done, and closes.
// Returns true when the done message was delivered.
func (s *Session) finalize() bool {
	if err := s.state.Finalize(); err != nil {
		s.log.Warn().Err(err).Msg("Ignoring stop message")
		return false
	}
	s.log.Info().Int("totalFragments", s.acc.Total()).Msg("Stop received, flushing remaining audio")

	if s.acc.Len() > 0 {
		if err := s.flush("finalize"); err != nil {
			s.fail(err)
			return false
		}
	}

	if err := s.conn.WriteMessage(ServerMessage{Type: TypeDone}); err != nil {
		s.fail(err)
		return false
	}
	s.state.Close()
	s.log.Info().Msg("Session complete")
	return true
}
