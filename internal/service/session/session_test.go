package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"whisper-transcription-service/internal/events"
	"whisper-transcription-service/internal/models"
	"whisper-transcription-service/internal/observability/metrics"
	"whisper-transcription-service/internal/service/batch"
	"whisper-transcription-service/internal/service/engine"
)

// scriptConn feeds a session a fixed sequence of messages, then reports an
// orderly client disconnect. The session runs on the test goroutine, so
// writes need no locking.
type scriptConn struct {
	script   []scriptStep
	idx      int
	writes   []ServerMessage
	failType string // server message type whose write fails
}

type scriptStep struct {
	msg ClientMessage
	err error
}

func (c *scriptConn) ReadMessage() (ClientMessage, error) {
	if c.idx >= len(c.script) {
		return ClientMessage{}, ErrClientGone
	}
	step := c.script[c.idx]
	c.idx++
	return step.msg, step.err
}

func (c *scriptConn) WriteMessage(msg ServerMessage) error {
	if c.failType != "" && msg.Type == c.failType {
		return errors.New("transport write failed")
	}
	c.writes = append(c.writes, msg)
	return nil
}

func (c *scriptConn) writeTypes() []string {
	types := make([]string, len(c.writes))
	for i, w := range c.writes {
		types[i] = w.Type
	}
	return types
}

// recordingEngine captures every inference call. Results default to a
// numbered transcript; errs and results override per call index.
type recordingEngine struct {
	mu          sync.Mutex
	calls       [][]byte
	langs       []string
	results     map[int]models.TranscriptionResult
	errs        map[int]error
	delay       time.Duration
	inFlight    int
	maxInFlight int
}

func (e *recordingEngine) Info() engine.Info {
	return engine.Info{Name: "recording", Model: "test", Device: "cpu", ComputeType: "int8"}
}

func (e *recordingEngine) Transcribe(_ context.Context, audioData []byte, language string) (models.TranscriptionResult, error) {
	e.mu.Lock()
	n := len(e.calls)
	e.calls = append(e.calls, append([]byte(nil), audioData...))
	e.langs = append(e.langs, language)
	e.inFlight++
	if e.inFlight > e.maxInFlight {
		e.maxInFlight = e.inFlight
	}
	e.mu.Unlock()

	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight--
	if err, ok := e.errs[n]; ok {
		return models.TranscriptionResult{}, err
	}
	if res, ok := e.results[n]; ok {
		return res, nil
	}
	return models.TranscriptionResult{
		Language: language,
		Duration: float64(len(audioData)) / 32000.0,
		Text:     fmt.Sprintf("transcript %d", n+1),
	}, nil
}

func (e *recordingEngine) snapshot() ([][]byte, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.calls...), append([]string(nil), e.langs...)
}

func newTestSession(t *testing.T, conn Conn, eng engine.Engine, opts Options) (*Session, *batch.Pool) {
	t.Helper()
	pool := batch.NewPool(eng, 2, 8, metrics.DefaultMetrics)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return New(conn, pool, events.New(nil), opts, metrics.DefaultMetrics), pool
}

func audioMsg(data string) ClientMessage {
	return ClientMessage{Type: TypeAudio, Data: base64.StdEncoding.EncodeToString([]byte(data))}
}

func TestSession_ThresholdFlushScenario(t *testing.T) {
	conn := &scriptConn{script: []scriptStep{
		{msg: ClientMessage{Type: TypeConfig, Language: "en"}},
		{msg: audioMsg("one")},
		{msg: audioMsg("two")},
		{msg: audioMsg("three")},
		{msg: ClientMessage{Type: TypeStop}},
	}}
	eng := &recordingEngine{}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 3})

	sess.Run()

	calls, langs := eng.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected exactly 1 inference call, got %d", len(calls))
	}
	if !bytes.Equal(calls[0], []byte("onetwothree")) {
		t.Errorf("unexpected inference input: %q", calls[0])
	}
	if langs[0] != "en" {
		t.Errorf("expected language en, got %q", langs[0])
	}

	want := []string{TypeReady, TypeTranscript, TypeDone}
	got := conn.writeTypes()
	if len(got) != len(want) {
		t.Fatalf("expected messages %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected messages %v, got %v", want, got)
		}
	}
	if sess.State() != StateClosed {
		t.Errorf("expected CLOSED after stop, got %s", sess.State())
	}
}

func TestSession_FinalizeFlushesRemainder(t *testing.T) {
	conn := &scriptConn{script: []scriptStep{
		{msg: ClientMessage{Type: TypeConfig}},
		{msg: audioMsg("partial")},
		{msg: audioMsg("buffer")},
		{msg: ClientMessage{Type: TypeStop}},
	}}
	eng := &recordingEngine{}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 3})

	sess.Run()

	calls, _ := eng.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected finalize to flush once, got %d calls", len(calls))
	}
	if !bytes.Equal(calls[0], []byte("partialbuffer")) {
		t.Errorf("unexpected finalize input: %q", calls[0])
	}
	got := conn.writeTypes()
	if got[len(got)-1] != TypeDone {
		t.Errorf("expected done as last message, got %v", got)
	}
}

func TestSession_ByteConservation(t *testing.T) {
	fragments := []string{"aa", "bb", "cc", "dd", "ee"}
	script := []scriptStep{{msg: ClientMessage{Type: TypeConfig}}}
	for _, f := range fragments {
		script = append(script, scriptStep{msg: audioMsg(f)})
	}
	script = append(script, scriptStep{msg: ClientMessage{Type: TypeStop}})

	conn := &scriptConn{script: script}
	eng := &recordingEngine{}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 2})

	sess.Run()

	calls, _ := eng.snapshot()
	if len(calls) != 3 {
		t.Fatalf("expected 3 flushes (2+2+1 fragments), got %d", len(calls))
	}
	var combined []byte
	for _, c := range calls {
		combined = append(combined, c...)
	}
	if !bytes.Equal(combined, []byte("aabbccddee")) {
		t.Errorf("flushed bytes do not reassemble the stream: %q", combined)
	}
}

func TestSession_StopWithoutAudio(t *testing.T) {
	conn := &scriptConn{script: []scriptStep{
		{msg: ClientMessage{Type: TypeConfig}},
		{msg: ClientMessage{Type: TypeStop}},
	}}
	eng := &recordingEngine{}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 3})

	sess.Run()

	calls, _ := eng.snapshot()
	if len(calls) != 0 {
		t.Errorf("expected no inference for an empty session, got %d calls", len(calls))
	}
	got := conn.writeTypes()
	if len(got) != 2 || got[0] != TypeReady || got[1] != TypeDone {
		t.Errorf("expected [ready done], got %v", got)
	}
}

func TestSession_AudioBeforeConfigUsesDefaultLanguage(t *testing.T) {
	conn := &scriptConn{script: []scriptStep{
		{msg: audioMsg("unconfigured")},
		{msg: ClientMessage{Type: TypeStop}},
	}}
	eng := &recordingEngine{}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 1, DefaultLanguage: "de"})

	sess.Run()

	_, langs := eng.snapshot()
	if len(langs) != 1 || langs[0] != "de" {
		t.Fatalf("expected default language de, got %v", langs)
	}
	for _, w := range conn.writes {
		if w.Type == TypeReady {
			t.Error("ready should only follow an explicit config message")
		}
	}
}

func TestSession_RepeatedConfigKeepsSettings(t *testing.T) {
	conn := &scriptConn{script: []scriptStep{
		{msg: ClientMessage{Type: TypeConfig, Language: "en"}},
		{msg: audioMsg("first")},
		{msg: ClientMessage{Type: TypeConfig, Language: "fr"}},
		{msg: audioMsg("second")},
		{msg: ClientMessage{Type: TypeStop}},
	}}
	eng := &recordingEngine{}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 1})

	sess.Run()

	_, langs := eng.snapshot()
	for i, lang := range langs {
		if lang != "en" {
			t.Errorf("call %d used language %q after a rejected reconfigure", i, lang)
		}
	}
	// The repeat config is ignored for settings but still acknowledged.
	ready := 0
	for _, w := range conn.writes {
		if w.Type == TypeReady {
			ready++
		}
	}
	if ready != 2 {
		t.Errorf("expected both config messages acknowledged, got %d ready messages", ready)
	}
}

func TestSession_ConfigAfterAudioAcknowledged(t *testing.T) {
	conn := &scriptConn{script: []scriptStep{
		{msg: audioMsg("pre")},
		{msg: ClientMessage{Type: TypeConfig, Language: "fr"}},
		{msg: audioMsg("post")},
		{msg: ClientMessage{Type: TypeStop}},
	}}
	eng := &recordingEngine{}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 1})

	sess.Run()

	_, langs := eng.snapshot()
	if len(langs) != 2 {
		t.Fatalf("expected 2 inference calls, got %d", len(langs))
	}
	if langs[0] != "en" {
		t.Errorf("pre-config flush used language %q, want default en", langs[0])
	}
	if langs[1] != "fr" {
		t.Errorf("post-config flush used language %q, want fr", langs[1])
	}
	ready := 0
	for _, w := range conn.writes {
		if w.Type == TypeReady {
			ready++
		}
	}
	if ready != 1 {
		t.Errorf("config after implicit streaming must still be acknowledged, got %d ready messages", ready)
	}
}

func TestSession_EmptyResultNotEmitted(t *testing.T) {
	conn := &scriptConn{script: []scriptStep{
		{msg: ClientMessage{Type: TypeConfig}},
		{msg: audioMsg("silence")},
		{msg: ClientMessage{Type: TypeStop}},
	}}
	eng := &recordingEngine{results: map[int]models.TranscriptionResult{
		0: {Language: "en"},
	}}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 1})

	sess.Run()

	for _, w := range conn.writes {
		if w.Type == TypeTranscript {
			t.Errorf("empty result must not produce a transcript, got %q", w.Text)
		}
	}
	got := conn.writeTypes()
	if got[len(got)-1] != TypeDone {
		t.Errorf("expected done despite silent batch, got %v", got)
	}
}

func TestSession_InferenceFailureKeepsStreaming(t *testing.T) {
	conn := &scriptConn{script: []scriptStep{
		{msg: ClientMessage{Type: TypeConfig}},
		{msg: audioMsg("bad")},
		{msg: audioMsg("good")},
		{msg: ClientMessage{Type: TypeStop}},
	}}
	eng := &recordingEngine{errs: map[int]error{0: errors.New("inference exploded")}}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 1})

	sess.Run()

	calls, _ := eng.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected both batches attempted, got %d calls", len(calls))
	}
	transcripts := 0
	for _, w := range conn.writes {
		if w.Type == TypeTranscript {
			transcripts++
		}
		if w.Type == TypeError {
			t.Error("a failed batch must not surface an error message")
		}
	}
	if transcripts != 1 {
		t.Errorf("expected 1 transcript from the surviving batch, got %d", transcripts)
	}
	got := conn.writeTypes()
	if got[len(got)-1] != TypeDone {
		t.Errorf("expected orderly completion, got %v", got)
	}
}

func TestSession_DisconnectDiscardsBuffer(t *testing.T) {
	conn := &scriptConn{script: []scriptStep{
		{msg: ClientMessage{Type: TypeConfig}},
		{msg: audioMsg("never")},
		{msg: audioMsg("flushed")},
		// Script exhausted: ReadMessage reports ErrClientGone.
	}}
	eng := &recordingEngine{}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 5})

	sess.Run()

	calls, _ := eng.snapshot()
	if len(calls) != 0 {
		t.Errorf("buffered audio must be discarded on disconnect, got %d calls", len(calls))
	}
	for _, w := range conn.writes {
		if w.Type == TypeDone || w.Type == TypeError {
			t.Errorf("no %s message expected after a silent disconnect", w.Type)
		}
	}
	if sess.State() != StateClosed {
		t.Errorf("expected CLOSED after disconnect, got %s", sess.State())
	}
}

func TestSession_MalformedMessageSkipped(t *testing.T) {
	conn := &scriptConn{script: []scriptStep{
		{msg: ClientMessage{Type: TypeConfig}},
		{err: fmt.Errorf("decode frame: %w", ErrMalformed)},
		{msg: audioMsg("survives")},
		{msg: ClientMessage{Type: TypeStop}},
	}}
	eng := &recordingEngine{}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 1})

	sess.Run()

	calls, _ := eng.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected session to survive the malformed message, got %d calls", len(calls))
	}
	if !bytes.Equal(calls[0], []byte("survives")) {
		t.Errorf("unexpected inference input: %q", calls[0])
	}
}

func TestSession_InvalidBase64Dropped(t *testing.T) {
	conn := &scriptConn{script: []scriptStep{
		{msg: ClientMessage{Type: TypeConfig}},
		{msg: ClientMessage{Type: TypeAudio, Data: "%%%not-base64%%%"}},
		{msg: audioMsg("valid")},
		{msg: ClientMessage{Type: TypeStop}},
	}}
	eng := &recordingEngine{}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 1})

	sess.Run()

	calls, _ := eng.snapshot()
	if len(calls) != 1 || !bytes.Equal(calls[0], []byte("valid")) {
		t.Fatalf("expected only the valid fragment to reach inference, got %v", calls)
	}
}

func TestSession_TransportFailureTerminates(t *testing.T) {
	conn := &scriptConn{
		script: []scriptStep{
			{msg: ClientMessage{Type: TypeConfig}},
			{msg: audioMsg("doomed")},
			{msg: ClientMessage{Type: TypeStop}},
		},
		failType: TypeTranscript,
	}
	eng := &recordingEngine{}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 1})

	sess.Run()

	for _, w := range conn.writes {
		if w.Type == TypeDone {
			t.Error("done must not be sent after a transport failure")
		}
	}
	if sess.State() != StateClosed {
		t.Errorf("expected CLOSED after failure handling, got %s", sess.State())
	}
}

func TestSession_SequentialInferencePerSession(t *testing.T) {
	script := []scriptStep{{msg: ClientMessage{Type: TypeConfig}}}
	for i := 0; i < 4; i++ {
		script = append(script, scriptStep{msg: audioMsg(fmt.Sprintf("frag%d", i))})
	}
	script = append(script, scriptStep{msg: ClientMessage{Type: TypeStop}})

	conn := &scriptConn{script: script}
	eng := &recordingEngine{delay: 20 * time.Millisecond}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 1})

	sess.Run()

	eng.mu.Lock()
	maxInFlight := eng.maxInFlight
	calls := len(eng.calls)
	eng.mu.Unlock()
	if calls != 4 {
		t.Fatalf("expected 4 sequential batches, got %d", calls)
	}
	if maxInFlight != 1 {
		t.Errorf("inference overlapped within one session: max in-flight %d", maxInFlight)
	}
}

func TestSession_MaxBufferBytesForcesFlush(t *testing.T) {
	conn := &scriptConn{script: []scriptStep{
		{msg: ClientMessage{Type: TypeConfig}},
		{msg: audioMsg("0123456789")}, // 10 bytes, over the 8-byte cap
		{msg: audioMsg("ab")},
		{msg: ClientMessage{Type: TypeStop}},
	}}
	eng := &recordingEngine{}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 10, MaxBufferBytes: 8})

	sess.Run()

	calls, _ := eng.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected size-triggered flush plus finalize, got %d calls", len(calls))
	}
	if !bytes.Equal(calls[0], []byte("0123456789")) {
		t.Errorf("unexpected size-triggered flush: %q", calls[0])
	}
	if !bytes.Equal(calls[1], []byte("ab")) {
		t.Errorf("unexpected finalize flush: %q", calls[1])
	}
}

func TestSession_PCM16FlushesWrappedAsWAV(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x01, 0x02}, 1600)
	conn := &scriptConn{script: []scriptStep{
		{msg: ClientMessage{Type: TypeConfig, Format: "pcm16", SampleRate: 16000, Channels: 1}},
		{msg: ClientMessage{Type: TypeAudio, Data: base64.StdEncoding.EncodeToString(pcm)}},
		{msg: ClientMessage{Type: TypeStop}},
	}}
	eng := &recordingEngine{}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 1})

	sess.Run()

	calls, _ := eng.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected 1 inference call, got %d", len(calls))
	}
	wrapped := calls[0]
	if len(wrapped) <= len(pcm) {
		t.Fatalf("expected WAV wrapping to add a header, got %d bytes for %d of PCM", len(wrapped), len(pcm))
	}
	if !bytes.Equal(wrapped[0:4], []byte("RIFF")) || !bytes.Equal(wrapped[8:12], []byte("WAVE")) {
		t.Errorf("flushed buffer is not a WAV container: % x", wrapped[0:12])
	}
	if !bytes.Contains(wrapped, pcm) {
		t.Error("WAV container does not carry the PCM payload verbatim")
	}
}

// gateEngine records calls and parks each one until released.
type gateEngine struct {
	mu      sync.Mutex
	calls   [][]byte
	started chan struct{}
	release chan struct{}
}

func (e *gateEngine) Info() engine.Info {
	return engine.Info{Name: "gate", Model: "test", Device: "cpu"}
}

func (e *gateEngine) Transcribe(_ context.Context, audioData []byte, language string) (models.TranscriptionResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, append([]byte(nil), audioData...))
	e.mu.Unlock()
	e.started <- struct{}{}
	<-e.release
	return models.TranscriptionResult{Language: language, Text: "released"}, nil
}

func TestSession_FinalizeWaitsForQueueSlot(t *testing.T) {
	eng := &gateEngine{started: make(chan struct{}, 2), release: make(chan struct{})}
	pool := batch.NewPool(eng, 1, 0, metrics.DefaultMetrics)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	}()

	// Occupy the only worker so the zero-depth queue rejects submissions.
	foreign, err := pool.Submit(batch.Job{SessionID: "other", Audio: []byte("foreign"), Source: "stream"})
	if err != nil {
		t.Fatalf("foreign Submit failed: %v", err)
	}
	<-eng.started

	conn := &scriptConn{script: []scriptStep{
		{msg: ClientMessage{Type: TypeConfig, Language: "en"}},
		{msg: audioMsg("final audio")},
		{msg: ClientMessage{Type: TypeStop}},
	}}
	sess := New(conn, pool, events.New(nil), Options{BatchSize: 5}, metrics.DefaultMetrics)

	finished := make(chan struct{})
	go func() {
		sess.Run()
		close(finished)
	}()

	// The finalize flush must keep retrying instead of completing while
	// the pool is saturated.
	time.Sleep(100 * time.Millisecond)
	select {
	case <-finished:
		t.Fatal("session completed while the pool had no capacity for the final flush")
	default:
	}

	close(eng.release)
	<-foreign

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not complete after a queue slot opened")
	}

	eng.mu.Lock()
	calls := append([][]byte(nil), eng.calls...)
	eng.mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("expected foreign job plus final flush, got %d calls", len(calls))
	}
	if !bytes.Equal(calls[1], []byte("final audio")) {
		t.Errorf("final flush carried %q, want the buffered audio", calls[1])
	}
	got := conn.writeTypes()
	if got[len(got)-1] != TypeDone {
		t.Errorf("expected done after the delayed final flush, got %v", got)
	}
}

func TestSession_PCM16MisalignedFinalizeSurfacesError(t *testing.T) {
	conn := &scriptConn{script: []scriptStep{
		{msg: ClientMessage{Type: TypeConfig, Format: "pcm16", SampleRate: 16000, Channels: 1}},
		{msg: ClientMessage{Type: TypeAudio, Data: base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0x03})}},
		{msg: ClientMessage{Type: TypeStop}},
	}}
	eng := &recordingEngine{}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 5})

	sess.Run()

	calls, _ := eng.snapshot()
	if len(calls) != 0 {
		t.Fatalf("misaligned PCM must not reach inference, got %d calls", len(calls))
	}
	sawError := false
	for _, w := range conn.writes {
		if w.Type == TypeError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected an error message when the final buffer cannot be decoded")
	}
	got := conn.writeTypes()
	if got[len(got)-1] != TypeDone {
		t.Errorf("session should still complete, got %v", got)
	}
}

func TestSession_PCM16MisalignedFlushRetained(t *testing.T) {
	conn := &scriptConn{script: []scriptStep{
		{msg: ClientMessage{Type: TypeConfig, Format: "pcm16", SampleRate: 16000, Channels: 1}},
		{msg: ClientMessage{Type: TypeAudio, Data: base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0x03})}},
		{msg: ClientMessage{Type: TypeAudio, Data: base64.StdEncoding.EncodeToString([]byte{0x04})}},
		{msg: ClientMessage{Type: TypeStop}},
	}}
	eng := &recordingEngine{}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 1})

	sess.Run()

	calls, _ := eng.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected one flush after the buffer realigned, got %d calls", len(calls))
	}
	if !bytes.Contains(calls[0], []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Error("deferred bytes missing from the realigned flush")
	}
	for _, w := range conn.writes {
		if w.Type == TypeError {
			t.Error("a deferred threshold flush must not surface an error")
		}
	}
}

func TestSession_UnknownMessageIgnored(t *testing.T) {
	conn := &scriptConn{script: []scriptStep{
		{msg: ClientMessage{Type: TypeConfig}},
		{msg: ClientMessage{Type: "ping"}},
		{msg: audioMsg("after")},
		{msg: ClientMessage{Type: TypeStop}},
	}}
	eng := &recordingEngine{}
	sess, _ := newTestSession(t, conn, eng, Options{BatchSize: 1})

	sess.Run()

	calls, _ := eng.snapshot()
	if len(calls) != 1 || !bytes.Equal(calls[0], []byte("after")) {
		t.Fatalf("expected session to continue past unknown message, got %v", calls)
	}
}
