package session

import "bytes"

// Accumulator is the per-session append-only audio buffer. Each flush
// returns everything accumulated since the previous flush and clears the
// buffer, so every snapshot decodes as a standalone file even when the
// transport only sends container headers in the first fragment.
//
// Not safe for concurrent use; it is owned by the session loop.
type Accumulator struct {
	buf     bytes.Buffer
	pending int
	total   int
}

// Append adds a fragment to the end of the buffer and increments both the
// since-last-flush and total counters.
func (a *Accumulator) Append(fragment []byte) {
	a.buf.Write(fragment)
	a.pending++
	a.total++
}

// Flush returns a snapshot of the buffered audio and resets the buffer and
// the since-last-flush counter. The total counter is preserved.
func (a *Accumulator) Flush() []byte {
	snapshot := make([]byte, a.buf.Len())
	copy(snapshot, a.buf.Bytes())
	a.buf.Reset()
	a.pending = 0
	return snapshot
}

// Restore puts a flushed snapshot back at the front of the buffer. Used
// when the scheduler rejects a job so the audio rides along with the next
// flush instead of being lost.
func (a *Accumulator) Restore(snapshot []byte, fragments int) {
	rest := a.buf.Bytes()
	combined := make([]byte, 0, len(snapshot)+len(rest))
	combined = append(combined, snapshot...)
	combined = append(combined, rest...)
	a.buf.Reset()
	a.buf.Write(combined)
	a.pending += fragments
}

// Pending returns the fragment count since the last flush.
func (a *Accumulator) Pending() int { return a.pending }

// Total returns the monotonic fragment count for the session.
func (a *Accumulator) Total() int { return a.total }

// Len returns the buffered byte count.
func (a *Accumulator) Len() int { return a.buf.Len() }
