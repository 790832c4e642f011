package session

import (
	"bytes"
	"testing"
)

func TestAccumulator_AppendAndCounters(t *testing.T) {
	var acc Accumulator

	acc.Append([]byte("abc"))
	acc.Append([]byte("def"))

	if acc.Pending() != 2 {
		t.Errorf("expected 2 pending fragments, got %d", acc.Pending())
	}
	if acc.Total() != 2 {
		t.Errorf("expected 2 total fragments, got %d", acc.Total())
	}
	if acc.Len() != 6 {
		t.Errorf("expected 6 buffered bytes, got %d", acc.Len())
	}
}

func TestAccumulator_FlushReturnsAllAndResets(t *testing.T) {
	var acc Accumulator

	acc.Append([]byte("hello "))
	acc.Append([]byte("world"))

	snapshot := acc.Flush()
	if !bytes.Equal(snapshot, []byte("hello world")) {
		t.Errorf("unexpected snapshot: %q", snapshot)
	}
	if acc.Len() != 0 {
		t.Errorf("expected empty buffer after flush, got %d bytes", acc.Len())
	}
	if acc.Pending() != 0 {
		t.Errorf("expected pending reset after flush, got %d", acc.Pending())
	}
	if acc.Total() != 2 {
		t.Errorf("expected total preserved after flush, got %d", acc.Total())
	}
}

func TestAccumulator_FlushSnapshotIsStable(t *testing.T) {
	var acc Accumulator

	acc.Append([]byte("first"))
	snapshot := acc.Flush()
	acc.Append([]byte("second"))

	if !bytes.Equal(snapshot, []byte("first")) {
		t.Errorf("snapshot mutated by later appends: %q", snapshot)
	}
}

func TestAccumulator_MultipleFlushCycles(t *testing.T) {
	var acc Accumulator

	acc.Append([]byte("one"))
	first := acc.Flush()
	acc.Append([]byte("two"))
	acc.Append([]byte("three"))
	second := acc.Flush()

	if !bytes.Equal(first, []byte("one")) {
		t.Errorf("unexpected first flush: %q", first)
	}
	if !bytes.Equal(second, []byte("twothree")) {
		t.Errorf("unexpected second flush: %q", second)
	}
	if acc.Total() != 3 {
		t.Errorf("expected total 3 across cycles, got %d", acc.Total())
	}
}

func TestAccumulator_RestorePrepends(t *testing.T) {
	var acc Accumulator

	acc.Append([]byte("lost"))
	snapshot := acc.Flush()

	acc.Append([]byte("new"))
	acc.Restore(snapshot, 1)

	if acc.Pending() != 2 {
		t.Errorf("expected 2 pending after restore, got %d", acc.Pending())
	}
	combined := acc.Flush()
	if !bytes.Equal(combined, []byte("lostnew")) {
		t.Errorf("expected restored bytes first, got %q", combined)
	}
}
