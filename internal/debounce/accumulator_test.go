package debounce

import (
	"sync"
	"testing"
	"time"
)

type flushRecorder struct {
	mu      sync.Mutex
	flushes []flushCall
	ch      chan flushCall
}

type flushCall struct {
	conversation string
	combined     string
	count        int
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{ch: make(chan flushCall, 16)}
}

func (r *flushRecorder) flush(conversation, combined string, count int) {
	r.mu.Lock()
	call := flushCall{conversation, combined, count}
	r.flushes = append(r.flushes, call)
	r.mu.Unlock()
	r.ch <- call
}

func (r *flushRecorder) wait(t *testing.T, timeout time.Duration) flushCall {
	t.Helper()
	select {
	case call := <-r.ch:
		return call
	case <-time.After(timeout):
		t.Fatal("timed out waiting for flush")
		return flushCall{}
	}
}

func (r *flushRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flushes)
}

func TestAccumulator_BurstProducesOneTurn(t *testing.T) {
	rec := newFlushRecorder()
	a := New(40*time.Millisecond, rec.flush)
	defer a.Stop()

	a.Append("A", "hola")
	a.Append("A", "cuanto cuesta")

	call := rec.wait(t, time.Second)
	if call.conversation != "A" {
		t.Errorf("conversation = %q, want A", call.conversation)
	}
	if call.combined != "hola | cuanto cuesta" {
		t.Errorf("combined = %q, want %q", call.combined, "hola | cuanto cuesta")
	}
	if call.count != 2 {
		t.Errorf("count = %d, want 2", call.count)
	}

	time.Sleep(80 * time.Millisecond)
	if rec.total() != 1 {
		t.Fatalf("flushes = %d, want exactly 1", rec.total())
	}
}

func TestAccumulator_SingleMessageNoSeparator(t *testing.T) {
	rec := newFlushRecorder()
	a := New(20*time.Millisecond, rec.flush)
	defer a.Stop()

	a.Append("A", "hola")
	call := rec.wait(t, time.Second)
	if call.combined != "hola" || call.count != 1 {
		t.Errorf("got (%q, %d), want (hola, 1)", call.combined, call.count)
	}
}

func TestAccumulator_QuietGapStartsNewTurn(t *testing.T) {
	rec := newFlushRecorder()
	a := New(30*time.Millisecond, rec.flush)
	defer a.Stop()

	a.Append("A", "primero")
	first := rec.wait(t, time.Second)

	a.Append("A", "segundo")
	second := rec.wait(t, time.Second)

	if first.combined != "primero" || second.combined != "segundo" {
		t.Errorf("turns = (%q, %q), want independent turns", first.combined, second.combined)
	}
	if rec.total() != 2 {
		t.Errorf("flushes = %d, want 2", rec.total())
	}
}

func TestAccumulator_RescheduleFiresOnce(t *testing.T) {
	rec := newFlushRecorder()
	a := New(50*time.Millisecond, rec.flush)
	defer a.Stop()

	// N-1 cancels-and-reschedules, then let the Nth timer expire.
	const n = 10
	for i := 0; i < n; i++ {
		a.Append("A", "msg")
		time.Sleep(10 * time.Millisecond) // well within the window
	}

	call := rec.wait(t, time.Second)
	if call.count != n {
		t.Errorf("count = %d, want %d", call.count, n)
	}

	time.Sleep(120 * time.Millisecond)
	if rec.total() != 1 {
		t.Fatalf("flushes = %d, want exactly 1", rec.total())
	}
	if a.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after flush", a.Pending())
	}
}

func TestAccumulator_ConversationsAreIndependent(t *testing.T) {
	rec := newFlushRecorder()
	a := New(30*time.Millisecond, rec.flush)
	defer a.Stop()

	a.Append("A", "a1")
	a.Append("B", "b1")
	a.Append("A", "a2")

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		call := rec.wait(t, time.Second)
		got[call.conversation] = call.combined
	}
	if got["A"] != "a1 | a2" {
		t.Errorf("A = %q, want %q", got["A"], "a1 | a2")
	}
	if got["B"] != "b1" {
		t.Errorf("B = %q, want %q", got["B"], "b1")
	}
}

func TestAccumulator_StopCancelsTimers(t *testing.T) {
	rec := newFlushRecorder()
	a := New(30*time.Millisecond, rec.flush)

	a.Append("A", "hola")
	a.Stop()

	time.Sleep(80 * time.Millisecond)
	if rec.total() != 0 {
		t.Errorf("flushes after Stop = %d, want 0", rec.total())
	}

	// Appends after Stop are dropped.
	a.Append("A", "tarde")
	if a.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after Stop", a.Pending())
	}
}
