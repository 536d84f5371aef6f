// Package debounce coalesces bursts of inbound messages from one conversation
// into a single processed turn.
package debounce

import (
	"strings"
	"sync"
	"time"
)

// Separator joins the texts of one burst into a combined turn, preserving
// arrival order.
const Separator = " | "

// FlushFunc receives one combined turn. It runs on the timer goroutine and is
// invoked exactly once per fired accumulation.
type FlushFunc func(conversation, combined string, count int)

type entry struct {
	texts []string
	timer *time.Timer
	gen   uint64 // bumped on every reschedule; a stale fire is a no-op
}

// Accumulator buffers messages per conversation and fires the flush callback
// after a quiet period of the configured window. A new Append always wins a
// race against an in-flight expiry: at most one of cancel-and-reschedule or
// fire-and-clear happens per generation, never both.
type Accumulator struct {
	mu      sync.Mutex
	window  time.Duration
	flush   FlushFunc
	pending map[string]*entry
	stopped bool
}

// New creates an accumulator with the given debounce window.
func New(window time.Duration, flush FlushFunc) *Accumulator {
	return &Accumulator{
		window:  window,
		flush:   flush,
		pending: make(map[string]*entry),
	}
}

// Append adds text to the conversation's pending buffer and restarts its
// delay timer.
func (a *Accumulator) Append(conversation, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return
	}

	e, ok := a.pending[conversation]
	if !ok {
		e = &entry{}
		a.pending[conversation] = e
	}
	e.texts = append(e.texts, text)
	e.gen++
	gen := e.gen

	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(a.window, func() {
		a.fire(conversation, gen)
	})
}

// fire hands off the buffer for a conversation if the firing timer is still
// the current generation. Superseded timers (a later Append rescheduled) and
// timers racing a Stop are dropped without effect.
func (a *Accumulator) fire(conversation string, gen uint64) {
	a.mu.Lock()
	e, ok := a.pending[conversation]
	if !ok || a.stopped || e.gen != gen || len(e.texts) == 0 {
		a.mu.Unlock()
		return
	}
	texts := e.texts
	delete(a.pending, conversation)
	a.mu.Unlock()

	a.flush(conversation, strings.Join(texts, Separator), len(texts))
}

// Pending returns the number of conversations with a live accumulation.
func (a *Accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Stop cancels all timers and drops pending buffers. Used on shutdown; the
// debounce state is process-local and rebuilt fresh on restart.
func (a *Accumulator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	for conv, e := range a.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(a.pending, conv)
	}
}
