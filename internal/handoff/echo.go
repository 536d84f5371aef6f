// Package handoff decides whether an outbound message on the business line was
// sent by this gateway or by a human advisor, and tracks per-conversation
// silencing while an advisor has taken over.
package handoff

import (
	"sync"
	"time"

	"github.com/dgarduno-ZAPATA/tono-gateway/internal/cache"
)

// recentTextCap bounds the per-conversation ring of literal sent texts.
// The ring is a short recognition window, not a transcript.
const recentTextCap = 10

// EchoTracker records what the gateway itself has sent so that provider
// echoes of our own messages are not mistaken for a human takeover.
type EchoTracker struct {
	mu          sync.Mutex
	sentIDs     *cache.BoundedSet
	recentTexts map[string][]string
	lastSend    map[string]time.Time
	window      time.Duration

	now func() time.Time // overridable in tests
}

// NewEchoTracker creates a tracker. idCapacity bounds the global sent-id set;
// window is the recency window within which any outbound message on a
// conversation is attributed to the gateway's own last send.
func NewEchoTracker(idCapacity int, window time.Duration) *EchoTracker {
	return &EchoTracker{
		sentIDs:     cache.NewBoundedSet(idCapacity),
		recentTexts: make(map[string][]string),
		lastSend:    make(map[string]time.Time),
		window:      window,
		now:         time.Now,
	}
}

// RecordSend registers a successful outbound send. msgID may be empty when the
// provider response did not include one; text may be empty for media-only sends.
func (e *EchoTracker) RecordSend(conversation, msgID, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if msgID != "" {
		e.sentIDs.Add(msgID)
	}
	if text != "" {
		ring := append(e.recentTexts[conversation], text)
		if len(ring) > recentTextCap {
			ring = ring[len(ring)-recentTextCap:]
		}
		e.recentTexts[conversation] = ring
	}
	e.lastSend[conversation] = e.now()
}

// IsBotMessage reports whether an outbound message observed on the business
// line originated from this gateway. Three layers, in priority order:
// exact id match, exact recent-text match, then the recency window.
func (e *EchoTracker) IsBotMessage(conversation, msgID, text string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if msgID != "" && e.sentIDs.Contains(msgID) {
		return true
	}
	if text != "" {
		for _, sent := range e.recentTexts[conversation] {
			if sent == text {
				return true
			}
		}
	}
	if last, ok := e.lastSend[conversation]; ok {
		if e.now().Sub(last) < e.window {
			return true
		}
	}
	return false
}

// TrackedIDs returns the number of sent message ids currently remembered.
func (e *EchoTracker) TrackedIDs() int {
	return e.sentIDs.Len()
}
