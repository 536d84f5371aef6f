package handoff

import (
	"sync"
	"time"
)

type silenceEntry struct {
	permanent bool
	until     time.Time
}

// SilenceRegistry holds per-conversation suspension state. A silenced
// conversation still accumulates inbound messages, but the automated pipeline
// must not reply until the silence expires or is lifted.
type SilenceRegistry struct {
	mu      sync.Mutex
	entries map[string]silenceEntry

	now func() time.Time // overridable in tests
}

// NewSilenceRegistry creates an empty registry.
func NewSilenceRegistry() *SilenceRegistry {
	return &SilenceRegistry{
		entries: make(map[string]silenceEntry),
		now:     time.Now,
	}
}

// Silence suspends the conversation until now+d (auto-reactivation).
func (r *SilenceRegistry) Silence(conversation string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[conversation] = silenceEntry{until: r.now().Add(d)}
}

// SilencePermanent suspends the conversation until explicitly unsilenced.
func (r *SilenceRegistry) SilencePermanent(conversation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[conversation] = silenceEntry{permanent: true}
}

// Unsilence lifts any suspension for the conversation.
func (r *SilenceRegistry) Unsilence(conversation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, conversation)
}

// IsSilenced reports whether the conversation is currently suspended.
// Expired entries are removed lazily on check.
func (r *SilenceRegistry) IsSilenced(conversation string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[conversation]
	if !ok {
		return false
	}
	if e.permanent {
		return true
	}
	if r.now().Before(e.until) {
		return true
	}
	delete(r.entries, conversation)
	return false
}

// Remaining returns how long the conversation stays silenced, and whether the
// silence is permanent. Zero duration with ok=false means not silenced.
func (r *SilenceRegistry) Remaining(conversation string) (d time.Duration, permanent, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, found := r.entries[conversation]
	if !found {
		return 0, false, false
	}
	if e.permanent {
		return 0, true, true
	}
	left := e.until.Sub(r.now())
	if left <= 0 {
		delete(r.entries, conversation)
		return 0, false, false
	}
	return left, false, true
}

// Count returns the number of conversations with a live silence entry.
// Expired entries that have not been touched since expiry are included; they
// are purged on their next check.
func (r *SilenceRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
