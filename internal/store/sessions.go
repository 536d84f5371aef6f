// Package store defines the durable per-conversation session state.
// Sessions are the only gateway state that survives a restart; debounce,
// dedupe and silence state are process-local by design.
package store

import (
	"context"
	"time"
)

// DefaultState is the processing-state label for a conversation that has not
// completed a turn yet.
const DefaultState = "start"

// Session is one durable row keyed by conversation identity.
type Session struct {
	Conversation string         `json:"conversation"`
	State        string         `json:"state"`
	Context      map[string]any `json:"context"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// SessionStore persists conversation sessions.
//
// Get returns (nil, nil) for an absent conversation. Upsert atomically
// replaces state, context and timestamp in a single statement; concurrent
// upserts for different conversations must not cross-contaminate.
type SessionStore interface {
	Get(ctx context.Context, conversation string) (*Session, error)
	Upsert(ctx context.Context, conversation, state string, sessionContext map[string]any) error
	Close() error
}
