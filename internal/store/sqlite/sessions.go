// Package sqlite implements the standalone session store on a local SQLite
// database (pure-Go driver, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dgarduno-ZAPATA/tono-gateway/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	conversation TEXT PRIMARY KEY,
	state        TEXT NOT NULL,
	context_json TEXT NOT NULL,
	updated_at   TEXT NOT NULL
)`

// SessionStore implements store.SessionStore backed by SQLite.
type SessionStore struct {
	db *sql.DB
}

// Open creates the database file (and parent directory) if needed and ensures
// the schema exists.
func Open(path string) (*SessionStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create session db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The sqlite driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent turn upserts.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure sessions schema: %w", err)
	}
	return &SessionStore{db: db}, nil
}

func (s *SessionStore) Get(ctx context.Context, conversation string) (*store.Session, error) {
	var state, contextJSON, updatedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT state, context_json, updated_at FROM sessions WHERE conversation = ?",
		conversation,
	).Scan(&state, &contextJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", conversation, err)
	}

	sess := &store.Session{
		Conversation: conversation,
		State:        state,
		Context:      map[string]any{},
	}
	// A corrupt context blob degrades to an empty context rather than
	// blocking the conversation.
	_ = json.Unmarshal([]byte(contextJSON), &sess.Context)
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		sess.UpdatedAt = t
	}
	return sess, nil
}

func (s *SessionStore) Upsert(ctx context.Context, conversation, state string, sessionContext map[string]any) error {
	if sessionContext == nil {
		sessionContext = map[string]any{}
	}
	contextJSON, err := json.Marshal(sessionContext)
	if err != nil {
		return fmt.Errorf("marshal session context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (conversation, state, context_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation) DO UPDATE SET
			state        = excluded.state,
			context_json = excluded.context_json,
			updated_at   = excluded.updated_at`,
		conversation, state, string(contextJSON), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", conversation, err)
	}
	return nil
}

func (s *SessionStore) Close() error {
	return s.db.Close()
}
