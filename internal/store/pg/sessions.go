// Package pg implements the managed session store on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dgarduno-ZAPATA/tono-gateway/internal/store"
)

// SessionStore implements store.SessionStore backed by Postgres. Schema is
// managed by migrations, not at open.
type SessionStore struct {
	db *sql.DB
}

// Open connects with the pgx stdlib driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*SessionStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &SessionStore{db: db}, nil
}

func (s *SessionStore) Get(ctx context.Context, conversation string) (*store.Session, error) {
	var state string
	var contextJSON []byte
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT state, context_json, updated_at FROM sessions WHERE conversation = $1",
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
		UpdatedAt:    updatedAt,
	}
	_ = json.Unmarshal(contextJSON, &sess.Context)
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
		VALUES ($1, $2, $3, now())
		ON CONFLICT (conversation) DO UPDATE SET
			state        = EXCLUDED.state,
			context_json = EXCLUDED.context_json,
			updated_at   = EXCLUDED.updated_at`,
		conversation, state, contextJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", conversation, err)
	}
	return nil
}

func (s *SessionStore) Close() error {
	return s.db.Close()
}
