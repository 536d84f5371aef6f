package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dgarduno-ZAPATA/tono-gateway/internal/store"
)

func openTestStore(t *testing.T) *SessionStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionStore_GetAbsent(t *testing.T) {
	s := openTestStore(t)

	sess, err := s.Get(context.Background(), "521555@s.whatsapp.net")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess != nil {
		t.Errorf("Get absent = %+v, want nil", sess)
	}
}

func TestSessionStore_UpsertRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	conv := "521555@s.whatsapp.net"

	err := s.Upsert(ctx, conv, store.DefaultState, map[string]any{
		"interest": "Foton Auman",
		"visits":   float64(2),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	sess, err := s.Get(ctx, conv)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess == nil {
		t.Fatal("Get returned nil after Upsert")
	}
	if sess.State != store.DefaultState {
		t.Errorf("State = %q, want %q", sess.State, store.DefaultState)
	}
	if sess.Context["interest"] != "Foton Auman" {
		t.Errorf("Context[interest] = %v, want Foton Auman", sess.Context["interest"])
	}
	if sess.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set")
	}
}

func TestSessionStore_UpsertReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	conv := "521555@s.whatsapp.net"

	if err := s.Upsert(ctx, conv, "start", map[string]any{"a": "1"}); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	if err := s.Upsert(ctx, conv, "quoted", map[string]any{"b": "2"}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	sess, err := s.Get(ctx, conv)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.State != "quoted" {
		t.Errorf("State = %q, want quoted", sess.State)
	}
	if _, stale := sess.Context["a"]; stale {
		t.Error("old context key should be replaced, not merged")
	}
	if sess.Context["b"] != "2" {
		t.Errorf("Context[b] = %v, want 2", sess.Context["b"])
	}
}

func TestSessionStore_NilContext(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, "conv", "start", nil); err != nil {
		t.Fatalf("Upsert nil context: %v", err)
	}
	sess, err := s.Get(ctx, "conv")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Context == nil {
		t.Error("Context should decode to an empty map, not nil")
	}
}
