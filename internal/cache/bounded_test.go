package cache

import (
	"fmt"
	"testing"
)

func TestBoundedSet_UnderCapacity(t *testing.T) {
	s := NewBoundedSet(10)
	for i := 0; i < 10; i++ {
		s.Add(fmt.Sprintf("k%d", i))
	}
	if s.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", s.Len())
	}
	for i := 0; i < 10; i++ {
		if !s.Contains(fmt.Sprintf("k%d", i)) {
			t.Errorf("k%d missing", i)
		}
	}
}

func TestBoundedSet_EvictsOldestFirst(t *testing.T) {
	s := NewBoundedSet(3)
	for i := 0; i < 5; i++ {
		s.Add(fmt.Sprintf("k%d", i))
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	// Only the 3 most recently added remain.
	for _, gone := range []string{"k0", "k1"} {
		if s.Contains(gone) {
			t.Errorf("%s should have been evicted", gone)
		}
	}
	for _, kept := range []string{"k2", "k3", "k4"} {
		if !s.Contains(kept) {
			t.Errorf("%s should still be a member", kept)
		}
	}
}

func TestBoundedSet_ReAddDoesNotChangeOrder(t *testing.T) {
	s := NewBoundedSet(2)
	s.Add("a")
	s.Add("b")
	s.Add("a") // no-op: "a" keeps its slot as oldest
	s.Add("c") // evicts "a", not "b"

	if s.Contains("a") {
		t.Error("re-added key should not gain recency; a should be evicted")
	}
	if !s.Contains("b") || !s.Contains("c") {
		t.Error("b and c should be members")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestBoundedSet_ZeroCapacity(t *testing.T) {
	s := NewBoundedSet(0)
	s.Add("a")
	s.Add("b")
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
	if !s.Contains("b") {
		t.Error("most recent key should be retained")
	}
}
