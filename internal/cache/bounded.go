// Package cache provides the bounded FIFO sets used for inbound dedupe,
// funnel-stage dedupe and bot-echo id tracking.
package cache

import (
	"container/list"
	"sync"
)

// BoundedSet is a fixed-capacity, insertion-ordered string set with O(1)
// membership tests and FIFO eviction. Safe for concurrent use.
type BoundedSet struct {
	mu    sync.Mutex
	cap   int
	order *list.List               // front = oldest
	index map[string]*list.Element // key → order element
}

// NewBoundedSet creates a set that holds at most capacity keys.
// A capacity <= 0 is treated as 1.
func NewBoundedSet(capacity int) *BoundedSet {
	if capacity <= 0 {
		capacity = 1
	}
	return &BoundedSet{
		cap:   capacity,
		order: list.New(),
		index: make(map[string]*list.Element, capacity),
	}
}

// Add inserts key into the set. Re-adding an existing key is a no-op and does
// not change its eviction order. At capacity, the oldest key is evicted first.
func (s *BoundedSet) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[key]; ok {
		return
	}
	if s.order.Len() >= s.cap {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(string))
	}
	s.index[key] = s.order.PushBack(key)
}

// Contains reports whether key is a member.
func (s *BoundedSet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[key]
	return ok
}

// Len returns the current number of members.
func (s *BoundedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
