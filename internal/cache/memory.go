package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/crossref-cli/internal/model"
)

// MemoryStore is an in-process Store. Safe for concurrent use. Entries sit
// in a recency list, most recently used at the front, so eviction is O(1).
type MemoryStore struct {
	opts Options

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List

	hits, misses, evictions atomic.Int64

	nowFunc func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:    opts.withDefaults(),
		entries: make(map[string]*list.Element),
		order:   list.New(),
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	el, ok := s.entries[key]
	if !ok {
		s.misses.Add(1)
		return nil, nil
	}
	e := el.Value.(*Entry)
	if !now.Before(e.ExpiresAt) {
		s.misses.Add(1)
		return nil, nil
	}
	e.HitCount++
	e.LastAccessed = now
	s.order.MoveToFront(el)
	s.hits.Add(1)
	return copyEntry(e), nil
}

func (s *MemoryStore) Put(_ context.Context, key string, stage model.Stage, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	var e *Entry
	if el, ok := s.entries[key]; ok {
		e = el.Value.(*Entry)
		s.order.MoveToFront(el)
	} else {
		e = &Entry{Fingerprint: key}
		s.entries[key] = s.order.PushFront(e)
	}
	e.Stage = stage
	e.Payload = append([]byte(nil), payload...)
	e.CreatedAt = now
	e.ExpiresAt = now.Add(s.opts.TTL)
	e.LastAccessed = now

	s.evictLocked()
	return nil
}

// evictLocked drops least recently used entries from the back of the list
// until the store is within capacity.
func (s *MemoryStore) evictLocked() {
	for len(s.entries) > s.opts.MaxEntries {
		s.removeLocked(s.order.Back())
		s.evictions.Add(1)
	}
}

func (s *MemoryStore) removeLocked(el *list.Element) {
	s.order.Remove(el)
	delete(s.entries, el.Value.(*Entry).Fingerprint)
}

func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	removed := 0
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		if !now.Before(el.Value.(*Entry).ExpiresAt) {
			s.removeLocked(el)
			removed++
		}
		el = next
	}
	return removed, nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	st := Stats{
		Backend:   "memory",
		Entries:   len(s.entries),
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
	}
	for el := s.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		st.TotalHits += e.HitCount
		if !now.Before(e.ExpiresAt) {
			st.Expired++
		}
	}
	return st, nil
}

func (s *MemoryStore) Close() error { return nil }

func copyEntry(e *Entry) *Entry {
	out := *e
	out.Payload = append([]byte(nil), e.Payload...)
	return &out
}
