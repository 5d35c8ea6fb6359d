package aggregate

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local TimelineStore for development and tests.
// Semantics match RedisStore at millisecond resolution.
type MemoryStore struct {
	mu        sync.RWMutex
	timelines map[string][]int64 // sorted unix millis
	sets      map[string]map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		timelines: make(map[string][]int64),
		sets:      make(map[string]map[string]struct{}),
	}
}

// Insert appends one occurrence at ts, pruning entries past the retention
// horizon.
func (s *MemoryStore) Insert(_ context.Context, key string, ts time.Time, ttl time.Duration) error {
	ms := ts.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	tl := s.timelines[key]
	if n := len(tl); n > 0 && tl[n-1] > ms {
		// Out-of-order arrival: insert in place to keep the slice sorted.
		i := sort.Search(n, func(i int) bool { return tl[i] > ms })
		tl = append(tl, 0)
		copy(tl[i+1:], tl[i:])
		tl[i] = ms
	} else {
		tl = append(tl, ms)
	}

	horizon := ts.Add(-ttl).UnixMilli()
	cut := sort.Search(len(tl), func(i int) bool { return tl[i] > horizon })
	s.timelines[key] = tl[cut:]
	return nil
}

// CountRange counts occurrences with from < t <= to.
func (s *MemoryStore) CountRange(_ context.Context, key string, from, to time.Time) (int64, error) {
	fromMs, toMs := from.UnixMilli(), to.UnixMilli()

	s.mu.RLock()
	defer s.mu.RUnlock()

	tl := s.timelines[key]
	lo := sort.Search(len(tl), func(i int) bool { return tl[i] > fromMs })
	hi := sort.Search(len(tl), func(i int) bool { return tl[i] > toMs })
	return int64(hi - lo), nil
}

// Last returns the most recent occurrence on the timeline.
func (s *MemoryStore) Last(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tl := s.timelines[key]
	if len(tl) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(tl[len(tl)-1]), true, nil
}

// FirstSince returns the earliest occurrence at or after since.
func (s *MemoryStore) FirstSince(_ context.Context, key string, since time.Time) (time.Time, bool, error) {
	ms := since.UnixMilli()

	s.mu.RLock()
	defer s.mu.RUnlock()

	tl := s.timelines[key]
	i := sort.Search(len(tl), func(i int) bool { return tl[i] >= ms })
	if i == len(tl) {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(tl[i]), true, nil
}

// AddMember adds member to the set at key. Expiry is not enforced locally.
func (s *MemoryStore) AddMember(_ context.Context, key, member string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

// Cardinality returns the distinct-member count of the set at key.
func (s *MemoryStore) Cardinality(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.sets[key])), nil
}
