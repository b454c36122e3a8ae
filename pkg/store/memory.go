package store

import (
	"context"
	"sync"

	"github.com/mcclowes/reqon/pkg/value"
)

// MemoryStore is a mutex-guarded in-memory backend. Filtering runs
// client-side over List() output since there's no native query support.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]value.Value
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]value.Value)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (value.Value, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, rec value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, partial value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[key]
	if !ok {
		s.records[key] = partial
		return nil
	}
	s.records[key] = shallowMerge(existing, partial)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]value.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]value.Value, 0, len(s.records))
	for _, rec := range s.records {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else if filter.Offset >= len(out) {
		out = nil
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Count(ctx context.Context, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.records {
		if filter.Matches(rec) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) BulkSet(ctx context.Context, recs map[string]value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range recs {
		s.records[k] = v
	}
	return nil
}

func (s *MemoryStore) BulkUpsert(ctx context.Context, recs map[string]value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range recs {
		if existing, ok := s.records[k]; ok {
			s.records[k] = shallowMerge(existing, v)
		} else {
			s.records[k] = v
		}
	}
	return nil
}

func (s *MemoryStore) Flush(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                    { return nil }
