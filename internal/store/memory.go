package store

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore implements RecordStore with in-memory storage for unit
// tests. Error injection is supported for exercising failure paths.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	// writes counts successful Set calls for test assertions.
	writes int

	// --- Error injection fields for testing ---

	// GetErr is returned by Get when non-nil.
	GetErr error

	// SetErr is returned by Set when non-nil.
	SetErr error

	// ErrOnKey causes operations on specific keys to fail.
	ErrOnKey map[string]error

	// QuotaAfterNWrites forces ErrQuotaExceeded once N writes have
	// succeeded (0 disables). Used to test forced-stripping retries.
	QuotaAfterNWrites int

	// DropWrites silently discards Set payloads while reporting success,
	// simulating a store whose write acknowledgment lies. Used to test
	// write verification.
	DropWrites bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) keyErr(key string) error {
	if s.ErrOnKey == nil {
		return nil
	}
	return s.ErrOnKey[key]
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	if err := s.keyErr(key); err != nil {
		return nil, err
	}
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetErr != nil {
		return s.SetErr
	}
	if err := s.keyErr(key); err != nil {
		return err
	}
	if s.QuotaAfterNWrites > 0 && s.writes >= s.QuotaAfterNWrites {
		return ErrQuotaExceeded
	}
	s.writes++
	if s.DropWrites {
		return nil
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.data[key] = v
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.keyErr(key); err != nil {
		return err
	}
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// WriteCount returns the number of successful Set calls.
func (s *MemoryStore) WriteCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
