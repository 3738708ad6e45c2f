package memory

import (
	"context"
	"sync"

	"github.com/niallgpt/niallgpt/internal/domain"
)

// KVStore is an in-memory implementation of domain.KVStore.
// It is NOT persistent and is only suitable for development / tests.
type KVStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	quota  int
	used   int
}

type Option func(*KVStore)

// WithQuota caps the total stored bytes, emulating a browser storage quota.
func WithQuota(bytes int) Option {
	return func(s *KVStore) {
		s.quota = bytes
	}
}

func NewKVStore(opts ...Option) *KVStore {
	s := &KVStore{
		values: make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *KVStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *KVStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.used - len(s.values[key]) + len(value)
	if s.quota > 0 && used > s.quota {
		return domain.ErrQuotaExceeded
	}

	s.values[key] = append([]byte(nil), value...)
	s.used = used
	return nil
}

func (s *KVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.used -= len(s.values[key])
	delete(s.values, key)
	return nil
}

func (s *KVStore) Close() error {
	return nil
}
