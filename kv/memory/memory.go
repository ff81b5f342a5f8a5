package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pure-golang/sendgrid/kv"
)

var _ kv.Store = (*Store)(nil)

type entry struct {
	value     string
	expiresAt time.Time
}

// Store is an in-process kv.Store. Expired keys are dropped on access.
type Store struct {
	mx    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		items: make(map[string]entry),
		now:   time.Now,
	}
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	e, ok := s.items[key]
	if !ok {
		return "", kv.ErrKeyNotFound
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.items, key)
		return "", kv.ErrKeyNotFound
	}
	return e.value, nil
}

func (s *Store) Set(_ context.Context, key, value string, expiration time.Duration) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	e := entry{value: value}
	if expiration > 0 {
		e.expiresAt = s.now().Add(expiration)
	}
	s.items[key] = e
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
