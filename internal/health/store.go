package health

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store keeps verdicts readable beyond this process's lifetime.
type Store interface {
	Save(ctx context.Context, agg AggregateHealth) error
	// Latest reports false when nothing has been saved yet.
	Latest(ctx context.Context) (AggregateHealth, bool, error)
	Close() error
}

type InMemoryStore struct {
	mu     sync.RWMutex
	latest AggregateHealth
	saved  int
}

func NewInMemoryStore() *InMemoryStore { return &InMemoryStore{} }

func (s *InMemoryStore) Save(_ context.Context, agg AggregateHealth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = agg
	s.saved++
	return nil
}

func (s *InMemoryStore) Latest(context.Context) (AggregateHealth, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.saved > 0, nil
}

func (s *InMemoryStore) Saved() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saved
}

func (s *InMemoryStore) Close() error { return nil }

// NewStore returns the postgres store when a pool is configured, otherwise in-memory.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (Store, error) {
	if pool == nil {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, pool)
}
