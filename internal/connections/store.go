package connections

import (
	"context"
	"errors"
	"time"
)

var ErrStoreNotFound = errors.New("connection not found in store")

type Store interface {
	// Put creates or replaces the record.
	Put(ctx context.Context, r Record) error
	Get(ctx context.Context, id string) (Record, error)
	// Delete is a no-op for unknown ids.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Record, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
	Close() error
}
