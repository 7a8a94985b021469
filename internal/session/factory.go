package session

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewStore returns the postgres store when a pool is configured, otherwise in-memory.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (Store, error) {
	if pool == nil {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, pool)
}
