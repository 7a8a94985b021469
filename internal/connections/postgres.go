package connections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists connection records in PostgreSQL so any process
// behind the load balancer can resolve a connection id.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			connected_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_connections_expires ON connections (expires_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("init connection schema failed on %q: %w", stmt, err)
		}
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Put(ctx context.Context, r Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO connections (id, connected_at, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET connected_at=EXCLUDED.connected_at, expires_at=EXCLUDED.expires_at`,
		r.ID, r.ConnectedAt, r.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("put connection: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	var r Record
	err := s.pool.QueryRow(ctx,
		`SELECT id, connected_at, expires_at FROM connections WHERE id=$1`, id,
	).Scan(&r.ID, &r.ConnectedAt, &r.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrStoreNotFound
		}
		return Record{}, fmt.Errorf("get connection: %w", err)
	}
	r.ConnectedAt = r.ConnectedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()
	return r, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM connections WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, connected_at, expires_at FROM connections ORDER BY connected_at`)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.ConnectedAt, &r.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		r.ConnectedAt = r.ConnectedAt.UTC()
		r.ExpiresAt = r.ExpiresAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM connections WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired connections: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the shared pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }
