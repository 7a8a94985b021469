package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore appends one row per monitoring cycle.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS health_verdicts (
			id BIGSERIAL PRIMARY KEY,
			checked_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			recommend_fallback BOOLEAN NOT NULL,
			payload JSONB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_health_verdicts_checked ON health_verdicts (checked_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("init health schema failed on %q: %w", stmt, err)
		}
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Save(ctx context.Context, agg AggregateHealth) error {
	payload, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO health_verdicts (checked_at, status, recommend_fallback, payload) VALUES ($1, $2, $3, $4)`,
		agg.CheckedAt, string(agg.Status), agg.RecommendFallback, payload,
	)
	if err != nil {
		return fmt.Errorf("save verdict: %w", err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context) (AggregateHealth, bool, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM health_verdicts ORDER BY checked_at DESC, id DESC LIMIT 1`,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AggregateHealth{}, false, nil
		}
		return AggregateHealth{}, false, fmt.Errorf("load latest verdict: %w", err)
	}
	var agg AggregateHealth
	if err := json.Unmarshal(payload, &agg); err != nil {
		return AggregateHealth{}, false, fmt.Errorf("decode latest verdict: %w", err)
	}
	return agg, true, nil
}

// Close is a no-op; the shared pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }
