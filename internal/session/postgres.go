package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if err := initSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			connection_id TEXT NOT NULL DEFAULT '',
			input_language TEXT NOT NULL,
			output_language TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_activity_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions (expires_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init session schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, connection_id, input_language, output_language, status, created_at, last_activity_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID,
		sess.ConnectionID,
		sess.InputLanguage,
		sess.OutputLanguage,
		string(sess.Status),
		sess.CreatedAt,
		sess.LastActivityAt,
		sess.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrStoreExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (Session, error) {
	var (
		sess   Session
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, connection_id, input_language, output_language, status, created_at, last_activity_at, expires_at
		 FROM sessions WHERE id=$1`,
		sessionID,
	).Scan(&sess.ID, &sess.ConnectionID, &sess.InputLanguage, &sess.OutputLanguage, &status, &sess.CreatedAt, &sess.LastActivityAt, &sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrStoreNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.Status = Status(status)
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.LastActivityAt = sess.LastActivityAt.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	return sess, nil
}

func (s *PostgresStore) Update(ctx context.Context, sess Session) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET connection_id=$2, status=$3, last_activity_at=$4
		 WHERE id=$1`,
		sess.ID,
		sess.ConnectionID,
		string(sess.Status),
		sess.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStoreNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close is a no-op; the shared pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }
