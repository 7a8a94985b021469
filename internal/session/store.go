package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrStoreNotFound = errors.New("session not found in store")
	ErrStoreExists   = errors.New("session already exists in store")
)

// Store persists session records with per-key read and conditional write semantics.
type Store interface {
	// Create fails with ErrStoreExists when the id is taken.
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (Session, error)
	// Update fails with ErrStoreNotFound when the record is gone.
	Update(ctx context.Context, s Session) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Close() error
}
