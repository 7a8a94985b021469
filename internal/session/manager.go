package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/parlance/internal/clock"
)

// Manager owns the session state machine. All state lives in the Store; the
// manager itself holds no per-session memory, so concurrent writers on the same
// session race at the store with last-write-wins.
type Manager struct {
	store  Store
	ttl    time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.RWMutex
	onExpire func(removed int)
}

func NewManager(store Store, ttl time.Duration, clk clock.Clock, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		clock:  clk,
		logger: logger,
	}
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// SetExpireHook registers a callback invoked after each janitor reap.
func (m *Manager) SetExpireHook(hook func(removed int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) StartSession(ctx context.Context, inputLang, outputLang string, opts Options) (Session, error) {
	inputLang = strings.TrimSpace(inputLang)
	outputLang = strings.TrimSpace(outputLang)
	if inputLang == "" {
		return Session{}, &ValidationError{Field: "inputLanguage", Reason: "is required"}
	}
	if outputLang == "" {
		return Session{}, &ValidationError{Field: "outputLanguage", Reason: "is required"}
	}
	if strings.EqualFold(inputLang, outputLang) {
		return Session{}, &ValidationError{Field: "outputLanguage", Reason: "must differ from inputLanguage"}
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = m.ttl
	}
	now := m.clock.Now()
	s := Session{
		ID:             uuid.NewString(),
		ConnectionID:   strings.TrimSpace(opts.ConnectionID),
		InputLanguage:  inputLang,
		OutputLanguage: outputLang,
		Status:         StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := m.store.Create(ctx, s); err != nil {
		return Session{}, fmt.Errorf("start session: %w", err)
	}
	return s, nil
}

// Get returns the session unless it is missing or past its TTL.
func (m *Manager) Get(ctx context.Context, sessionID string) (Session, error) {
	return m.load(ctx, sessionID)
}

// Touch refreshes last activity. A non-empty connectionID rebinds the session
// to the connection now serving it. Ended sessions are rejected.
func (m *Manager) Touch(ctx context.Context, sessionID, connectionID string) (Session, error) {
	return m.mutate(ctx, sessionID, func(s *Session) error {
		if s.Status == StatusEnded {
			return &InvalidStateError{SessionID: s.ID, Op: "use", Status: s.Status}
		}
		if id := strings.TrimSpace(connectionID); id != "" {
			s.ConnectionID = id
		}
		return nil
	})
}

func (m *Manager) Pause(ctx context.Context, sessionID string) (Session, error) {
	return m.mutate(ctx, sessionID, func(s *Session) error {
		if s.Status != StatusActive {
			return &InvalidStateError{SessionID: s.ID, Op: "pause", Status: s.Status}
		}
		s.Status = StatusPaused
		return nil
	})
}

func (m *Manager) Resume(ctx context.Context, sessionID string) (Session, error) {
	return m.mutate(ctx, sessionID, func(s *Session) error {
		if s.Status != StatusPaused {
			return &InvalidStateError{SessionID: s.ID, Op: "resume", Status: s.Status}
		}
		s.Status = StatusActive
		return nil
	})
}

// Stop ends the session. Stopping an ended session succeeds without a write.
func (m *Manager) Stop(ctx context.Context, sessionID string) (Session, error) {
	s, err := m.load(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if s.Status == StatusEnded {
		return s, nil
	}
	s.Status = StatusEnded
	m.refreshActivity(&s)
	if err := m.save(ctx, s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reapExpired(ctx)
			}
		}
	}()
}

func (m *Manager) reapExpired(ctx context.Context) {
	n, err := m.store.DeleteExpired(ctx, m.clock.Now())
	if err != nil {
		m.logger.Warn("session reap failed", "error", err)
		return
	}
	if n == 0 {
		return
	}
	m.logger.Debug("reaped expired sessions", "count", n)

	m.mu.RLock()
	hook := m.onExpire
	m.mu.RUnlock()
	if hook != nil {
		hook(n)
	}
}

// mutate performs one read-then-write on a live session. Writes to ended
// sessions are rejected by fn where the transition requires it.
func (m *Manager) mutate(ctx context.Context, sessionID string, fn func(*Session) error) (Session, error) {
	s, err := m.load(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if err := fn(&s); err != nil {
		return Session{}, err
	}
	m.refreshActivity(&s)
	if err := m.save(ctx, s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (m *Manager) load(ctx context.Context, sessionID string) (Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Session{}, &NotFoundError{SessionID: sessionID}
	}
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return Session{}, &NotFoundError{SessionID: sessionID}
		}
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	if s.Expired(m.clock.Now()) {
		return Session{}, &NotFoundError{SessionID: sessionID}
	}
	return s, nil
}

func (m *Manager) save(ctx context.Context, s Session) error {
	if err := m.store.Update(ctx, s); err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return &NotFoundError{SessionID: s.ID}
		}
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (m *Manager) refreshActivity(s *Session) {
	now := m.clock.Now()
	if now.After(s.LastActivityAt) {
		s.LastActivityAt = now
	}
}
