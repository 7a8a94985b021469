package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/parlance/internal/clock"
)

func newTestManager(t *testing.T) (*Manager, *InMemoryStore, *clock.Mock) {
	t.Helper()
	store := NewInMemoryStore()
	clk := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewManager(store, time.Hour, clk, nil), store, clk
}

func TestManagerStartGetStop(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	s, err := m.StartSession(ctx, "en-US", "es-US", Options{ConnectionID: "c1"})
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}
	if s.Status != StatusActive || s.ConnectionID != "c1" {
		t.Fatalf("unexpected session: %+v", s)
	}
	if !s.ExpiresAt.Equal(s.CreatedAt.Add(time.Hour)) {
		t.Fatalf("ExpiresAt = %v, want CreatedAt+1h", s.ExpiresAt)
	}

	got, err := m.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.InputLanguage != "en-US" || got.OutputLanguage != "es-US" {
		t.Fatalf("unexpected languages: %+v", got)
	}

	ended, err := m.Stop(ctx, s.ID)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", ended.Status, StatusEnded)
	}
}

func TestManagerStartRejectsSameLanguage(t *testing.T) {
	m, store, _ := newTestManager(t)

	_, err := m.StartSession(context.Background(), "en-US", "en-us", Options{})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("errors.Is(err, ErrValidation) = false")
	}
	if store.Len() != 0 {
		t.Fatalf("store has %d records, want 0", store.Len())
	}
}

func TestManagerStartRejectsMissingLanguage(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.StartSession(context.Background(), "", "es-US", Options{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestManagerPauseResume(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	s, _ := m.StartSession(ctx, "en-US", "fr-FR", Options{})

	if _, err := m.Resume(ctx, s.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Resume() on active error = %v, want ErrInvalidState", err)
	}
	paused, err := m.Pause(ctx, s.ID)
	if err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if paused.Status != StatusPaused {
		t.Fatalf("Status = %q, want paused", paused.Status)
	}
	if _, err := m.Pause(ctx, s.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Pause() on paused error = %v, want ErrInvalidState", err)
	}
	resumed, err := m.Resume(ctx, s.ID)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.Status != StatusActive {
		t.Fatalf("Status = %q, want active", resumed.Status)
	}
}

func TestManagerEndedIsTerminal(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	s, _ := m.StartSession(ctx, "en-US", "de-DE", Options{})
	if _, err := m.Stop(ctx, s.ID); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	_, err := m.Pause(ctx, s.ID)
	var stateErr *InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("Pause() on ended error = %v, want *InvalidStateError", err)
	}
	if stateErr.Status != StatusEnded {
		t.Fatalf("InvalidStateError.Status = %q, want ended", stateErr.Status)
	}
	if _, err := m.Resume(ctx, s.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Resume() on ended error = %v, want ErrInvalidState", err)
	}
	if _, err := m.Touch(ctx, s.ID, "c9"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Touch() on ended error = %v, want ErrInvalidState", err)
	}
	if got, _ := m.Get(ctx, s.ID); got.ConnectionID == "c9" {
		t.Fatalf("Touch() on ended session rebound it to c9")
	}

	again, err := m.Stop(ctx, s.ID)
	if err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if again.Status != StatusEnded {
		t.Fatalf("Status = %q, want ended", again.Status)
	}
}

func TestManagerLazyExpiry(t *testing.T) {
	ctx := context.Background()
	m, store, clk := newTestManager(t)
	s, _ := m.StartSession(ctx, "en-US", "es-US", Options{})

	clk.Advance(59 * time.Minute)
	if _, err := m.Touch(ctx, s.ID, ""); err != nil {
		t.Fatalf("Touch() before expiry error = %v", err)
	}

	clk.Advance(2 * time.Minute)
	ops := map[string]func() error{
		"get":    func() error { _, err := m.Get(ctx, s.ID); return err },
		"touch":  func() error { _, err := m.Touch(ctx, s.ID, ""); return err },
		"pause":  func() error { _, err := m.Pause(ctx, s.ID); return err },
		"resume": func() error { _, err := m.Resume(ctx, s.ID); return err },
		"stop":   func() error { _, err := m.Stop(ctx, s.ID); return err },
	}
	for name, op := range ops {
		var nf *NotFoundError
		if err := op(); !errors.As(err, &nf) {
			t.Fatalf("%s after expiry error = %v, want *NotFoundError", name, err)
		}
	}
	if store.Len() != 1 {
		t.Fatalf("expired record should stay until reaped, store has %d", store.Len())
	}
}

func TestManagerTouchRebindsAndIsMonotonic(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newTestManager(t)
	s, _ := m.StartSession(ctx, "en-US", "es-US", Options{ConnectionID: "c1"})

	clk.Advance(time.Minute)
	touched, err := m.Touch(ctx, s.ID, "c2")
	if err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if touched.ConnectionID != "c2" {
		t.Fatalf("ConnectionID = %q, want c2", touched.ConnectionID)
	}
	if !touched.LastActivityAt.After(s.LastActivityAt) {
		t.Fatalf("LastActivityAt did not advance: %v <= %v", touched.LastActivityAt, s.LastActivityAt)
	}

	kept, err := m.Touch(ctx, s.ID, "")
	if err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if kept.ConnectionID != "c2" {
		t.Fatalf("empty connection id should keep binding, got %q", kept.ConnectionID)
	}
	if kept.LastActivityAt.Before(touched.LastActivityAt) {
		t.Fatalf("LastActivityAt went backwards")
	}
}

func TestManagerTouchUnknownSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.Touch(context.Background(), "missing", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Touch() error = %v, want ErrNotFound", err)
	}
}

func TestManagerReapExpired(t *testing.T) {
	ctx := context.Background()
	m, store, clk := newTestManager(t)
	_, _ = m.StartSession(ctx, "en-US", "es-US", Options{TTL: time.Minute})
	_, _ = m.StartSession(ctx, "en-US", "it-IT", Options{})

	var reaped int
	m.SetExpireHook(func(n int) { reaped = n })
	clk.Advance(2 * time.Minute)
	m.reapExpired(ctx)

	if reaped != 1 {
		t.Fatalf("reaped = %d, want 1", reaped)
	}
	if store.Len() != 1 {
		t.Fatalf("store has %d records, want 1", store.Len())
	}
}
