package session

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("session not found")
	ErrInvalidState = errors.New("invalid session state")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type InvalidStateError struct {
	SessionID string
	Op        string
	Status    Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s session %s in status %s", e.Op, e.SessionID, e.Status)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }
