package session

import "time"

type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusEnded  Status = "ended"
)

// DefaultTTL bounds a session's lifetime from creation.
const DefaultTTL = 24 * time.Hour

// Session is the conversation entity, decoupled from the connection serving it.
type Session struct {
	ID             string    `json:"sessionId"`
	ConnectionID   string    `json:"connectionId,omitempty"`
	InputLanguage  string    `json:"inputLanguage"`
	OutputLanguage string    `json:"outputLanguage"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Expired reports whether the session is logically absent at now.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Options tunes StartSession.
type Options struct {
	ConnectionID string
	TTL          time.Duration
}
