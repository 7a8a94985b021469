package connections

import "time"

const DefaultTTL = 2 * time.Hour

// Record marks one reachable transport endpoint.
type Record struct {
	ID          string    `json:"connectionId"`
	ConnectedAt time.Time `json:"connectedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (r Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
