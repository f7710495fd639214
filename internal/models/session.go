package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is a short-lived record of multi-step interaction state (wizards,
// drafts in progress) keyed by player. Persisting it through the repository
// lets the flow survive restarts and span service instances. Expired rows are
// ignored on read and purged by a background sweep.
type Session struct {
	ID        uuid.UUID `json:"id"`
	PlayerID  uuid.UUID `json:"player_id"`
	Kind      string    `json:"kind"`
	Data      []byte    `json:"data"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the session is past its TTL.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
