package models

import (
	"time"

	"github.com/google/uuid"
)

// TurnType defines the kind of contribution a turn asks for.
type TurnType string

const (
	TurnTypeWriting TurnType = "WRITING"
	TurnTypeDrawing TurnType = "DRAWING"
)

// TurnStatus defines the state of a turn within its game.
type TurnStatus string

const (
	TurnStatusOffered   TurnStatus = "OFFERED"
	TurnStatusPending   TurnStatus = "PENDING"
	TurnStatusCompleted TurnStatus = "COMPLETED"
	TurnStatusSkipped   TurnStatus = "SKIPPED"
	TurnStatusFlagged   TurnStatus = "FLAGGED"
)

// Turn is one contribution slot within a game. PlayerID is nil while the slot
// is unassigned. TurnNumber is 1-indexed, strictly increasing per game with
// no gaps; reassignment mutates the existing row rather than creating a new
// one. Content holds a reference to the submitted contribution.
type Turn struct {
	ID         uuid.UUID  `json:"id"`
	GameID     uuid.UUID  `json:"game_id"`
	PlayerID   *uuid.UUID `json:"player_id,omitempty"`
	TurnNumber int        `json:"turn_number"`
	Type       TurnType   `json:"type"`
	Status     TurnStatus `json:"status"`
	Content    *string    `json:"content,omitempty"`
	OfferedAt  *time.Time `json:"offered_at,omitempty"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// HeldBy reports whether the turn is currently assigned to the given player.
func (t *Turn) HeldBy(playerID uuid.UUID) bool {
	return t.PlayerID != nil && *t.PlayerID == playerID
}
