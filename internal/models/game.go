package models

import (
	"time"

	"github.com/google/uuid"
)

// GameStatus defines the lifecycle status of a single chain.
type GameStatus string

const (
	GameStatusActive     GameStatus = "ACTIVE"
	GameStatusCompleted  GameStatus = "COMPLETED"
	GameStatusTerminated GameStatus = "TERMINATED"
)

// GamePolicy is the per-game snapshot of chain rules. Season games inherit it
// from the season policy; ad hoc games carry their own copy.
type GamePolicy struct {
	TurnsPerGame  int           `json:"turns_per_game"`
	OpeningTurn   TurnType      `json:"opening_turn"`
	ClaimTimeout  time.Duration `json:"claim_timeout"`
	SubmitWarning time.Duration `json:"submit_warning"`
	SubmitTimeout time.Duration `json:"submit_timeout"`
	StaleTimeout  time.Duration `json:"stale_timeout"`
	Returns       ReturnsPolicy `json:"returns"`
}

// TurnTypeFor returns the contribution type for a 1-indexed turn number,
// alternating from the opening turn type.
func (p GamePolicy) TurnTypeFor(turnNumber int) TurnType {
	first := p.OpeningTurn
	if first == "" {
		first = TurnTypeWriting
	}
	if turnNumber%2 == 1 {
		return first
	}
	if first == TurnTypeWriting {
		return TurnTypeDrawing
	}
	return TurnTypeWriting
}

// Game is one chain of alternating writing and drawing turns. SeasonID is nil
// for ad hoc chains. UpdatedAt doubles as the staleness clock: a game left
// untouched past its stale timeout is considered at risk of abandonment.
// Stalled marks a season game whose last offer found no eligible candidate;
// it needs operator attention.
type Game struct {
	ID        uuid.UUID  `json:"id"`
	SeasonID  *uuid.UUID `json:"season_id,omitempty"`
	Status    GameStatus `json:"status"`
	Stalled   bool       `json:"stalled"`
	Policy    GamePolicy `json:"policy"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Staleness returns how long until the game is considered abandoned.
// Negative values mean it is already past its stale timeout.
func (g *Game) Staleness(now time.Time) time.Duration {
	return g.UpdatedAt.Add(g.Policy.StaleTimeout).Sub(now)
}
