package models

import (
	"time"

	"github.com/google/uuid"
)

// SeasonStatus defines the lifecycle status of a season.
type SeasonStatus string

const (
	SeasonStatusSetup      SeasonStatus = "SETUP"
	SeasonStatusOpen       SeasonStatus = "OPEN"
	SeasonStatusActive     SeasonStatus = "ACTIVE"
	SeasonStatusCompleted  SeasonStatus = "COMPLETED"
	SeasonStatusCancelled  SeasonStatus = "CANCELLED"
	SeasonStatusTerminated SeasonStatus = "TERMINATED"
)

// ReturnsPolicy governs whether, and how often, a player may contribute
// again to a chain they have already played in. MaxPlays is the total number
// of plays allowed per player per game; MinGap is the number of turns that
// must elapse in the game between two plays by the same player.
// MaxPlays 1 means no returns at all.
type ReturnsPolicy struct {
	MaxPlays int `json:"max_plays" yaml:"max_plays"`
	MinGap   int `json:"min_gap" yaml:"min_gap"`
}

// Allows reports whether a player with the given history may play the chain
// again. plays is how many times they have contributed, turnsSinceLast how
// many turns the game has advanced since their last contribution.
func (p ReturnsPolicy) Allows(plays, turnsSinceLast int) bool {
	if plays == 0 {
		return true
	}
	if plays >= p.MaxPlays {
		return false
	}
	return turnsSinceLast >= p.MinGap
}

// SeasonPolicy is the per-season snapshot of game rules. It is copied onto
// the season at creation time so later config changes never affect a running
// season.
type SeasonPolicy struct {
	MinPlayers    int           `json:"min_players"`
	MaxPlayers    int           `json:"max_players"`
	OpenDuration  time.Duration `json:"open_duration"`
	TurnsPerGame  int           `json:"turns_per_game"`
	OpeningTurn   TurnType      `json:"opening_turn"`
	ClaimTimeout  time.Duration `json:"claim_timeout"`
	SubmitWarning time.Duration `json:"submit_warning"`
	SubmitTimeout time.Duration `json:"submit_timeout"`
	StaleTimeout  time.Duration `json:"stale_timeout"`
	Returns       ReturnsPolicy `json:"returns"`
}

// GamePolicy returns the per-game snapshot derived from the season policy.
func (p SeasonPolicy) GamePolicy() GamePolicy {
	return GamePolicy{
		TurnsPerGame:  p.TurnsPerGame,
		OpeningTurn:   p.OpeningTurn,
		ClaimTimeout:  p.ClaimTimeout,
		SubmitWarning: p.SubmitWarning,
		SubmitTimeout: p.SubmitTimeout,
		StaleTimeout:  p.StaleTimeout,
		Returns:       p.Returns,
	}
}

// Season is a cohort of players playing several parallel chains together.
type Season struct {
	ID          uuid.UUID    `json:"id"`
	Status      SeasonStatus `json:"status"`
	CreatorID   uuid.UUID    `json:"creator_id"`
	Policy      SeasonPolicy `json:"policy"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	ActivatedAt *time.Time   `json:"activated_at,omitempty"`
	ClosedAt    *time.Time   `json:"closed_at,omitempty"`
}

// Membership records one player's enrollment in a season.
// The (PlayerID, SeasonID) pair is unique.
type Membership struct {
	PlayerID uuid.UUID `json:"player_id"`
	SeasonID uuid.UUID `json:"season_id"`
	JoinedAt time.Time `json:"joined_at"`
}
