// Package selector holds the two next-participant selection algorithms:
// push-offer for season play and pull-select for ad hoc play. Both are pure
// functions over their inputs; callers gather the stats and have already
// excluded players holding a pending turn elsewhere.
package selector

import (
	"bytes"
	"time"

	"github.com/google/uuid"

	"github.com/JonathanHarford/epyc/internal/models"
)

// Candidate is one season member considered for a push offer.
type Candidate struct {
	PlayerID uuid.UUID
	// TurnsTaken is the member's completed turn count across the season.
	TurnsTaken int
	// LastTurnAt is when their most recent season turn completed; the zero
	// value means they have not taken one yet.
	LastTurnAt time.Time
	// PlaysInGame and TurnsSinceLastPlay describe their history in the chain
	// being offered, for the returns policy.
	PlaysInGame        int
	TurnsSinceLastPlay int
}

// NextAuthor picks the season member to offer a turn to: fewest turns taken
// so far, tie-broken by longest time since their last turn, then by lowest
// id so the result is deterministic. exclude is the player who just went;
// returns gates members who already played this chain. Returns nil when the
// pool is empty.
func NextAuthor(candidates []Candidate, exclude *uuid.UUID, returns models.ReturnsPolicy) *uuid.UUID {
	var best *Candidate
	for i := range candidates {
		c := &candidates[i]
		if exclude != nil && c.PlayerID == *exclude {
			continue
		}
		if !returns.Allows(c.PlaysInGame, c.TurnsSinceLastPlay) {
			continue
		}
		if best == nil || preferAuthor(c, best) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	id := best.PlayerID
	return &id
}

func preferAuthor(a, b *Candidate) bool {
	if a.TurnsTaken != b.TurnsTaken {
		return a.TurnsTaken < b.TurnsTaken
	}
	// Longest idle wins; the zero value (never played) sorts before any real
	// timestamp and so wins the tie.
	if !a.LastTurnAt.Equal(b.LastTurnAt) {
		return a.LastTurnAt.Before(b.LastTurnAt)
	}
	return lessID(a.PlayerID, b.PlayerID)
}

// OpenGame is one active ad hoc chain considered for a pull selection.
type OpenGame struct {
	GameID       uuid.UUID
	UpdatedAt    time.Time
	StaleTimeout time.Duration
	Returns      models.ReturnsPolicy
	// Plays and TurnsSinceLastPlay describe the requesting player's history
	// in this chain.
	Plays              int
	TurnsSinceLastPlay int
}

// NextGame picks the chain an ad hoc requester should contribute to next.
// Games the player may not rejoin under their returns policy are filtered
// out; of the rest the one soonest to go stale wins, so at-risk chains get
// rescued first. Ties go to the oldest updatedAt. Returns nil when no game
// qualifies.
func NextGame(games []OpenGame, now time.Time) *uuid.UUID {
	var best *OpenGame
	for i := range games {
		g := &games[i]
		if !g.Returns.Allows(g.Plays, g.TurnsSinceLastPlay) {
			continue
		}
		if best == nil || preferGame(g, best, now) {
			best = g
		}
	}
	if best == nil {
		return nil
	}
	id := best.GameID
	return &id
}

func preferGame(a, b *OpenGame, now time.Time) bool {
	sa := a.UpdatedAt.Add(a.StaleTimeout).Sub(now)
	sb := b.UpdatedAt.Add(b.StaleTimeout).Sub(now)
	if sa != sb {
		return sa < sb
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return lessID(a.GameID, b.GameID)
}

func lessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
