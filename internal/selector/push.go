package selector

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/JonathanHarford/epyc/internal/models"
	"github.com/JonathanHarford/epyc/internal/repository"
)

// Push is the season-play selection mode: it gathers member stats from the
// repository, drops anyone already holding a pending turn, and applies the
// fairness rule. The rule itself stays swappable behind the engine's
// CandidateSource seam.
type Push struct {
	turns repository.TurnStore
}

func NewPush(turns repository.TurnStore) *Push {
	return &Push{turns: turns}
}

// NextCandidate returns the next member to offer the game's open turn to, or
// nil when the pool is empty.
func (p *Push) NextCandidate(ctx context.Context, game models.Game, exclude *uuid.UUID) (*uuid.UUID, error) {
	if game.SeasonID == nil {
		return nil, nil
	}
	stats, err := p.turns.SeasonCandidates(ctx, *game.SeasonID, game.ID)
	if err != nil {
		return nil, fmt.Errorf("season candidates: %w", err)
	}
	candidates := make([]Candidate, 0, len(stats))
	for _, s := range stats {
		if s.HoldsPendingTurn {
			continue
		}
		c := Candidate{
			PlayerID:           s.PlayerID,
			TurnsTaken:         s.TurnsTaken,
			PlaysInGame:        s.PlaysInGame,
			TurnsSinceLastPlay: s.TurnsSinceLastPlay,
		}
		if s.LastTurnAt != nil {
			c.LastTurnAt = *s.LastTurnAt
		}
		candidates = append(candidates, c)
	}
	return NextAuthor(candidates, exclude, game.Policy.Returns), nil
}
