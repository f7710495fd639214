package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/models"
	"github.com/JonathanHarford/epyc/internal/repository"
)

func (s *Store) CreateGame(ctx context.Context, game *models.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[game.ID]; ok {
		return apperr.ErrConflict
	}
	now := s.clock.Now().UTC()
	game.CreatedAt = now
	game.UpdatedAt = now
	cp := *game
	s.games[game.ID] = &cp
	return nil
}

func (s *Store) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	game, ok := s.games[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *game
	return &cp, nil
}

func (s *Store) UpdateGameStatus(ctx context.Context, id uuid.UUID, expected, next models.GameStatus) (*models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	game, ok := s.games[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if game.Status != expected {
		return nil, apperr.ErrConflict
	}
	game.Status = next
	game.UpdatedAt = s.clock.Now().UTC()
	cp := *game
	return &cp, nil
}

func (s *Store) SetGameStalled(ctx context.Context, id uuid.UUID, stalled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	game, ok := s.games[id]
	if !ok {
		return apperr.ErrNotFound
	}
	game.Stalled = stalled
	return nil
}

func (s *Store) TouchGame(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	game, ok := s.games[id]
	if !ok {
		return apperr.ErrNotFound
	}
	game.UpdatedAt = at.UTC()
	return nil
}

func (s *Store) ListGamesBySeason(ctx context.Context, seasonID uuid.UUID) ([]models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Game
	for _, game := range s.games {
		if game.SeasonID != nil && *game.SeasonID == seasonID {
			out = append(out, *game)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) OpenGameCandidates(ctx context.Context, playerID uuid.UUID) ([]repository.OpenGameCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.OpenGameCandidate
	for _, game := range s.games {
		if game.Status != models.GameStatusActive || game.SeasonID != nil {
			continue
		}
		if !s.hasOpenSlotLocked(game) {
			continue
		}
		plays, since := s.playHistoryLocked(playerID, game.ID)
		out = append(out, repository.OpenGameCandidate{
			Game:               *game,
			Plays:              plays,
			TurnsSinceLastPlay: since,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Game.CreatedAt.Before(out[j].Game.CreatedAt) })
	return out, nil
}

// hasOpenSlotLocked reports whether the game's latest turn can be taken: an
// unclaimed offer, a skipped slot, or room after the last completed turn.
func (s *Store) hasOpenSlotLocked(game *models.Game) bool {
	var latest *models.Turn
	for _, turn := range s.turns {
		if turn.GameID != game.ID {
			continue
		}
		if latest == nil || turn.TurnNumber > latest.TurnNumber {
			latest = turn
		}
	}
	if latest == nil {
		return false
	}
	switch latest.Status {
	case models.TurnStatusOffered, models.TurnStatusSkipped:
		return true
	case models.TurnStatusCompleted:
		return game.Policy.TurnsPerGame == 0 || latest.TurnNumber < game.Policy.TurnsPerGame
	default:
		return false
	}
}

// playHistoryLocked counts the player's standing contributions in the game
// (completed, pending or flagged; skipped slots do not count) and how many
// turns the game has advanced since the last one.
func (s *Store) playHistoryLocked(playerID, gameID uuid.UUID) (plays, turnsSince int) {
	latest, lastPlayed := 0, 0
	for _, turn := range s.turns {
		if turn.GameID != gameID {
			continue
		}
		if turn.TurnNumber > latest {
			latest = turn.TurnNumber
		}
		if !turn.HeldBy(playerID) {
			continue
		}
		switch turn.Status {
		case models.TurnStatusPending, models.TurnStatusFlagged, models.TurnStatusCompleted:
			plays++
			if turn.TurnNumber > lastPlayed {
				lastPlayed = turn.TurnNumber
			}
		}
	}
	if plays > 0 {
		turnsSince = latest - lastPlayed
	}
	return plays, turnsSince
}
