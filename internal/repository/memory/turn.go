package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/models"
	"github.com/JonathanHarford/epyc/internal/repository"
)

func (s *Store) CreateTurn(ctx context.Context, turn *models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.turns[turn.ID]; ok {
		return apperr.ErrConflict
	}
	for _, existing := range s.turns {
		if existing.GameID == turn.GameID && existing.TurnNumber == turn.TurnNumber {
			return apperr.ErrConflict
		}
	}
	if turn.Status == models.TurnStatusPending && turn.PlayerID != nil &&
		s.holdsOtherPendingLocked(*turn.PlayerID, turn.ID) {
		return apperr.ErrConflict
	}
	now := s.clock.Now().UTC()
	turn.CreatedAt = now
	turn.UpdatedAt = now
	cp := *turn
	s.turns[turn.ID] = &cp
	return nil
}

func (s *Store) GetTurn(ctx context.Context, id uuid.UUID) (*models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn, ok := s.turns[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *turn
	return &cp, nil
}

func (s *Store) UpdateTurn(ctx context.Context, id uuid.UUID, expected models.TurnStatus, upd repository.TurnUpdate) (*models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn, ok := s.turns[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if turn.Status != expected {
		return nil, apperr.ErrConflict
	}
	if upd.Status == models.TurnStatusPending {
		holder := turn.PlayerID
		if upd.SetPlayer {
			holder = upd.PlayerID
		}
		if holder != nil && s.holdsOtherPendingLocked(*holder, turn.ID) {
			return nil, apperr.ErrConflict
		}
	}
	turn.Status = upd.Status
	if upd.SetPlayer {
		turn.PlayerID = upd.PlayerID
	}
	if upd.SetContent {
		turn.Content = upd.Content
	}
	if upd.SetOfferedAt {
		turn.OfferedAt = upd.OfferedAt
	}
	if upd.SetClaimedAt {
		turn.ClaimedAt = upd.ClaimedAt
	}
	turn.UpdatedAt = s.clock.Now().UTC()
	cp := *turn
	return &cp, nil
}

// holdsOtherPendingLocked mirrors the partial unique index on
// (player_id) WHERE status = 'PENDING': at most one pending turn per player,
// no matter which rows the caller has looked at.
func (s *Store) holdsOtherPendingLocked(playerID, exceptTurnID uuid.UUID) bool {
	for _, turn := range s.turns {
		if turn.ID == exceptTurnID {
			continue
		}
		if turn.Status == models.TurnStatusPending && turn.HeldBy(playerID) {
			return true
		}
	}
	return false
}

func (s *Store) ListTurnsByGame(ctx context.Context, gameID uuid.UUID) ([]models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Turn
	for _, turn := range s.turns {
		if turn.GameID == gameID {
			out = append(out, *turn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TurnNumber < out[j].TurnNumber })
	return out, nil
}

func (s *Store) LatestTurn(ctx context.Context, gameID uuid.UUID) (*models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Turn
	for _, turn := range s.turns {
		if turn.GameID != gameID {
			continue
		}
		if latest == nil || turn.TurnNumber > latest.TurnNumber {
			latest = turn
		}
	}
	if latest == nil {
		return nil, apperr.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) CountPendingTurnsByPlayer(ctx context.Context, playerID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, turn := range s.turns {
		if turn.Status == models.TurnStatusPending && turn.HeldBy(playerID) {
			count++
		}
	}
	return count, nil
}

func (s *Store) SeasonCandidates(ctx context.Context, seasonID, gameID uuid.UUID) ([]repository.SeasonCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seasonGames := make(map[uuid.UUID]bool)
	for _, game := range s.games {
		if game.SeasonID != nil && *game.SeasonID == seasonID {
			seasonGames[game.ID] = true
		}
	}

	members := s.memberships[seasonID]
	out := make([]repository.SeasonCandidate, 0, len(members))
	for _, m := range members {
		cand := repository.SeasonCandidate{PlayerID: m.PlayerID}
		for _, turn := range s.turns {
			if !turn.HeldBy(m.PlayerID) {
				continue
			}
			if turn.Status == models.TurnStatusPending {
				cand.HoldsPendingTurn = true
			}
			if turn.Status == models.TurnStatusCompleted && seasonGames[turn.GameID] {
				cand.TurnsTaken++
				if cand.LastTurnAt == nil || turn.UpdatedAt.After(*cand.LastTurnAt) {
					at := turn.UpdatedAt
					cand.LastTurnAt = &at
				}
			}
		}
		cand.PlaysInGame, cand.TurnsSinceLastPlay = s.playHistoryLocked(m.PlayerID, gameID)
		out = append(out, cand)
	}
	return out, nil
}
