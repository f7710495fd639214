package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/models"
)

func (s *Store) CreateSeason(ctx context.Context, season *models.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seasons[season.ID]; ok {
		return apperr.ErrConflict
	}
	now := s.clock.Now().UTC()
	season.CreatedAt = now
	season.UpdatedAt = now
	cp := *season
	s.seasons[season.ID] = &cp
	return nil
}

func (s *Store) GetSeason(ctx context.Context, id uuid.UUID) (*models.Season, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	season, ok := s.seasons[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *season
	return &cp, nil
}

func (s *Store) UpdateSeasonStatus(ctx context.Context, id uuid.UUID, expected, next models.SeasonStatus) (*models.Season, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	season, ok := s.seasons[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if season.Status != expected {
		return nil, apperr.ErrConflict
	}
	now := s.clock.Now().UTC()
	season.Status = next
	season.UpdatedAt = now
	switch next {
	case models.SeasonStatusActive:
		season.ActivatedAt = &now
	case models.SeasonStatusCompleted, models.SeasonStatusCancelled, models.SeasonStatusTerminated:
		season.ClosedAt = &now
	}
	cp := *season
	return &cp, nil
}

func (s *Store) AddMembership(ctx context.Context, m models.Membership, maxPlayers int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seasons[m.SeasonID]; !ok {
		return apperr.ErrNotFound
	}
	members := s.memberships[m.SeasonID]
	if len(members) >= maxPlayers {
		return apperr.ErrConflict
	}
	for _, existing := range members {
		if existing.PlayerID == m.PlayerID {
			return apperr.ErrConflict
		}
	}
	s.memberships[m.SeasonID] = append(members, m)
	return nil
}

func (s *Store) ListMemberships(ctx context.Context, seasonID uuid.UUID) ([]models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.memberships[seasonID]
	out := make([]models.Membership, len(members))
	copy(out, members)
	return out, nil
}

func (s *Store) CountMemberships(ctx context.Context, seasonID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.memberships[seasonID]), nil
}
