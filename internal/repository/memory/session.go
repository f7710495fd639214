package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/models"
)

func (s *Store) PutSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now().UTC()
	key := sessionKey{playerID: session.PlayerID, kind: session.Kind}
	if existing, ok := s.sessions[key]; ok {
		session.ID = existing.ID
		session.CreatedAt = existing.CreatedAt
	} else {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	cp := *session
	s.sessions[key] = &cp
	return nil
}

func (s *Store) GetSession(ctx context.Context, playerID uuid.UUID, kind string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionKey{playerID: playerID, kind: kind}]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *Store) DeleteSession(ctx context.Context, playerID uuid.UUID, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey{playerID: playerID, kind: kind})
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, session := range s.sessions {
		if !before.Before(session.ExpiresAt) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed, nil
}
