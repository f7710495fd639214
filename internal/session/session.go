// Package session keeps multi-step interaction state (setup wizards, drafts
// in progress) as short-lived persisted records instead of in-process maps,
// so a flow survives restarts and works across service instances.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/models"
	"github.com/JonathanHarford/epyc/internal/repository"
)

// DefaultTTL bounds how long an abandoned wizard lingers.
const DefaultTTL = 30 * time.Minute

// PurgeInterval is how often the expired-session sweep runs.
const PurgeInterval = 15 * time.Minute

// Scheduler arms the recurring purge sweep.
type Scheduler interface {
	Schedule(ctx context.Context, jobType models.JobType, targetID uuid.UUID, dueAt time.Time) (uuid.UUID, error)
}

// Store wraps the repository with JSON encoding and TTL handling. A player
// has at most one session per kind; Put replaces it.
type Store struct {
	sessions repository.SessionStore
	sched    Scheduler
	clock    clockwork.Clock
}

func NewStore(sessions repository.SessionStore, sched Scheduler, clock clockwork.Clock) *Store {
	return &Store{sessions: sessions, sched: sched, clock: clock}
}

// Put saves the player's session state for the given kind with the TTL.
// A non-positive ttl gets DefaultTTL.
func (s *Store) Put(ctx context.Context, playerID uuid.UUID, kind string, state any, ttl time.Duration) error {
	if kind == "" {
		return apperr.Validationf("kind", "must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	session := &models.Session{
		ID:        uuid.New(),
		PlayerID:  playerID,
		Kind:      kind,
		Data:      data,
		ExpiresAt: s.clock.Now().UTC().Add(ttl),
	}
	if err := s.sessions.PutSession(ctx, session); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// Get decodes the player's session state into out. Expired rows read as
// apperr.ErrNotFound; the sweep removes them later.
func (s *Store) Get(ctx context.Context, playerID uuid.UUID, kind string, out any) error {
	session, err := s.sessions.GetSession(ctx, playerID, kind)
	if err != nil {
		return err
	}
	if session.Expired(s.clock.Now().UTC()) {
		return apperr.ErrNotFound
	}
	if err := json.Unmarshal(session.Data, out); err != nil {
		return fmt.Errorf("decode session state: %w", err)
	}
	return nil
}

// Delete drops the player's session for the kind, if any.
func (s *Store) Delete(ctx context.Context, playerID uuid.UUID, kind string) error {
	return s.sessions.DeleteSession(ctx, playerID, kind)
}

// PurgeExpired removes every expired session and re-arms the sweep. It is
// the SESSION_PURGE job handler.
func (s *Store) PurgeExpired(ctx context.Context) error {
	now := s.clock.Now().UTC()
	removed, err := s.sessions.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return fmt.Errorf("delete expired sessions: %w", err)
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("expired sessions purged")
	}
	return s.SchedulePurge(ctx)
}

// SchedulePurge arms the next sweep. The fixed target id keeps at most one
// sweep pending.
func (s *Store) SchedulePurge(ctx context.Context) error {
	dueAt := s.clock.Now().UTC().Add(PurgeInterval)
	if _, err := s.sched.Schedule(ctx, models.JobTypeSessionPurge, uuid.Nil, dueAt); err != nil {
		return fmt.Errorf("schedule session purge: %w", err)
	}
	return nil
}
