// Package memory is an in-memory repository backend. It backs tests and
// single-process development runs; the postgres backend is the durable one.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/JonathanHarford/epyc/internal/models"
)

type sessionKey struct {
	playerID uuid.UUID
	kind     string
}

// Store holds every entity behind one mutex. Values handed out are copies so
// callers never alias internal state.
type Store struct {
	mu          sync.Mutex
	clock       clockwork.Clock
	seasons     map[uuid.UUID]*models.Season
	memberships map[uuid.UUID][]models.Membership
	games       map[uuid.UUID]*models.Game
	turns       map[uuid.UUID]*models.Turn
	jobs        map[uuid.UUID]*models.ScheduledJob
	sessions    map[sessionKey]*models.Session
}

func NewStore(clock clockwork.Clock) *Store {
	return &Store{
		clock:       clock,
		seasons:     make(map[uuid.UUID]*models.Season),
		memberships: make(map[uuid.UUID][]models.Membership),
		games:       make(map[uuid.UUID]*models.Game),
		turns:       make(map[uuid.UUID]*models.Turn),
		jobs:        make(map[uuid.UUID]*models.ScheduledJob),
		sessions:    make(map[sessionKey]*models.Session),
	}
}

// InTx runs fn directly. The single mutex already serializes individual
// writes; partial failure rollback is a property only the postgres backend
// provides.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
