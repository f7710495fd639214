// Package repository defines the storage contracts the orchestration engine
// is written against. Implementations live in repository/postgres and
// repository/memory. All conditional updates are keyed on
// (entity id, expected status) and return apperr.ErrConflict when the entity
// has already left the expected state.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JonathanHarford/epyc/internal/models"
)

// TurnUpdate describes the fields a conditional turn update sets. Status is
// always written; the remaining fields are written only when their Set flag
// is true, so a nil pointer with the flag set clears the column.
type TurnUpdate struct {
	Status models.TurnStatus

	SetPlayer bool
	PlayerID  *uuid.UUID

	SetContent bool
	Content    *string

	SetOfferedAt bool
	OfferedAt    *time.Time

	SetClaimedAt bool
	ClaimedAt    *time.Time
}

// SeasonCandidate is one season member's selection-relevant history, relative
// to a particular game. Plays counts contributions that stand (completed,
// pending or flagged); skipped slots do not count as plays.
type SeasonCandidate struct {
	PlayerID           uuid.UUID
	TurnsTaken         int
	LastTurnAt         *time.Time
	PlaysInGame        int
	TurnsSinceLastPlay int
	HoldsPendingTurn   bool
}

// OpenGameCandidate is an active ad hoc game paired with the requesting
// player's history in it.
type OpenGameCandidate struct {
	Game               models.Game
	Plays              int
	TurnsSinceLastPlay int
}

// SeasonStore persists seasons and memberships.
type SeasonStore interface {
	CreateSeason(ctx context.Context, season *models.Season) error
	GetSeason(ctx context.Context, id uuid.UUID) (*models.Season, error)
	// UpdateSeasonStatus conditionally moves a season from expected to next.
	UpdateSeasonStatus(ctx context.Context, id uuid.UUID, expected, next models.SeasonStatus) (*models.Season, error)
	// AddMembership inserts the membership unless the player is already a
	// member or the season already holds maxPlayers members; both cases
	// return apperr.ErrConflict.
	AddMembership(ctx context.Context, m models.Membership, maxPlayers int) error
	ListMemberships(ctx context.Context, seasonID uuid.UUID) ([]models.Membership, error)
	CountMemberships(ctx context.Context, seasonID uuid.UUID) (int, error)
}

// GameStore persists games.
type GameStore interface {
	CreateGame(ctx context.Context, game *models.Game) error
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	UpdateGameStatus(ctx context.Context, id uuid.UUID, expected, next models.GameStatus) (*models.Game, error)
	SetGameStalled(ctx context.Context, id uuid.UUID, stalled bool) error
	// TouchGame advances the game's staleness clock.
	TouchGame(ctx context.Context, id uuid.UUID, at time.Time) error
	ListGamesBySeason(ctx context.Context, seasonID uuid.UUID) ([]models.Game, error)
	// OpenGameCandidates returns active ad hoc games together with the
	// player's play history in each, for pull-mode selection.
	OpenGameCandidates(ctx context.Context, playerID uuid.UUID) ([]OpenGameCandidate, error)
}

// TurnStore persists turns.
type TurnStore interface {
	CreateTurn(ctx context.Context, turn *models.Turn) error
	GetTurn(ctx context.Context, id uuid.UUID) (*models.Turn, error)
	// UpdateTurn is the atomic conditional-update primitive every turn
	// transition goes through.
	UpdateTurn(ctx context.Context, id uuid.UUID, expected models.TurnStatus, upd TurnUpdate) (*models.Turn, error)
	ListTurnsByGame(ctx context.Context, gameID uuid.UUID) ([]models.Turn, error)
	// LatestTurn returns the turn with the highest turn number in the game,
	// or apperr.ErrNotFound when the game has none.
	LatestTurn(ctx context.Context, gameID uuid.UUID) (*models.Turn, error)
	CountPendingTurnsByPlayer(ctx context.Context, playerID uuid.UUID) (int, error)
	// SeasonCandidates returns every member of the season with their
	// selection stats relative to the given game.
	SeasonCandidates(ctx context.Context, seasonID, gameID uuid.UUID) ([]SeasonCandidate, error)
}

// JobStore persists scheduled jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ScheduledJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.ScheduledJob, error)
	// FindPendingJob returns the PENDING job for the key, or
	// apperr.ErrNotFound when none exists.
	FindPendingJob(ctx context.Context, jobType models.JobType, targetID uuid.UUID) (*models.ScheduledJob, error)
	ListPendingJobs(ctx context.Context) ([]models.ScheduledJob, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, expected, next models.JobStatus) (*models.ScheduledJob, error)
	RecordJobAttempt(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error
	// CancelPendingJobsForTargets cancels every PENDING job aimed at any of
	// the targets and returns the ids of the jobs it cancelled.
	CancelPendingJobsForTargets(ctx context.Context, targets []uuid.UUID) ([]uuid.UUID, error)
}

// SessionStore persists short-lived interaction sessions.
type SessionStore interface {
	// PutSession upserts by (player, kind).
	PutSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, playerID uuid.UUID, kind string) (*models.Session, error)
	DeleteSession(ctx context.Context, playerID uuid.UUID, kind string) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error)
}

// Tx runs fn atomically: either every write inside commits or none does.
type Tx interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store is the full contract a storage backend provides.
type Store interface {
	SeasonStore
	GameStore
	TurnStore
	JobStore
	SessionStore
	Tx
}
