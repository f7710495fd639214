// Package service is the facade the platform adapters call. Every operation
// returns a Result with a stable message key instead of an error: expected
// business outcomes (full season, lost claim race, nothing to join) are
// results, not failures. Only the keys are stable contract; rendering them
// is the adapter's problem.
package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/engine"
	"github.com/JonathanHarford/epyc/internal/game"
	"github.com/JonathanHarford/epyc/internal/models"
	"github.com/JonathanHarford/epyc/internal/repository"
	"github.com/JonathanHarford/epyc/internal/scheduler"
	"github.com/JonathanHarford/epyc/internal/season"
	"github.com/JonathanHarford/epyc/internal/selector"
	"github.com/JonathanHarford/epyc/internal/session"
)

// Result is the outcome of a facade operation.
type Result struct {
	Success bool           `json:"success"`
	Key     string         `json:"key"`
	Data    map[string]any `json:"data,omitempty"`
}

func ok(key string, data map[string]any) Result {
	return Result{Success: true, Key: key, Data: data}
}

func fail(key string, data map[string]any) Result {
	return Result{Success: false, Key: key, Data: data}
}

// Service wires the lifecycle managers and the turn engine behind one
// surface.
type Service struct {
	store    repository.Store
	seasons  *season.Manager
	games    *game.Manager
	engine   *engine.Engine
	sessions *session.Store
	clock    clockwork.Clock
}

func New(store repository.Store, seasons *season.Manager, games *game.Manager, eng *engine.Engine, sessions *session.Store, clock clockwork.Clock) *Service {
	return &Service{
		store:    store,
		seasons:  seasons,
		games:    games,
		engine:   eng,
		sessions: sessions,
		clock:    clock,
	}
}

// RegisterJobHandlers binds every job type to its handler. All handlers are
// idempotent: a duplicate or late firing lands on an already-transitioned
// row and no-ops.
func (s *Service) RegisterJobHandlers(sched *scheduler.Scheduler) {
	sched.RegisterHandler(models.JobTypeClaimTimeout, func(ctx context.Context, job models.ScheduledJob) error {
		return s.engine.DismissOffer(ctx, job.TargetID)
	})
	sched.RegisterHandler(models.JobTypeSubmitWarning, func(ctx context.Context, job models.ScheduledJob) error {
		return s.engine.RemindSubmit(ctx, job.TargetID)
	})
	sched.RegisterHandler(models.JobTypeSubmitTimeout, func(ctx context.Context, job models.ScheduledJob) error {
		return s.engine.Skip(ctx, job.TargetID)
	})
	sched.RegisterHandler(models.JobTypeOpenDurationTimeout, func(ctx context.Context, job models.ScheduledJob) error {
		return s.seasons.HandleOpenDurationTimeout(ctx, job.TargetID)
	})
	sched.RegisterHandler(models.JobTypeSessionPurge, func(ctx context.Context, job models.ScheduledJob) error {
		return s.sessions.PurgeExpired(ctx)
	})
}

func (s *Service) CreateSeason(ctx context.Context, creatorID uuid.UUID, policy models.SeasonPolicy) Result {
	created, err := s.seasons.CreateSeason(ctx, creatorID, policy)
	if err != nil {
		return s.failure(err, "season.conflict")
	}
	return ok("season.created", map[string]any{
		"season_id":   created.ID.String(),
		"max_players": created.Policy.MaxPlayers,
	})
}

func (s *Service) JoinSeason(ctx context.Context, seasonID, playerID uuid.UUID) Result {
	joined, err := s.seasons.JoinSeason(ctx, seasonID, playerID)
	if err != nil {
		return s.failure(err, "season.conflict")
	}
	key := "season.joined"
	if joined.Status == models.SeasonStatusActive {
		key = "season.activated"
	}
	return ok(key, map[string]any{"season_id": seasonID.String()})
}

func (s *Service) TerminateSeason(ctx context.Context, seasonID, adminID uuid.UUID) Result {
	if err := s.seasons.TerminateSeason(ctx, seasonID, adminID); err != nil {
		return s.failure(err, "season.conflict")
	}
	return ok("season.terminated", map[string]any{"season_id": seasonID.String()})
}

// HandleOpenDurationTimeout resolves a season whose enrollment window has
// closed: quorum activates it, otherwise it is cancelled. A late or
// duplicate firing lands on a season already out of OPEN and changes
// nothing.
func (s *Service) HandleOpenDurationTimeout(ctx context.Context, seasonID uuid.UUID) Result {
	if err := s.seasons.HandleOpenDurationTimeout(ctx, seasonID); err != nil {
		return s.failure(err, "season.conflict")
	}
	resolved, err := s.store.GetSeason(ctx, seasonID)
	if err != nil {
		return s.failure(err, "season.conflict")
	}
	data := map[string]any{"season_id": seasonID.String()}
	switch resolved.Status {
	case models.SeasonStatusActive:
		return ok("season.activated", data)
	case models.SeasonStatusCancelled:
		return ok("season.cancelled", data)
	default:
		return ok("season.unchanged", data)
	}
}

// OfferTurn re-runs offer selection for a game slot. Operators use it to
// nudge a stalled game once players have freed up.
func (s *Service) OfferTurn(ctx context.Context, gameID uuid.UUID, turnNumber int) Result {
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return s.failure(err, "game.conflict")
	}
	turn, err := s.engine.OfferNext(ctx, g, turnNumber, nil)
	if err != nil {
		return s.failure(err, "game.conflict")
	}
	if turn.PlayerID == nil {
		return fail("game.stalled", map[string]any{"game_id": gameID.String()})
	}
	return ok("turn.offered", map[string]any{
		"turn_id":   turn.ID.String(),
		"player_id": turn.PlayerID.String(),
	})
}

func (s *Service) ClaimTurn(ctx context.Context, turnID, playerID uuid.UUID) Result {
	turn, err := s.engine.Claim(ctx, turnID, playerID)
	if err != nil {
		return s.failure(err, "turn.conflict")
	}
	return ok("turn.claimed", map[string]any{
		"turn_id":   turn.ID.String(),
		"game_id":   turn.GameID.String(),
		"turn_type": string(turn.Type),
	})
}

func (s *Service) SubmitTurn(ctx context.Context, turnID, playerID uuid.UUID, content string) Result {
	turn, err := s.engine.Submit(ctx, turnID, playerID, content)
	if err != nil {
		return s.failure(err, "turn.conflict")
	}
	if turn.Status == models.TurnStatusFlagged {
		return ok("turn.in_review", map[string]any{"turn_id": turnID.String()})
	}
	return ok("turn.accepted", map[string]any{"turn_id": turnID.String()})
}

func (s *Service) SkipTurn(ctx context.Context, turnID uuid.UUID) Result {
	if err := s.engine.Skip(ctx, turnID); err != nil {
		return s.failure(err, "turn.conflict")
	}
	return ok("turn.skipped", map[string]any{"turn_id": turnID.String()})
}

func (s *Service) DismissOffer(ctx context.Context, turnID uuid.UUID) Result {
	if err := s.engine.DismissOffer(ctx, turnID); err != nil {
		return s.failure(err, "turn.conflict")
	}
	return ok("turn.dismissed", map[string]any{"turn_id": turnID.String()})
}

func (s *Service) ApproveFlagged(ctx context.Context, turnID, adminID uuid.UUID) Result {
	turn, err := s.engine.ApproveFlagged(ctx, turnID, adminID)
	if err != nil {
		return s.failure(err, "turn.conflict")
	}
	return ok("turn.approved", map[string]any{
		"turn_id": turn.ID.String(),
		"game_id": turn.GameID.String(),
	})
}

func (s *Service) RejectFlagged(ctx context.Context, turnID, adminID uuid.UUID) Result {
	turn, err := s.engine.RejectFlagged(ctx, turnID, adminID)
	if err != nil {
		return s.failure(err, "turn.conflict")
	}
	return ok("turn.rejected", map[string]any{
		"turn_id": turn.ID.String(),
		"game_id": turn.GameID.String(),
	})
}

func (s *Service) CreateAdHocGame(ctx context.Context, creatorID uuid.UUID, policy models.GamePolicy) Result {
	g, turn, err := s.games.CreateAdHocGame(ctx, policy, creatorID)
	if err != nil {
		return s.failure(err, "turn.conflict")
	}
	return ok("game.created", map[string]any{
		"game_id":   g.ID.String(),
		"turn_id":   turn.ID.String(),
		"turn_type": string(turn.Type),
	})
}

// JoinOnDemandGame is the pull mode: the requester is matched to the open
// chain soonest to go stale that their returns policy lets them rejoin, and
// its next turn is assigned to them directly, no offer round.
func (s *Service) JoinOnDemandGame(ctx context.Context, playerID uuid.UUID) Result {
	pending, err := s.store.CountPendingTurnsByPlayer(ctx, playerID)
	if err != nil {
		return s.failure(err, "turn.conflict")
	}
	if pending > 0 {
		return fail("turn.already_pending", nil)
	}

	candidates, err := s.store.OpenGameCandidates(ctx, playerID)
	if err != nil {
		return s.failure(err, "game.conflict")
	}
	open := make([]selector.OpenGame, 0, len(candidates))
	for _, c := range candidates {
		open = append(open, selector.OpenGame{
			GameID:             c.Game.ID,
			UpdatedAt:          c.Game.UpdatedAt,
			StaleTimeout:       c.Game.Policy.StaleTimeout,
			Returns:            c.Game.Policy.Returns,
			Plays:              c.Plays,
			TurnsSinceLastPlay: c.TurnsSinceLastPlay,
		})
	}
	gameID := selector.NextGame(open, s.clock.Now().UTC())
	if gameID == nil {
		return fail("game.none_available", nil)
	}

	turn, err := s.engine.TakeOpenTurn(ctx, *gameID, playerID)
	if err != nil {
		return s.failure(err, "turn.conflict")
	}
	return ok("turn.assigned", map[string]any{
		"game_id":   gameID.String(),
		"turn_id":   turn.ID.String(),
		"turn_type": string(turn.Type),
	})
}

// failure maps the error taxonomy to stable keys. conflictKey names the
// op-specific conflict so "you lost a claim race" and "season not joinable"
// read differently downstream.
func (s *Service) failure(err error, conflictKey string) Result {
	var verr *apperr.ValidationError
	switch {
	case errors.As(err, &verr):
		return fail("common.invalid", map[string]any{
			"field":  verr.Field,
			"reason": verr.Reason,
		})
	case errors.Is(err, season.ErrSeasonFull):
		return fail("season.full", nil)
	case errors.Is(err, season.ErrAlreadyJoined):
		return fail("season.already_joined", nil)
	case errors.Is(err, season.ErrNotJoinable):
		return fail("season.not_open", nil)
	case errors.Is(err, apperr.ErrNotFound):
		return fail("common.not_found", nil)
	case errors.Is(err, apperr.ErrConflict):
		return fail(conflictKey, nil)
	default:
		log.Error().Err(err).Msg("operation failed")
		return fail("common.internal", nil)
	}
}
