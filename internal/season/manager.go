// Package season owns the season lifecycle: the open enrollment window, the
// activation round that seeds one chain per member, and season-wide
// termination.
package season

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/engine"
	"github.com/JonathanHarford/epyc/internal/game"
	"github.com/JonathanHarford/epyc/internal/models"
	"github.com/JonathanHarford/epyc/internal/notify"
	"github.com/JonathanHarford/epyc/internal/repository"
)

// Join failures the caller may want to distinguish; both are conflicts.
var (
	ErrSeasonFull    = fmt.Errorf("season full: %w", apperr.ErrConflict)
	ErrAlreadyJoined = fmt.Errorf("already joined: %w", apperr.ErrConflict)
	ErrNotJoinable   = fmt.Errorf("season not open: %w", apperr.ErrConflict)
)

// Scheduler covers the timer operations the season lifecycle needs.
type Scheduler interface {
	Schedule(ctx context.Context, jobType models.JobType, targetID uuid.UUID, dueAt time.Time) (uuid.UUID, error)
	Cancel(ctx context.Context, jobType models.JobType, targetID uuid.UUID) error
	CancelForTargets(ctx context.Context, targets []uuid.UUID) error
}

// Manager drives seasons from creation through activation to a terminal
// state.
type Manager struct {
	seasons  repository.SeasonStore
	games    repository.GameStore
	gameMgr  *game.Manager
	engine   *engine.Engine
	sched    Scheduler
	notifier notify.Notifier
	clock    clockwork.Clock
}

func NewManager(seasons repository.SeasonStore, games repository.GameStore, gameMgr *game.Manager, eng *engine.Engine, sched Scheduler, notifier notify.Notifier, clock clockwork.Clock) *Manager {
	return &Manager{
		seasons:  seasons,
		games:    games,
		gameMgr:  gameMgr,
		engine:   eng,
		sched:    sched,
		notifier: notifier,
		clock:    clock,
	}
}

// CreateSeason validates the policy, opens the enrollment window and arms
// the open-duration timer. The season is returned in OPEN status.
func (m *Manager) CreateSeason(ctx context.Context, creatorID uuid.UUID, policy models.SeasonPolicy) (*models.Season, error) {
	if err := validatePolicy(&policy); err != nil {
		return nil, err
	}
	season := &models.Season{
		ID:        uuid.New(),
		Status:    models.SeasonStatusSetup,
		CreatorID: creatorID,
		Policy:    policy,
	}
	if err := m.seasons.CreateSeason(ctx, season); err != nil {
		return nil, fmt.Errorf("create season: %w", err)
	}
	opened, err := m.seasons.UpdateSeasonStatus(ctx, season.ID, models.SeasonStatusSetup, models.SeasonStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("open season: %w", err)
	}
	dueAt := m.clock.Now().UTC().Add(policy.OpenDuration)
	if _, err := m.sched.Schedule(ctx, models.JobTypeOpenDurationTimeout, season.ID, dueAt); err != nil {
		return nil, fmt.Errorf("schedule open timeout: %w", err)
	}
	log.Info().
		Str("season_id", season.ID.String()).
		Str("creator_id", creatorID.String()).
		Time("closes_at", dueAt).
		Msg("season opened for enrollment")
	return opened, nil
}

// JoinSeason enrolls a player in an open season. Filling the last slot
// activates the season synchronously, so the caller sees the activated
// season in the returned value.
func (m *Manager) JoinSeason(ctx context.Context, seasonID, playerID uuid.UUID) (*models.Season, error) {
	season, err := m.seasons.GetSeason(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	if season.Status != models.SeasonStatusOpen {
		return nil, ErrNotJoinable
	}
	members, err := m.seasons.ListMemberships(ctx, seasonID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	for _, member := range members {
		if member.PlayerID == playerID {
			return nil, ErrAlreadyJoined
		}
	}
	if len(members) >= season.Policy.MaxPlayers {
		return nil, ErrSeasonFull
	}

	membership := models.Membership{
		PlayerID: playerID,
		SeasonID: seasonID,
		JoinedAt: m.clock.Now().UTC(),
	}
	if err := m.seasons.AddMembership(ctx, membership, season.Policy.MaxPlayers); err != nil {
		// Lost a race for the last slot or a duplicate join.
		return nil, err
	}
	count, err := m.seasons.CountMemberships(ctx, seasonID)
	if err != nil {
		return nil, fmt.Errorf("count memberships: %w", err)
	}
	log.Info().
		Str("season_id", seasonID.String()).
		Str("player_id", playerID.String()).
		Int("members", count).
		Msg("player joined season")

	if count >= season.Policy.MaxPlayers {
		if err := m.activate(ctx, season); err != nil {
			return nil, err
		}
	}
	return m.seasons.GetSeason(ctx, seasonID)
}

// HandleOpenDurationTimeout closes the enrollment window: enough members
// activates the season, too few cancels it. Fired by OPEN_DURATION_TIMEOUT;
// benign when the season already left OPEN.
func (m *Manager) HandleOpenDurationTimeout(ctx context.Context, seasonID uuid.UUID) error {
	season, err := m.seasons.GetSeason(ctx, seasonID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	if season.Status != models.SeasonStatusOpen {
		return nil
	}
	count, err := m.seasons.CountMemberships(ctx, seasonID)
	if err != nil {
		return fmt.Errorf("count memberships: %w", err)
	}
	if count >= season.Policy.MinPlayers {
		return m.activate(ctx, season)
	}

	if _, err := m.seasons.UpdateSeasonStatus(ctx, seasonID, models.SeasonStatusOpen, models.SeasonStatusCancelled); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil
		}
		return fmt.Errorf("cancel season: %w", err)
	}
	log.Info().
		Str("season_id", seasonID.String()).
		Int("members", count).
		Int("min_players", season.Policy.MinPlayers).
		Msg("season cancelled for lack of players")
	members, err := m.seasons.ListMemberships(ctx, seasonID)
	if err != nil {
		return fmt.Errorf("list memberships: %w", err)
	}
	for _, member := range members {
		m.notifier.Notify(ctx, member.PlayerID, "season.cancelled", map[string]any{"season_id": seasonID.String()})
	}
	return nil
}

// activate starts play: each member authors turn 1 of exactly one chain, and
// each chain's turn 2 is offered to the next member in join order, so every
// member starts with one authorship and one incoming offer. Losing the
// OPEN→ACTIVE update means a concurrent path activated first.
func (m *Manager) activate(ctx context.Context, season *models.Season) error {
	activated, err := m.seasons.UpdateSeasonStatus(ctx, season.ID, models.SeasonStatusOpen, models.SeasonStatusActive)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil
		}
		return fmt.Errorf("activate season: %w", err)
	}
	if err := m.sched.Cancel(ctx, models.JobTypeOpenDurationTimeout, season.ID); err != nil {
		return err
	}
	members, err := m.seasons.ListMemberships(ctx, season.ID)
	if err != nil {
		return fmt.Errorf("list memberships: %w", err)
	}

	games := make([]*models.Game, 0, len(members))
	for _, member := range members {
		g, err := m.gameMgr.CreateSeasonGame(ctx, activated, member.PlayerID)
		if err != nil {
			return err
		}
		games = append(games, g)
	}
	if activated.Policy.TurnsPerGame > 1 {
		for i, g := range games {
			next := members[(i+1)%len(members)].PlayerID
			if _, err := m.engine.OfferTo(ctx, g, 2, next); err != nil {
				return err
			}
		}
	}
	log.Info().
		Str("season_id", season.ID.String()).
		Int("games", len(games)).
		Msg("season activated")
	for _, member := range members {
		m.notifier.Notify(ctx, member.PlayerID, "season.activated", map[string]any{
			"season_id": season.ID.String(),
			"games":     len(games),
		})
	}
	return nil
}

// TerminateSeason forcibly ends an active season: every active chain is
// terminated and its timers swept.
func (m *Manager) TerminateSeason(ctx context.Context, seasonID, adminID uuid.UUID) error {
	if _, err := m.seasons.UpdateSeasonStatus(ctx, seasonID, models.SeasonStatusActive, models.SeasonStatusTerminated); err != nil {
		return err
	}
	games, err := m.games.ListGamesBySeason(ctx, seasonID)
	if err != nil {
		return fmt.Errorf("list season games: %w", err)
	}
	for _, g := range games {
		if g.Status != models.GameStatusActive {
			continue
		}
		if err := m.gameMgr.OnGameTerminated(ctx, g); err != nil {
			return err
		}
	}
	if err := m.sched.CancelForTargets(ctx, []uuid.UUID{seasonID}); err != nil {
		return err
	}
	log.Info().
		Str("season_id", seasonID.String()).
		Str("admin_id", adminID.String()).
		Int("games", len(games)).
		Msg("season terminated")
	members, err := m.seasons.ListMemberships(ctx, seasonID)
	if err != nil {
		return fmt.Errorf("list memberships: %w", err)
	}
	for _, member := range members {
		m.notifier.Notify(ctx, member.PlayerID, "season.terminated", map[string]any{"season_id": seasonID.String()})
	}
	return nil
}

func validatePolicy(p *models.SeasonPolicy) error {
	if p.MinPlayers < 2 {
		return apperr.Validationf("min_players", "must be at least 2")
	}
	if p.MaxPlayers < p.MinPlayers {
		return apperr.Validationf("max_players", "must be at least min_players")
	}
	if p.OpenDuration <= 0 {
		return apperr.Validationf("open_duration", "must be positive")
	}
	if p.TurnsPerGame < 1 {
		return apperr.Validationf("turns_per_game", "must be at least 1")
	}
	if p.ClaimTimeout <= 0 {
		return apperr.Validationf("claim_timeout", "must be positive")
	}
	if p.SubmitTimeout <= 0 {
		return apperr.Validationf("submit_timeout", "must be positive")
	}
	if p.SubmitWarning < 0 || p.SubmitWarning >= p.SubmitTimeout {
		return apperr.Validationf("submit_warning", "must be shorter than submit_timeout")
	}
	if p.StaleTimeout <= 0 {
		return apperr.Validationf("stale_timeout", "must be positive")
	}
	if p.OpeningTurn == "" {
		p.OpeningTurn = models.TurnTypeWriting
	}
	if p.OpeningTurn != models.TurnTypeWriting && p.OpeningTurn != models.TurnTypeDrawing {
		return apperr.Validationf("opening_turn", "must be WRITING or DRAWING")
	}
	if p.Returns.MaxPlays < 1 {
		return apperr.Validationf("returns.max_plays", "must be at least 1")
	}
	if p.Returns.MinGap < 0 {
		return apperr.Validationf("returns.min_gap", "must not be negative")
	}
	return nil
}
