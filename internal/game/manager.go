// Package game owns chain lifecycle: creation, completion when the last turn
// lands, and termination. The turn engine reports outcomes here through its
// hooks.
package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/engine"
	"github.com/JonathanHarford/epyc/internal/models"
	"github.com/JonathanHarford/epyc/internal/notify"
	"github.com/JonathanHarford/epyc/internal/repository"
)

// JobCanceller sweeps pending timers when a game reaches a terminal state.
type JobCanceller interface {
	CancelForTargets(ctx context.Context, targets []uuid.UUID) error
}

// Manager creates games and reacts to turn outcomes. It implements
// engine.GameHooks.
type Manager struct {
	games    repository.GameStore
	turns    repository.TurnStore
	seasons  repository.SeasonStore
	engine   *engine.Engine
	jobs     JobCanceller
	notifier notify.Notifier
	clock    clockwork.Clock
}

func NewManager(games repository.GameStore, turns repository.TurnStore, seasons repository.SeasonStore, eng *engine.Engine, jobs JobCanceller, notifier notify.Notifier, clock clockwork.Clock) *Manager {
	m := &Manager{
		games:    games,
		turns:    turns,
		seasons:  seasons,
		engine:   eng,
		jobs:     jobs,
		notifier: notifier,
		clock:    clock,
	}
	eng.SetHooks(m)
	return m
}

// CreateSeasonGame opens a chain inside a season, seeded with an initial
// pending turn for the given author.
func (m *Manager) CreateSeasonGame(ctx context.Context, season *models.Season, author uuid.UUID) (*models.Game, error) {
	seasonID := season.ID
	game := &models.Game{
		ID:       uuid.New(),
		SeasonID: &seasonID,
		Status:   models.GameStatusActive,
		Policy:   season.Policy.GamePolicy(),
	}
	if err := m.games.CreateGame(ctx, game); err != nil {
		return nil, fmt.Errorf("create season game: %w", err)
	}
	if _, err := m.engine.CreateInitialTurn(ctx, game, author); err != nil {
		return nil, err
	}
	log.Info().
		Str("game_id", game.ID.String()).
		Str("season_id", seasonID.String()).
		Str("author_id", author.String()).
		Msg("season game created")
	return game, nil
}

// CreateAdHocGame opens a standalone chain outside any season. The author
// takes turn 1 immediately; later turns are filled by pull joins. An author
// already holding a pending turn gets apperr.ErrConflict.
func (m *Manager) CreateAdHocGame(ctx context.Context, policy models.GamePolicy, author uuid.UUID) (*models.Game, *models.Turn, error) {
	if policy.TurnsPerGame < 0 {
		return nil, nil, apperr.Validationf("turns_per_game", "must not be negative")
	}
	pending, err := m.turns.CountPendingTurnsByPlayer(ctx, author)
	if err != nil {
		return nil, nil, fmt.Errorf("count pending turns: %w", err)
	}
	if pending > 0 {
		return nil, nil, apperr.ErrConflict
	}

	game := &models.Game{
		ID:     uuid.New(),
		Status: models.GameStatusActive,
		Policy: policy,
	}
	if err := m.games.CreateGame(ctx, game); err != nil {
		return nil, nil, fmt.Errorf("create ad hoc game: %w", err)
	}
	turn, err := m.engine.CreateInitialTurn(ctx, game, author)
	if err != nil {
		return nil, nil, err
	}
	log.Info().
		Str("game_id", game.ID.String()).
		Str("author_id", author.String()).
		Msg("ad hoc game created")
	return game, turn, nil
}

// OnTurnCompleted advances the chain: either the game is done and every
// contributor gets the reveal, or the next slot is offered. Ad hoc games do
// not offer; their next contributor arrives by pull join.
func (m *Manager) OnTurnCompleted(ctx context.Context, game models.Game, turn models.Turn) error {
	if game.Policy.TurnsPerGame > 0 && turn.TurnNumber >= game.Policy.TurnsPerGame {
		return m.complete(ctx, game)
	}
	if game.SeasonID == nil {
		return nil
	}
	// The next slot may already be out there, offered ahead during the
	// activation round. Leave it alone.
	latest, err := m.turns.LatestTurn(ctx, game.ID)
	if err != nil {
		return fmt.Errorf("latest turn: %w", err)
	}
	if latest.TurnNumber > turn.TurnNumber {
		return nil
	}
	_, err = m.engine.OfferNext(ctx, &game, turn.TurnNumber+1, turn.PlayerID)
	return err
}

// OnGameTerminated moves an active game to TERMINATED, sweeps its timers and
// tells everyone who contributed. Already-terminal games are a benign no-op,
// which makes repeated termination paths safe.
func (m *Manager) OnGameTerminated(ctx context.Context, game models.Game) error {
	if _, err := m.games.UpdateGameStatus(ctx, game.ID, models.GameStatusActive, models.GameStatusTerminated); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil
		}
		return fmt.Errorf("terminate game: %w", err)
	}
	contributors, turnIDs, err := m.contributors(ctx, game.ID)
	if err != nil {
		return err
	}
	if err := m.jobs.CancelForTargets(ctx, append(turnIDs, game.ID)); err != nil {
		return fmt.Errorf("cancel game jobs: %w", err)
	}
	log.Info().Str("game_id", game.ID.String()).Msg("game terminated")
	for _, playerID := range contributors {
		m.notifier.Notify(ctx, playerID, "game.terminated", map[string]any{"game_id": game.ID.String()})
	}
	return m.maybeCompleteSeason(ctx, game)
}

// Terminate is the operator entry point for killing a chain directly.
func (m *Manager) Terminate(ctx context.Context, gameID uuid.UUID) error {
	game, err := m.games.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if game.Status != models.GameStatusActive {
		return apperr.ErrConflict
	}
	return m.OnGameTerminated(ctx, *game)
}

func (m *Manager) complete(ctx context.Context, game models.Game) error {
	if _, err := m.games.UpdateGameStatus(ctx, game.ID, models.GameStatusActive, models.GameStatusCompleted); err != nil {
		return fmt.Errorf("complete game: %w", err)
	}
	contributors, turnIDs, err := m.contributors(ctx, game.ID)
	if err != nil {
		return err
	}
	if err := m.jobs.CancelForTargets(ctx, append(turnIDs, game.ID)); err != nil {
		return fmt.Errorf("cancel game jobs: %w", err)
	}
	log.Info().
		Str("game_id", game.ID.String()).
		Int("contributors", len(contributors)).
		Msg("game completed")
	for _, playerID := range contributors {
		m.notifier.Notify(ctx, playerID, "game.completed", map[string]any{"game_id": game.ID.String()})
	}
	return m.maybeCompleteSeason(ctx, game)
}

// maybeCompleteSeason closes the season once every one of its chains has
// reached a terminal state. Losing the conditional update just means another
// game's completion got there first.
func (m *Manager) maybeCompleteSeason(ctx context.Context, game models.Game) error {
	if game.SeasonID == nil {
		return nil
	}
	games, err := m.games.ListGamesBySeason(ctx, *game.SeasonID)
	if err != nil {
		return fmt.Errorf("list season games: %w", err)
	}
	for _, g := range games {
		if g.Status == models.GameStatusActive {
			return nil
		}
	}
	if _, err := m.seasons.UpdateSeasonStatus(ctx, *game.SeasonID, models.SeasonStatusActive, models.SeasonStatusCompleted); err != nil {
		if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("complete season: %w", err)
	}
	log.Info().Str("season_id", game.SeasonID.String()).Msg("season completed")
	return nil
}

// contributors returns the distinct players holding completed turns, in turn
// order, together with every turn id in the game.
func (m *Manager) contributors(ctx context.Context, gameID uuid.UUID) ([]uuid.UUID, []uuid.UUID, error) {
	turns, err := m.turns.ListTurnsByGame(ctx, gameID)
	if err != nil {
		return nil, nil, fmt.Errorf("list game turns: %w", err)
	}
	seen := make(map[uuid.UUID]bool)
	var players []uuid.UUID
	turnIDs := make([]uuid.UUID, 0, len(turns))
	for _, turn := range turns {
		turnIDs = append(turnIDs, turn.ID)
		if turn.Status != models.TurnStatusCompleted || turn.PlayerID == nil {
			continue
		}
		if !seen[*turn.PlayerID] {
			seen[*turn.PlayerID] = true
			players = append(players, *turn.PlayerID)
		}
	}
	return players, turnIDs, nil
}
