// Package engine implements the turn state machine. Every transition is an
// atomic conditional update keyed on (turn id, expected status); a losing
// concurrent writer gets apperr.ErrConflict and never a corrupted state.
// Timeout-driven transitions re-check state and no-op silently when the turn
// has already moved on, which makes them safe to fire more than once.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/models"
	"github.com/JonathanHarford/epyc/internal/moderation"
	"github.com/JonathanHarford/epyc/internal/notify"
	"github.com/JonathanHarford/epyc/internal/repository"
)

// Scheduler is what the engine needs from the durable scheduler. It is a
// mandatory dependency: no transition may skip its timer bookkeeping.
type Scheduler interface {
	Schedule(ctx context.Context, jobType models.JobType, targetID uuid.UUID, dueAt time.Time) (uuid.UUID, error)
	Cancel(ctx context.Context, jobType models.JobType, targetID uuid.UUID) error
}

// CandidateSource is the push-mode selection capability. It returns nil when
// no eligible candidate exists, and always nil for ad hoc games, whose
// participants arrive by pull selection instead.
type CandidateSource interface {
	NextCandidate(ctx context.Context, game models.Game, exclude *uuid.UUID) (*uuid.UUID, error)
}

// GameHooks is how the engine reports turn outcomes up to the game
// lifecycle layer.
type GameHooks interface {
	OnTurnCompleted(ctx context.Context, game models.Game, turn models.Turn) error
	OnGameTerminated(ctx context.Context, game models.Game) error
}

// Engine drives turns through their lifecycle. It is the only component that
// creates or mutates turn rows.
type Engine struct {
	turns      repository.TurnStore
	games      repository.GameStore
	sched      Scheduler
	candidates CandidateSource
	notifier   notify.Notifier
	moderation moderation.Checker
	clock      clockwork.Clock
	hooks      GameHooks
}

func New(turns repository.TurnStore, games repository.GameStore, sched Scheduler, candidates CandidateSource, notifier notify.Notifier, checker moderation.Checker, clock clockwork.Clock) *Engine {
	return &Engine{
		turns:      turns,
		games:      games,
		sched:      sched,
		candidates: candidates,
		notifier:   notifier,
		moderation: checker,
		clock:      clock,
	}
}

// SetHooks wires the game lifecycle layer in after construction; the two
// layers reference each other.
func (e *Engine) SetHooks(h GameHooks) {
	e.hooks = h
}

// CreateInitialTurn seeds a game's first turn, created directly in PENDING
// and assigned to its author, with submission timers armed.
func (e *Engine) CreateInitialTurn(ctx context.Context, game *models.Game, author uuid.UUID) (*models.Turn, error) {
	now := e.clock.Now().UTC()
	turn := &models.Turn{
		ID:         uuid.New(),
		GameID:     game.ID,
		PlayerID:   &author,
		TurnNumber: 1,
		Type:       game.Policy.TurnTypeFor(1),
		Status:     models.TurnStatusPending,
		ClaimedAt:  &now,
	}
	if err := e.turns.CreateTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("create initial turn: %w", err)
	}
	if err := e.armSubmitTimers(ctx, game, turn); err != nil {
		return nil, err
	}
	e.notifier.Notify(ctx, author, "turn.assigned", map[string]any{
		"game_id":     game.ID.String(),
		"turn_number": turn.TurnNumber,
		"turn_type":   string(turn.Type),
	})
	return turn, nil
}

// OfferNext offers the given turn number of a game to the next eligible
// candidate. An existing OFFERED or SKIPPED row for that number is
// reassigned; otherwise a new row is created, keeping the per-game turn
// number sequence gapless. With no eligible candidate the slot stays
// unassigned; season games are additionally marked stalled for operator
// attention.
func (e *Engine) OfferNext(ctx context.Context, game *models.Game, turnNumber int, exclude *uuid.UUID) (*models.Turn, error) {
	candidate, err := e.candidates.NextCandidate(ctx, *game, exclude)
	if err != nil {
		return nil, fmt.Errorf("select candidate: %w", err)
	}
	return e.placeOffer(ctx, game, turnNumber, candidate)
}

// OfferTo offers a specific slot to a chosen player, bypassing selection.
// Used for the season activation round and operator reassignment of stalled
// games.
func (e *Engine) OfferTo(ctx context.Context, game *models.Game, turnNumber int, playerID uuid.UUID) (*models.Turn, error) {
	return e.placeOffer(ctx, game, turnNumber, &playerID)
}

func (e *Engine) placeOffer(ctx context.Context, game *models.Game, turnNumber int, candidate *uuid.UUID) (*models.Turn, error) {
	if game.Status != models.GameStatusActive {
		return nil, apperr.ErrConflict
	}
	existing, err := e.turnByNumber(ctx, game.ID, turnNumber)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status != models.TurnStatusOffered && existing.Status != models.TurnStatusSkipped {
		return nil, apperr.ErrConflict
	}

	now := e.clock.Now().UTC()
	var offeredAt *time.Time
	if candidate != nil {
		offeredAt = &now
	}

	var turn *models.Turn
	if existing != nil {
		turn, err = e.turns.UpdateTurn(ctx, existing.ID, existing.Status, repository.TurnUpdate{
			Status:       models.TurnStatusOffered,
			SetPlayer:    true,
			PlayerID:     candidate,
			SetOfferedAt: true,
			OfferedAt:    offeredAt,
			SetContent:   true,
			SetClaimedAt: true,
		})
		if err != nil {
			return nil, fmt.Errorf("reassign turn %d: %w", turnNumber, err)
		}
	} else {
		turn = &models.Turn{
			ID:         uuid.New(),
			GameID:     game.ID,
			PlayerID:   candidate,
			TurnNumber: turnNumber,
			Type:       game.Policy.TurnTypeFor(turnNumber),
			Status:     models.TurnStatusOffered,
			OfferedAt:  offeredAt,
		}
		if err := e.turns.CreateTurn(ctx, turn); err != nil {
			return nil, fmt.Errorf("create turn %d: %w", turnNumber, err)
		}
	}

	if candidate == nil {
		return turn, e.markUnoffered(ctx, game)
	}

	if game.Stalled {
		if err := e.games.SetGameStalled(ctx, game.ID, false); err != nil {
			return nil, fmt.Errorf("clear stalled flag: %w", err)
		}
	}
	if _, err := e.sched.Schedule(ctx, models.JobTypeClaimTimeout, turn.ID, now.Add(game.Policy.ClaimTimeout)); err != nil {
		return nil, fmt.Errorf("schedule claim timeout: %w", err)
	}
	e.notifier.Notify(ctx, *candidate, "turn.offered", map[string]any{
		"game_id":     game.ID.String(),
		"turn_id":     turn.ID.String(),
		"turn_number": turn.TurnNumber,
		"turn_type":   string(turn.Type),
		"expires_at":  now.Add(game.Policy.ClaimTimeout),
	})
	return turn, nil
}

// markUnoffered records that an offer round found nobody. Ad hoc games just
// wait for a pull join; season games stall and operators are told.
func (e *Engine) markUnoffered(ctx context.Context, game *models.Game) error {
	if game.SeasonID == nil {
		return nil
	}
	if err := e.games.SetGameStalled(ctx, game.ID, true); err != nil {
		return fmt.Errorf("mark game stalled: %w", err)
	}
	log.Warn().Str("game_id", game.ID.String()).Msg("no eligible candidate; game stalled")
	e.notifier.NotifyOperators(ctx, "game.stalled", map[string]any{
		"game_id":   game.ID.String(),
		"season_id": game.SeasonID.String(),
	})
	return nil
}

// Claim accepts an offered turn. It fails with apperr.ErrConflict unless the
// turn is still OFFERED to this player and the player holds no other pending
// turn.
func (e *Engine) Claim(ctx context.Context, turnID, playerID uuid.UUID) (*models.Turn, error) {
	turn, err := e.turns.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	if turn.Status != models.TurnStatusOffered || !turn.HeldBy(playerID) {
		return nil, apperr.ErrConflict
	}
	pending, err := e.turns.CountPendingTurnsByPlayer(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("count pending turns: %w", err)
	}
	if pending > 0 {
		return nil, apperr.ErrConflict
	}

	now := e.clock.Now().UTC()
	claimed, err := e.turns.UpdateTurn(ctx, turnID, models.TurnStatusOffered, repository.TurnUpdate{
		Status:       models.TurnStatusPending,
		SetClaimedAt: true,
		ClaimedAt:    &now,
	})
	if err != nil {
		return nil, err
	}

	if err := e.sched.Cancel(ctx, models.JobTypeClaimTimeout, turnID); err != nil {
		return nil, err
	}
	game, err := e.games.GetGame(ctx, turn.GameID)
	if err != nil {
		return nil, err
	}
	if err := e.armSubmitTimers(ctx, game, claimed); err != nil {
		return nil, err
	}
	if err := e.games.TouchGame(ctx, game.ID, now); err != nil {
		return nil, fmt.Errorf("touch game: %w", err)
	}
	return claimed, nil
}

// Submit delivers a pending turn's content. Clean content completes the
// turn; flagged content parks it in FLAGGED awaiting a moderation decision.
func (e *Engine) Submit(ctx context.Context, turnID, playerID uuid.UUID, content string) (*models.Turn, error) {
	if content == "" {
		return nil, apperr.Validationf("content", "must not be empty")
	}
	turn, err := e.turns.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	if turn.Status != models.TurnStatusPending || !turn.HeldBy(playerID) {
		return nil, apperr.ErrConflict
	}

	flagged, err := e.moderation.Check(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("moderation check: %w", err)
	}

	next := models.TurnStatusCompleted
	if flagged {
		next = models.TurnStatusFlagged
	}
	updated, err := e.turns.UpdateTurn(ctx, turnID, models.TurnStatusPending, repository.TurnUpdate{
		Status:     next,
		SetContent: true,
		Content:    &content,
	})
	if err != nil {
		return nil, err
	}
	if err := e.cancelSubmitTimers(ctx, turnID); err != nil {
		return nil, err
	}
	game, err := e.games.GetGame(ctx, turn.GameID)
	if err != nil {
		return nil, err
	}
	if err := e.games.TouchGame(ctx, game.ID, e.clock.Now().UTC()); err != nil {
		return nil, fmt.Errorf("touch game: %w", err)
	}

	if flagged {
		log.Info().Str("turn_id", turnID.String()).Str("game_id", game.ID.String()).Msg("turn flagged for review")
		e.notifier.Notify(ctx, playerID, "turn.in_review", map[string]any{"turn_id": turnID.String()})
		e.notifier.NotifyOperators(ctx, "turn.flagged", map[string]any{
			"turn_id":   turnID.String(),
			"game_id":   game.ID.String(),
			"player_id": playerID.String(),
		})
		return updated, nil
	}
	return updated, e.completed(ctx, game, updated)
}

// Skip moves a pending turn to SKIPPED after its submission window lapsed,
// then asks for a re-offer of the same slot. Invoked by SUBMIT_TIMEOUT; a
// turn that already moved on is a benign no-op.
func (e *Engine) Skip(ctx context.Context, turnID uuid.UUID) error {
	turn, err := e.turns.GetTurn(ctx, turnID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	if turn.Status != models.TurnStatusPending {
		return nil
	}

	skipped, err := e.turns.UpdateTurn(ctx, turnID, models.TurnStatusPending, repository.TurnUpdate{Status: models.TurnStatusSkipped})
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil
		}
		return err
	}
	if err := e.cancelSubmitTimers(ctx, turnID); err != nil {
		return err
	}
	if skipped.PlayerID != nil {
		e.notifier.Notify(ctx, *skipped.PlayerID, "turn.skipped", map[string]any{"turn_id": turnID.String()})
	}

	game, err := e.games.GetGame(ctx, turn.GameID)
	if err != nil {
		return err
	}
	if game.Status != models.GameStatusActive {
		return nil
	}
	// Re-offer the same slot. In ad hoc games the skipped slot simply waits
	// for the next pull join.
	if game.SeasonID == nil {
		return nil
	}
	_, err = e.OfferNext(ctx, game, skipped.TurnNumber, skipped.PlayerID)
	return err
}

// DismissOffer reassigns an offered turn whose claim window lapsed to a new
// candidate, preserving the turn number. Invoked by CLAIM_TIMEOUT; benign
// when the turn was claimed concurrently.
func (e *Engine) DismissOffer(ctx context.Context, turnID uuid.UUID) error {
	turn, err := e.turns.GetTurn(ctx, turnID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	if turn.Status != models.TurnStatusOffered || turn.PlayerID == nil {
		return nil
	}
	game, err := e.games.GetGame(ctx, turn.GameID)
	if err != nil {
		return err
	}
	if game.Status != models.GameStatusActive {
		return nil
	}

	dismissed := *turn.PlayerID
	candidate, err := e.candidates.NextCandidate(ctx, *game, &dismissed)
	if err != nil {
		return fmt.Errorf("select candidate: %w", err)
	}

	now := e.clock.Now().UTC()
	var offeredAt *time.Time
	if candidate != nil {
		offeredAt = &now
	}
	if _, err := e.turns.UpdateTurn(ctx, turnID, models.TurnStatusOffered, repository.TurnUpdate{
		Status:       models.TurnStatusOffered,
		SetPlayer:    true,
		PlayerID:     candidate,
		SetOfferedAt: true,
		OfferedAt:    offeredAt,
	}); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil
		}
		return err
	}
	e.notifier.Notify(ctx, dismissed, "turn.offer_expired", map[string]any{"turn_id": turnID.String()})

	if candidate == nil {
		return e.markUnoffered(ctx, game)
	}
	if _, err := e.sched.Schedule(ctx, models.JobTypeClaimTimeout, turnID, now.Add(game.Policy.ClaimTimeout)); err != nil {
		return fmt.Errorf("schedule claim timeout: %w", err)
	}
	e.notifier.Notify(ctx, *candidate, "turn.offered", map[string]any{
		"game_id":     game.ID.String(),
		"turn_id":     turnID.String(),
		"turn_number": turn.TurnNumber,
		"turn_type":   string(turn.Type),
		"expires_at":  now.Add(game.Policy.ClaimTimeout),
	})
	return nil
}

// RemindSubmit nudges the holder of a pending turn partway through the
// submission window. Invoked by SUBMIT_WARNING.
func (e *Engine) RemindSubmit(ctx context.Context, turnID uuid.UUID) error {
	turn, err := e.turns.GetTurn(ctx, turnID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	if turn.Status != models.TurnStatusPending || turn.PlayerID == nil {
		return nil
	}
	game, err := e.games.GetGame(ctx, turn.GameID)
	if err != nil {
		return err
	}
	data := map[string]any{"turn_id": turnID.String()}
	if turn.ClaimedAt != nil {
		due := turn.ClaimedAt.Add(game.Policy.SubmitTimeout)
		data["due_at"] = due
		data["remaining"] = due.Sub(e.clock.Now()).String()
	}
	e.notifier.Notify(ctx, *turn.PlayerID, "turn.reminder", data)
	return nil
}

// ApproveFlagged resolves a flagged turn as acceptable; the game resumes and
// the turn completes normally.
func (e *Engine) ApproveFlagged(ctx context.Context, turnID, adminID uuid.UUID) (*models.Turn, error) {
	turn, err := e.turns.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	approved, err := e.turns.UpdateTurn(ctx, turnID, models.TurnStatusFlagged, repository.TurnUpdate{Status: models.TurnStatusCompleted})
	if err != nil {
		return nil, err
	}
	log.Info().Str("turn_id", turnID.String()).Str("admin_id", adminID.String()).Msg("flagged turn approved")
	if approved.PlayerID != nil {
		e.notifier.Notify(ctx, *approved.PlayerID, "turn.approved", map[string]any{"turn_id": turnID.String()})
	}
	game, err := e.games.GetGame(ctx, turn.GameID)
	if err != nil {
		return nil, err
	}
	if err := e.games.TouchGame(ctx, game.ID, e.clock.Now().UTC()); err != nil {
		return nil, fmt.Errorf("touch game: %w", err)
	}
	return approved, e.completed(ctx, game, approved)
}

// RejectFlagged resolves a flagged turn as unacceptable. Rejected content
// ends the chain permanently: the turn is skipped and the owning game is
// terminated with no further offers.
func (e *Engine) RejectFlagged(ctx context.Context, turnID, adminID uuid.UUID) (*models.Turn, error) {
	turn, err := e.turns.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	rejected, err := e.turns.UpdateTurn(ctx, turnID, models.TurnStatusFlagged, repository.TurnUpdate{Status: models.TurnStatusSkipped})
	if err != nil {
		return nil, err
	}
	log.Info().Str("turn_id", turnID.String()).Str("admin_id", adminID.String()).Msg("flagged turn rejected; terminating game")
	if rejected.PlayerID != nil {
		e.notifier.Notify(ctx, *rejected.PlayerID, "turn.rejected", map[string]any{"turn_id": turnID.String()})
	}
	game, err := e.games.GetGame(ctx, turn.GameID)
	if err != nil {
		return nil, err
	}
	if e.hooks == nil {
		return nil, fmt.Errorf("engine: game hooks not configured")
	}
	return rejected, e.hooks.OnGameTerminated(ctx, *game)
}

// TakeOpenTurn assigns a game's open slot directly to a pull-mode requester:
// an unassigned offer or skipped slot is reassigned, otherwise a fresh turn
// number is opened after the last completed one.
func (e *Engine) TakeOpenTurn(ctx context.Context, gameID, playerID uuid.UUID) (*models.Turn, error) {
	game, err := e.games.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.Status != models.GameStatusActive {
		return nil, apperr.ErrConflict
	}
	pending, err := e.turns.CountPendingTurnsByPlayer(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("count pending turns: %w", err)
	}
	if pending > 0 {
		return nil, apperr.ErrConflict
	}

	latest, err := e.turns.LatestTurn(ctx, gameID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now().UTC()
	var turn *models.Turn
	switch latest.Status {
	case models.TurnStatusOffered, models.TurnStatusSkipped:
		turn, err = e.turns.UpdateTurn(ctx, latest.ID, latest.Status, repository.TurnUpdate{
			Status:       models.TurnStatusPending,
			SetPlayer:    true,
			PlayerID:     &playerID,
			SetContent:   true,
			SetClaimedAt: true,
			ClaimedAt:    &now,
		})
		if err != nil {
			return nil, err
		}
	case models.TurnStatusCompleted:
		if game.Policy.TurnsPerGame > 0 && latest.TurnNumber >= game.Policy.TurnsPerGame {
			return nil, apperr.ErrConflict
		}
		turn = &models.Turn{
			ID:         uuid.New(),
			GameID:     gameID,
			PlayerID:   &playerID,
			TurnNumber: latest.TurnNumber + 1,
			Type:       game.Policy.TurnTypeFor(latest.TurnNumber + 1),
			Status:     models.TurnStatusPending,
			ClaimedAt:  &now,
		}
		if err := e.turns.CreateTurn(ctx, turn); err != nil {
			return nil, fmt.Errorf("create turn %d: %w", turn.TurnNumber, err)
		}
	default:
		// Someone is already on it.
		return nil, apperr.ErrConflict
	}

	if game.Stalled {
		if err := e.games.SetGameStalled(ctx, gameID, false); err != nil {
			return nil, fmt.Errorf("clear stalled flag: %w", err)
		}
	}
	if err := e.armSubmitTimers(ctx, game, turn); err != nil {
		return nil, err
	}
	if err := e.games.TouchGame(ctx, gameID, now); err != nil {
		return nil, fmt.Errorf("touch game: %w", err)
	}
	e.notifier.Notify(ctx, playerID, "turn.assigned", map[string]any{
		"game_id":     gameID.String(),
		"turn_id":     turn.ID.String(),
		"turn_number": turn.TurnNumber,
		"turn_type":   string(turn.Type),
	})
	return turn, nil
}

func (e *Engine) completed(ctx context.Context, game *models.Game, turn *models.Turn) error {
	if e.hooks == nil {
		return fmt.Errorf("engine: game hooks not configured")
	}
	return e.hooks.OnTurnCompleted(ctx, *game, *turn)
}

func (e *Engine) armSubmitTimers(ctx context.Context, game *models.Game, turn *models.Turn) error {
	now := e.clock.Now().UTC()
	if game.Policy.SubmitWarning > 0 && game.Policy.SubmitWarning < game.Policy.SubmitTimeout {
		if _, err := e.sched.Schedule(ctx, models.JobTypeSubmitWarning, turn.ID, now.Add(game.Policy.SubmitWarning)); err != nil {
			return fmt.Errorf("schedule submit warning: %w", err)
		}
	}
	if _, err := e.sched.Schedule(ctx, models.JobTypeSubmitTimeout, turn.ID, now.Add(game.Policy.SubmitTimeout)); err != nil {
		return fmt.Errorf("schedule submit timeout: %w", err)
	}
	return nil
}

func (e *Engine) cancelSubmitTimers(ctx context.Context, turnID uuid.UUID) error {
	if err := e.sched.Cancel(ctx, models.JobTypeSubmitWarning, turnID); err != nil {
		return err
	}
	return e.sched.Cancel(ctx, models.JobTypeSubmitTimeout, turnID)
}

func (e *Engine) turnByNumber(ctx context.Context, gameID uuid.UUID, turnNumber int) (*models.Turn, error) {
	turns, err := e.turns.ListTurnsByGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	for i := range turns {
		if turns[i].TurnNumber == turnNumber {
			return &turns[i], nil
		}
	}
	return nil, apperr.ErrNotFound
}
