package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/JonathanHarford/epyc/internal/engine"
	"github.com/JonathanHarford/epyc/internal/game"
	"github.com/JonathanHarford/epyc/internal/models"
	"github.com/JonathanHarford/epyc/internal/moderation"
	"github.com/JonathanHarford/epyc/internal/notify"
	"github.com/JonathanHarford/epyc/internal/repository/memory"
	"github.com/JonathanHarford/epyc/internal/scheduler"
	"github.com/JonathanHarford/epyc/internal/season"
	"github.com/JonathanHarford/epyc/internal/selector"
	"github.com/JonathanHarford/epyc/internal/session"
)

type fixture struct {
	svc   *Service
	store *memory.Store
	clock *clockwork.FakeClock
}

// newFixture wires the full stack on the in-memory store. The scheduler is
// left unstarted: jobs persist and cancel fine, they just never fire, which
// is what facade tests want.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := memory.NewStore(clock)
	sched := scheduler.New(store, clock, scheduler.DefaultConfig(), nil)
	notifier := notify.LogNotifier{}
	checker := moderation.NewWordlistChecker([]string{"kumquat"})
	eng := engine.New(store, store, sched, selector.NewPush(store), notifier, checker, clock)
	gameMgr := game.NewManager(store, store, store, eng, sched, notifier, clock)
	seasonMgr := season.NewManager(store, store, gameMgr, eng, sched, notifier, clock)
	sessions := session.NewStore(store, sched, clock)
	svc := New(store, seasonMgr, gameMgr, eng, sessions, clock)
	svc.RegisterJobHandlers(sched)
	return &fixture{svc: svc, store: store, clock: clock}
}

func requireKey(t *testing.T, res Result, success bool, key string) {
	t.Helper()
	if res.Success != success || res.Key != key {
		t.Fatalf("result = {%v %q %v}, want success=%v key=%q", res.Success, res.Key, res.Data, success, key)
	}
}

func dataID(t *testing.T, res Result, field string) uuid.UUID {
	t.Helper()
	raw, ok := res.Data[field].(string)
	if !ok {
		t.Fatalf("result data %q missing in %v", field, res.Data)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", field, err)
	}
	return id
}

func seasonPolicy(maxPlayers int) models.SeasonPolicy {
	return models.SeasonPolicy{
		MinPlayers:    2,
		MaxPlayers:    maxPlayers,
		OpenDuration:  48 * time.Hour,
		TurnsPerGame:  6,
		OpeningTurn:   models.TurnTypeWriting,
		ClaimTimeout:  time.Hour,
		SubmitWarning: 12 * time.Hour,
		SubmitTimeout: 24 * time.Hour,
		StaleTimeout:  72 * time.Hour,
		Returns:       models.ReturnsPolicy{MaxPlays: 1},
	}
}

func TestCreateSeasonValidationKey(t *testing.T) {
	f := newFixture(t)
	bad := seasonPolicy(3)
	bad.MinPlayers = 1
	res := f.svc.CreateSeason(context.Background(), uuid.New(), bad)
	requireKey(t, res, false, "common.invalid")
	if res.Data["field"] != "min_players" {
		t.Errorf("field = %v, want min_players", res.Data["field"])
	}
}

func TestOpenTimeoutActivatesThroughFacade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.svc.CreateSeason(ctx, uuid.New(), seasonPolicy(4))
	requireKey(t, res, true, "season.created")
	seasonID := dataID(t, res, "season_id")
	requireKey(t, f.svc.JoinSeason(ctx, seasonID, uuid.New()), true, "season.joined")
	requireKey(t, f.svc.JoinSeason(ctx, seasonID, uuid.New()), true, "season.joined")

	// Quorum reached but short of the cap: the closing window activates.
	requireKey(t, f.svc.HandleOpenDurationTimeout(ctx, seasonID), true, "season.activated")
	// A duplicate firing finds nothing left to do.
	requireKey(t, f.svc.HandleOpenDurationTimeout(ctx, seasonID), true, "season.unchanged")

	games, err := f.store.ListGamesBySeason(ctx, seasonID)
	if err != nil {
		t.Fatalf("ListGamesBySeason: %v", err)
	}
	if len(games) != 2 {
		t.Errorf("season games = %d, want one per member", len(games))
	}
}

func TestOpenTimeoutCancelsThroughFacade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.svc.CreateSeason(ctx, uuid.New(), seasonPolicy(4))
	requireKey(t, res, true, "season.created")
	seasonID := dataID(t, res, "season_id")
	requireKey(t, f.svc.JoinSeason(ctx, seasonID, uuid.New()), true, "season.joined")

	requireKey(t, f.svc.HandleOpenDurationTimeout(ctx, seasonID), true, "season.cancelled")
	requireKey(t, f.svc.JoinSeason(ctx, seasonID, uuid.New()), false, "season.not_open")
}

func TestSeasonPlayThroughFacade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.svc.CreateSeason(ctx, uuid.New(), seasonPolicy(3))
	requireKey(t, res, true, "season.created")
	seasonID := dataID(t, res, "season_id")

	players := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	requireKey(t, f.svc.JoinSeason(ctx, seasonID, players[0]), true, "season.joined")
	requireKey(t, f.svc.JoinSeason(ctx, seasonID, players[1]), true, "season.joined")
	requireKey(t, f.svc.JoinSeason(ctx, seasonID, players[2]), true, "season.activated")
	requireKey(t, f.svc.JoinSeason(ctx, seasonID, uuid.New()), false, "season.not_open")
	requireKey(t, f.svc.JoinSeason(ctx, seasonID, players[0]), false, "season.not_open")

	games, err := f.store.ListGamesBySeason(ctx, seasonID)
	if err != nil {
		t.Fatalf("ListGamesBySeason: %v", err)
	}
	g := games[0]
	turns, err := f.store.ListTurnsByGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("ListTurnsByGame: %v", err)
	}
	author, holder := *turns[0].PlayerID, *turns[1].PlayerID

	// The offer holder still owes their own opening turn; the one-pending
	// rule defers the claim.
	requireKey(t, f.svc.ClaimTurn(ctx, turns[1].ID, holder), false, "turn.conflict")

	// Find and submit the holder's own pending turn, then the claim goes
	// through.
	var holdersTurn uuid.UUID
	for _, other := range games {
		ts, err := f.store.ListTurnsByGame(ctx, other.ID)
		if err != nil {
			t.Fatalf("ListTurnsByGame: %v", err)
		}
		if ts[0].HeldBy(holder) {
			holdersTurn = ts[0].ID
		}
	}
	requireKey(t, f.svc.SubmitTurn(ctx, holdersTurn, holder, "an opening line"), true, "turn.accepted")
	requireKey(t, f.svc.ClaimTurn(ctx, turns[1].ID, holder), true, "turn.claimed")
	requireKey(t, f.svc.ClaimTurn(ctx, turns[1].ID, holder), false, "turn.conflict")

	res = f.svc.SubmitTurn(ctx, holdersTurn, author, "not yours")
	requireKey(t, res, false, "turn.conflict")
}

func TestFlaggedReviewThroughFacade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.svc.CreateAdHocGame(ctx, uuid.New(), seasonPolicy(3).GamePolicy())
	requireKey(t, res, true, "game.created")
	gameID := dataID(t, res, "game_id")
	turnID := dataID(t, res, "turn_id")

	turn, err := f.store.GetTurn(ctx, turnID)
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	author := *turn.PlayerID

	requireKey(t, f.svc.SubmitTurn(ctx, turnID, author, "a suspicious kumquat"), true, "turn.in_review")
	requireKey(t, f.svc.RejectFlagged(ctx, turnID, uuid.New()), true, "turn.rejected")

	g, err := f.store.GetGame(ctx, gameID)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if g.Status != models.GameStatusTerminated {
		t.Errorf("game = %s, want TERMINATED after rejection", g.Status)
	}
	requireKey(t, f.svc.ApproveFlagged(ctx, turnID, uuid.New()), false, "turn.conflict")
}

func TestJoinOnDemandGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator := uuid.New()

	policy := seasonPolicy(3).GamePolicy()
	res := f.svc.CreateAdHocGame(ctx, creator, policy)
	requireKey(t, res, true, "game.created")
	gameID := dataID(t, res, "game_id")
	firstTurn := dataID(t, res, "turn_id")

	// The creator owes turn 1; they cannot also pull a second assignment.
	requireKey(t, f.svc.JoinOnDemandGame(ctx, creator), false, "turn.already_pending")
	// Nobody else can join while turn 1 is being worked.
	requireKey(t, f.svc.JoinOnDemandGame(ctx, uuid.New()), false, "game.none_available")

	requireKey(t, f.svc.SubmitTurn(ctx, firstTurn, creator, "a start"), true, "turn.accepted")

	joiner := uuid.New()
	res = f.svc.JoinOnDemandGame(ctx, joiner)
	requireKey(t, res, true, "turn.assigned")
	if got := dataID(t, res, "game_id"); got != gameID {
		t.Errorf("assigned game = %s, want %s", got, gameID)
	}
	turn, err := f.store.GetTurn(ctx, dataID(t, res, "turn_id"))
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if turn.TurnNumber != 2 || turn.Status != models.TurnStatusPending || !turn.HeldBy(joiner) {
		t.Errorf("assigned turn = %+v, want turn 2 PENDING for joiner", turn)
	}

	// No-returns policy: the creator cannot rejoin their own chain even once
	// the slot frees up.
	requireKey(t, f.svc.SubmitTurn(ctx, turn.ID, joiner, "a continuation"), true, "turn.accepted")
	requireKey(t, f.svc.JoinOnDemandGame(ctx, creator), false, "game.none_available")
}

func TestJoinOnDemandPrefersSoonestToStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	policy := seasonPolicy(3).GamePolicy()
	urgentPolicy := policy
	urgentPolicy.StaleTimeout = time.Hour

	a := uuid.New()
	res := f.svc.CreateAdHocGame(ctx, a, policy)
	requireKey(t, res, true, "game.created")
	relaxedTurn := dataID(t, res, "turn_id")

	b := uuid.New()
	res = f.svc.CreateAdHocGame(ctx, b, urgentPolicy)
	requireKey(t, res, true, "game.created")
	urgentGame := dataID(t, res, "game_id")
	urgentTurn := dataID(t, res, "turn_id")

	requireKey(t, f.svc.SubmitTurn(ctx, relaxedTurn, a, "one"), true, "turn.accepted")
	requireKey(t, f.svc.SubmitTurn(ctx, urgentTurn, b, "two"), true, "turn.accepted")

	res = f.svc.JoinOnDemandGame(ctx, uuid.New())
	requireKey(t, res, true, "turn.assigned")
	if got := dataID(t, res, "game_id"); got != urgentGame {
		t.Errorf("assigned game = %s, want the one soonest to go stale %s", got, urgentGame)
	}
}
