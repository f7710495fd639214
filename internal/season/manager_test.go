package season

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/engine"
	"github.com/JonathanHarford/epyc/internal/game"
	"github.com/JonathanHarford/epyc/internal/models"
	"github.com/JonathanHarford/epyc/internal/moderation"
	"github.com/JonathanHarford/epyc/internal/repository/memory"
	"github.com/JonathanHarford/epyc/internal/selector"
)

type timerCall struct {
	jobType models.JobType
	target  uuid.UUID
}

type recordingScheduler struct {
	scheduled []timerCall
	cancelled []timerCall
	sweeps    [][]uuid.UUID
}

func (s *recordingScheduler) Schedule(ctx context.Context, jobType models.JobType, targetID uuid.UUID, dueAt time.Time) (uuid.UUID, error) {
	s.scheduled = append(s.scheduled, timerCall{jobType, targetID})
	return uuid.New(), nil
}

func (s *recordingScheduler) Cancel(ctx context.Context, jobType models.JobType, targetID uuid.UUID) error {
	s.cancelled = append(s.cancelled, timerCall{jobType, targetID})
	return nil
}

func (s *recordingScheduler) CancelForTargets(ctx context.Context, targets []uuid.UUID) error {
	s.sweeps = append(s.sweeps, targets)
	return nil
}

func (s *recordingScheduler) saw(calls []timerCall, jobType models.JobType, target uuid.UUID) bool {
	for _, c := range calls {
		if c.jobType == jobType && c.target == target {
			return true
		}
	}
	return false
}

type recordingNotifier struct {
	events map[uuid.UUID][]string
}

func (n *recordingNotifier) Notify(ctx context.Context, playerID uuid.UUID, key string, data map[string]any) {
	if n.events == nil {
		n.events = make(map[uuid.UUID][]string)
	}
	n.events[playerID] = append(n.events[playerID], key)
}

func (n *recordingNotifier) NotifyOperators(ctx context.Context, key string, data map[string]any) {}

func (n *recordingNotifier) saw(playerID uuid.UUID, key string) bool {
	for _, k := range n.events[playerID] {
		if k == key {
			return true
		}
	}
	return false
}

type fixture struct {
	manager  *Manager
	store    *memory.Store
	sched    *recordingScheduler
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := memory.NewStore(clock)
	sched := &recordingScheduler{}
	notifier := &recordingNotifier{}
	eng := engine.New(store, store, sched, selector.NewPush(store), notifier, moderation.NewWordlistChecker(nil), clock)
	gameMgr := game.NewManager(store, store, store, eng, sched, notifier, clock)
	mgr := NewManager(store, store, gameMgr, eng, sched, notifier, clock)
	return &fixture{manager: mgr, store: store, sched: sched, notifier: notifier}
}

func testPolicy(minPlayers, maxPlayers int) models.SeasonPolicy {
	return models.SeasonPolicy{
		MinPlayers:    minPlayers,
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

func TestCreateSeasonValidatesPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := testPolicy(1, 3)
	if _, err := f.manager.CreateSeason(ctx, uuid.New(), bad); !apperr.IsValidation(err) {
		t.Fatalf("CreateSeason with min_players=1 = %v, want validation error", err)
	}

	bad = testPolicy(2, 3)
	bad.SubmitWarning = bad.SubmitTimeout
	if _, err := f.manager.CreateSeason(ctx, uuid.New(), bad); !apperr.IsValidation(err) {
		t.Fatalf("CreateSeason with warning at timeout = %v, want validation error", err)
	}
}

func TestCreateSeasonOpensEnrollment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	season, err := f.manager.CreateSeason(ctx, uuid.New(), testPolicy(2, 3))
	if err != nil {
		t.Fatalf("CreateSeason: %v", err)
	}
	if season.Status != models.SeasonStatusOpen {
		t.Errorf("status = %s, want OPEN", season.Status)
	}
	if !f.sched.saw(f.sched.scheduled, models.JobTypeOpenDurationTimeout, season.ID) {
		t.Error("open-duration timer not armed")
	}
}

func TestJoinSeasonActivatesAtMaxPlayers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	season, err := f.manager.CreateSeason(ctx, uuid.New(), testPolicy(2, 3))
	if err != nil {
		t.Fatalf("CreateSeason: %v", err)
	}
	players := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	for i, p := range players[:2] {
		got, err := f.manager.JoinSeason(ctx, season.ID, p)
		if err != nil {
			t.Fatalf("JoinSeason player %d: %v", i+1, err)
		}
		if got.Status != models.SeasonStatusOpen {
			t.Fatalf("status after %d joins = %s, want OPEN", i+1, got.Status)
		}
	}

	got, err := f.manager.JoinSeason(ctx, season.ID, players[2])
	if err != nil {
		t.Fatalf("JoinSeason last player: %v", err)
	}
	if got.Status != models.SeasonStatusActive {
		t.Fatalf("status = %s, want ACTIVE at max players", got.Status)
	}
	if !f.sched.saw(f.sched.cancelled, models.JobTypeOpenDurationTimeout, season.ID) {
		t.Error("open-duration timer not cancelled on activation")
	}

	games, err := f.store.ListGamesBySeason(ctx, season.ID)
	if err != nil {
		t.Fatalf("ListGamesBySeason: %v", err)
	}
	if len(games) != len(players) {
		t.Fatalf("games = %d, want one per member", len(games))
	}

	authors := make(map[uuid.UUID]bool)
	offerees := make(map[uuid.UUID]bool)
	for _, g := range games {
		turns, err := f.store.ListTurnsByGame(ctx, g.ID)
		if err != nil {
			t.Fatalf("ListTurnsByGame: %v", err)
		}
		if len(turns) != 2 {
			t.Fatalf("game %s has %d turns, want initial PENDING plus one OFFERED", g.ID, len(turns))
		}
		first, second := turns[0], turns[1]
		if first.Status != models.TurnStatusPending || first.PlayerID == nil {
			t.Fatalf("turn 1 = %+v, want PENDING with author", first)
		}
		if second.Status != models.TurnStatusOffered || second.PlayerID == nil {
			t.Fatalf("turn 2 = %+v, want OFFERED with candidate", second)
		}
		if *first.PlayerID == *second.PlayerID {
			t.Errorf("game %s offered turn 2 back to its own author", g.ID)
		}
		authors[*first.PlayerID] = true
		offerees[*second.PlayerID] = true
	}
	if len(authors) != len(players) {
		t.Errorf("distinct authors = %d, want every member authoring one chain", len(authors))
	}
	if len(offerees) != len(players) {
		t.Errorf("distinct offer holders = %d, want every member holding one offer", len(offerees))
	}
	for _, p := range players {
		if !f.notifier.saw(p, "season.activated") {
			t.Errorf("player %s not told the season started", p)
		}
	}
}

func TestJoinSeasonRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	season, err := f.manager.CreateSeason(ctx, uuid.New(), testPolicy(2, 3))
	if err != nil {
		t.Fatalf("CreateSeason: %v", err)
	}
	player := uuid.New()
	if _, err := f.manager.JoinSeason(ctx, season.ID, player); err != nil {
		t.Fatalf("JoinSeason: %v", err)
	}
	if _, err := f.manager.JoinSeason(ctx, season.ID, player); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("duplicate join = %v, want ErrAlreadyJoined", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := f.manager.JoinSeason(ctx, season.ID, uuid.New()); err != nil {
			t.Fatalf("JoinSeason filler %d: %v", i, err)
		}
	}
	if _, err := f.manager.JoinSeason(ctx, season.ID, uuid.New()); !errors.Is(err, ErrNotJoinable) {
		t.Fatalf("join after activation = %v, want ErrNotJoinable", err)
	}
}

func TestOpenTimeoutActivatesWithQuorum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	season, err := f.manager.CreateSeason(ctx, uuid.New(), testPolicy(2, 5))
	if err != nil {
		t.Fatalf("CreateSeason: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := f.manager.JoinSeason(ctx, season.ID, uuid.New()); err != nil {
			t.Fatalf("JoinSeason: %v", err)
		}
	}

	if err := f.manager.HandleOpenDurationTimeout(ctx, season.ID); err != nil {
		t.Fatalf("HandleOpenDurationTimeout: %v", err)
	}
	got, err := f.store.GetSeason(ctx, season.ID)
	if err != nil {
		t.Fatalf("GetSeason: %v", err)
	}
	if got.Status != models.SeasonStatusActive {
		t.Fatalf("status = %s, want ACTIVE with quorum", got.Status)
	}
	games, _ := f.store.ListGamesBySeason(ctx, season.ID)
	if len(games) != 2 {
		t.Errorf("games = %d, want one per member", len(games))
	}

	// The consumed timer fires at most once; a late duplicate must not act.
	if err := f.manager.HandleOpenDurationTimeout(ctx, season.ID); err != nil {
		t.Fatalf("duplicate HandleOpenDurationTimeout = %v, want benign no-op", err)
	}
}

func TestOpenTimeoutCancelsWithoutQuorum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	season, err := f.manager.CreateSeason(ctx, uuid.New(), testPolicy(2, 5))
	if err != nil {
		t.Fatalf("CreateSeason: %v", err)
	}
	lone := uuid.New()
	if _, err := f.manager.JoinSeason(ctx, season.ID, lone); err != nil {
		t.Fatalf("JoinSeason: %v", err)
	}

	if err := f.manager.HandleOpenDurationTimeout(ctx, season.ID); err != nil {
		t.Fatalf("HandleOpenDurationTimeout: %v", err)
	}
	got, err := f.store.GetSeason(ctx, season.ID)
	if err != nil {
		t.Fatalf("GetSeason: %v", err)
	}
	if got.Status != models.SeasonStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED below quorum", got.Status)
	}
	games, _ := f.store.ListGamesBySeason(ctx, season.ID)
	if len(games) != 0 {
		t.Errorf("games = %d, want none for a cancelled season", len(games))
	}
	if !f.notifier.saw(lone, "season.cancelled") {
		t.Error("member not told the season was cancelled")
	}
}

func TestTerminateSeason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	season, err := f.manager.CreateSeason(ctx, uuid.New(), testPolicy(2, 3))
	if err != nil {
		t.Fatalf("CreateSeason: %v", err)
	}
	players := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, p := range players {
		if _, err := f.manager.JoinSeason(ctx, season.ID, p); err != nil {
			t.Fatalf("JoinSeason: %v", err)
		}
	}

	admin := uuid.New()
	if err := f.manager.TerminateSeason(ctx, season.ID, admin); err != nil {
		t.Fatalf("TerminateSeason: %v", err)
	}
	got, err := f.store.GetSeason(ctx, season.ID)
	if err != nil {
		t.Fatalf("GetSeason: %v", err)
	}
	if got.Status != models.SeasonStatusTerminated {
		t.Fatalf("status = %s, want TERMINATED", got.Status)
	}
	games, _ := f.store.ListGamesBySeason(ctx, season.ID)
	for _, g := range games {
		if g.Status != models.GameStatusTerminated {
			t.Errorf("game %s = %s, want TERMINATED", g.ID, g.Status)
		}
	}
	if len(f.sched.sweeps) == 0 {
		t.Error("outstanding jobs not swept")
	}

	if err := f.manager.TerminateSeason(ctx, season.ID, admin); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("second TerminateSeason = %v, want ErrConflict", err)
	}
}
