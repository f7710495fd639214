package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/models"
	"github.com/JonathanHarford/epyc/internal/repository/memory"
)

type stubScheduler struct {
	scheduled int
}

func (s *stubScheduler) Schedule(ctx context.Context, jobType models.JobType, targetID uuid.UUID, dueAt time.Time) (uuid.UUID, error) {
	s.scheduled++
	return uuid.New(), nil
}

type wizardState struct {
	Step       int    `json:"step"`
	SeasonName string `json:"season_name"`
}

func TestPutGetRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(memory.NewStore(clock), &stubScheduler{}, clock)
	ctx := context.Background()
	player := uuid.New()

	in := wizardState{Step: 2, SeasonName: "autumn"}
	if err := store.Put(ctx, player, "season_setup", in, time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var out wizardState
	if err := store.Get(ctx, player, "season_setup", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out != in {
		t.Errorf("got %+v, want %+v", out, in)
	}

	// A second Put for the same (player, kind) replaces the state.
	if err := store.Put(ctx, player, "season_setup", wizardState{Step: 3}, time.Hour); err != nil {
		t.Fatalf("Put replace: %v", err)
	}
	if err := store.Get(ctx, player, "season_setup", &out); err != nil {
		t.Fatalf("Get after replace: %v", err)
	}
	if out.Step != 3 {
		t.Errorf("step = %d, want replaced state", out.Step)
	}
}

func TestExpiredSessionReadsAsMissing(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(memory.NewStore(clock), &stubScheduler{}, clock)
	ctx := context.Background()
	player := uuid.New()

	if err := store.Put(ctx, player, "draft", wizardState{Step: 1}, time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	clock.Advance(2 * time.Minute)

	var out wizardState
	if err := store.Get(ctx, player, "draft", &out); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Get expired = %v, want ErrNotFound", err)
	}
}

func TestPurgeExpiredReschedulesSweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	repo := memory.NewStore(clock)
	sched := &stubScheduler{}
	store := NewStore(repo, sched, clock)
	ctx := context.Background()

	stale := uuid.New()
	fresh := uuid.New()
	if err := store.Put(ctx, stale, "draft", wizardState{}, time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, fresh, "draft", wizardState{}, time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	clock.Advance(10 * time.Minute)

	if err := store.PurgeExpired(ctx); err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if sched.scheduled != 1 {
		t.Errorf("sweeps armed = %d, want the next purge scheduled", sched.scheduled)
	}

	var out wizardState
	if err := store.Get(ctx, fresh, "draft", &out); err != nil {
		t.Errorf("fresh session swept: %v", err)
	}
	if _, err := repo.GetSession(ctx, stale, "draft"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("stale session still stored: %v", err)
	}
}
