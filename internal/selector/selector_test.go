package selector

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JonathanHarford/epyc/internal/models"
)

var (
	p1 = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	p2 = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	p3 = uuid.MustParse("00000000-0000-0000-0000-000000000003")
)

func TestNextAuthorFewestTurnsWins(t *testing.T) {
	got := NextAuthor([]Candidate{
		{PlayerID: p1, TurnsTaken: 3},
		{PlayerID: p2, TurnsTaken: 1},
		{PlayerID: p3, TurnsTaken: 2},
	}, nil, models.ReturnsPolicy{MaxPlays: 1})
	if got == nil || *got != p2 {
		t.Fatalf("expected %s, got %v", p2, got)
	}
}

func TestNextAuthorIdleTieBreak(t *testing.T) {
	now := time.Now()
	got := NextAuthor([]Candidate{
		{PlayerID: p1, TurnsTaken: 2, LastTurnAt: now.Add(-time.Hour)},
		{PlayerID: p2, TurnsTaken: 2, LastTurnAt: now.Add(-3 * time.Hour)},
	}, nil, models.ReturnsPolicy{MaxPlays: 1})
	if got == nil || *got != p2 {
		t.Fatalf("expected longest-idle %s, got %v", p2, got)
	}
}

func TestNextAuthorNeverPlayedBeatsIdle(t *testing.T) {
	got := NextAuthor([]Candidate{
		{PlayerID: p2, TurnsTaken: 0, LastTurnAt: time.Now().Add(-240 * time.Hour)},
		{PlayerID: p1, TurnsTaken: 0},
	}, nil, models.ReturnsPolicy{MaxPlays: 1})
	if got == nil || *got != p1 {
		t.Fatalf("expected never-played %s, got %v", p1, got)
	}
}

func TestNextAuthorDeterministicIDTieBreak(t *testing.T) {
	cands := []Candidate{{PlayerID: p3}, {PlayerID: p1}, {PlayerID: p2}}
	for i := 0; i < 5; i++ {
		got := NextAuthor(cands, nil, models.ReturnsPolicy{MaxPlays: 1})
		if got == nil || *got != p1 {
			t.Fatalf("expected lowest id %s, got %v", p1, got)
		}
	}
}

func TestNextAuthorExcludesLastPlayerAndReturns(t *testing.T) {
	returns := models.ReturnsPolicy{MaxPlays: 1}
	got := NextAuthor([]Candidate{
		{PlayerID: p1},                 // just went
		{PlayerID: p2, PlaysInGame: 1}, // no returns
		{PlayerID: p3, TurnsTaken: 9},
	}, &p1, returns)
	if got == nil || *got != p3 {
		t.Fatalf("expected %s, got %v", p3, got)
	}
}

func TestNextAuthorEmptyPool(t *testing.T) {
	if got := NextAuthor(nil, nil, models.ReturnsPolicy{MaxPlays: 1}); got != nil {
		t.Fatalf("expected nil for empty pool, got %v", got)
	}
	got := NextAuthor([]Candidate{{PlayerID: p1, PlaysInGame: 2}}, nil, models.ReturnsPolicy{MaxPlays: 1})
	if got != nil {
		t.Fatalf("expected nil when all filtered, got %v", got)
	}
}

func TestNextGamePicksSoonestToStale(t *testing.T) {
	now := time.Now()
	gameA := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	gameB := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	gameC := uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	noReturns := models.ReturnsPolicy{MaxPlays: 1}

	got := NextGame([]OpenGame{
		// staleness 5 minutes
		{GameID: gameA, UpdatedAt: now.Add(-55 * time.Minute), StaleTimeout: time.Hour, Returns: noReturns},
		// staleness 55 minutes
		{GameID: gameB, UpdatedAt: now.Add(-5 * time.Minute), StaleTimeout: time.Hour, Returns: noReturns},
		// would be stalest, but the player already played this chain
		{GameID: gameC, UpdatedAt: now.Add(-59 * time.Minute), StaleTimeout: time.Hour, Returns: noReturns, Plays: 1},
	}, now)
	if got == nil || *got != gameA {
		t.Fatalf("expected %s, got %v", gameA, got)
	}
}

func TestNextGameGapReturns(t *testing.T) {
	now := time.Now()
	gameA := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	gameB := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	returns := models.ReturnsPolicy{MaxPlays: 3, MinGap: 4}

	games := []OpenGame{
		// played twice, only 2 turns elapsed since: gap not met
		{GameID: gameA, UpdatedAt: now.Add(-50 * time.Minute), StaleTimeout: time.Hour, Returns: returns, Plays: 2, TurnsSinceLastPlay: 2},
		// played twice, 5 turns elapsed: eligible again
		{GameID: gameB, UpdatedAt: now.Add(-10 * time.Minute), StaleTimeout: time.Hour, Returns: returns, Plays: 2, TurnsSinceLastPlay: 5},
	}
	got := NextGame(games, now)
	if got == nil || *got != gameB {
		t.Fatalf("expected %s, got %v", gameB, got)
	}

	// Exhausted plays are never eligible, regardless of gap.
	games[0].Plays = 3
	games[0].TurnsSinceLastPlay = 10
	games[1].Plays = 3
	if got := NextGame(games, now); got != nil {
		t.Fatalf("expected nil when plays exhausted, got %v", got)
	}
}

func TestNextGameTieBreakOldestUpdate(t *testing.T) {
	now := time.Now()
	gameA := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	gameB := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	noReturns := models.ReturnsPolicy{MaxPlays: 1}

	// Same staleness; B was updated earlier.
	got := NextGame([]OpenGame{
		{GameID: gameA, UpdatedAt: now.Add(-10 * time.Minute), StaleTimeout: 30 * time.Minute, Returns: noReturns},
		{GameID: gameB, UpdatedAt: now.Add(-40 * time.Minute), StaleTimeout: time.Hour, Returns: noReturns},
	}, now)
	if got == nil || *got != gameB {
		t.Fatalf("expected %s, got %v", gameB, got)
	}
}
