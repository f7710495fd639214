package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/models"
	"github.com/JonathanHarford/epyc/internal/repository"
)

func seedGame(t *testing.T, s *Store) *models.Game {
	t.Helper()
	game := &models.Game{ID: uuid.New(), Status: models.GameStatusActive}
	if err := s.CreateGame(context.Background(), game); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	return game
}

func seedTurn(t *testing.T, s *Store, gameID uuid.UUID, number int, status models.TurnStatus, player *uuid.UUID) *models.Turn {
	t.Helper()
	turn := &models.Turn{
		ID:         uuid.New(),
		GameID:     gameID,
		PlayerID:   player,
		TurnNumber: number,
		Type:       models.TurnTypeWriting,
		Status:     status,
	}
	if err := s.CreateTurn(context.Background(), turn); err != nil {
		t.Fatalf("CreateTurn: %v", err)
	}
	return turn
}

func TestUpdateTurnRefusesSecondPendingHold(t *testing.T) {
	s := NewStore(clockwork.NewFakeClock())
	ctx := context.Background()
	player := uuid.New()

	held := seedGame(t, s)
	seedTurn(t, s, held.ID, 1, models.TurnStatusPending, &player)
	other := seedGame(t, s)
	offered := seedTurn(t, s, other.ID, 1, models.TurnStatusOffered, &player)

	_, err := s.UpdateTurn(ctx, offered.ID, models.TurnStatusOffered, repository.TurnUpdate{Status: models.TurnStatusPending})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("UpdateTurn to second PENDING = %v, want ErrConflict", err)
	}
	got, err := s.GetTurn(ctx, offered.ID)
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if got.Status != models.TurnStatusOffered {
		t.Errorf("status = %s, want OFFERED untouched", got.Status)
	}
}

func TestUpdateTurnAllowsPendingAfterRelease(t *testing.T) {
	s := NewStore(clockwork.NewFakeClock())
	ctx := context.Background()
	player := uuid.New()

	held := seedGame(t, s)
	pending := seedTurn(t, s, held.ID, 1, models.TurnStatusPending, &player)
	other := seedGame(t, s)
	offered := seedTurn(t, s, other.ID, 1, models.TurnStatusOffered, &player)

	content := "the first line"
	_, err := s.UpdateTurn(ctx, pending.ID, models.TurnStatusPending, repository.TurnUpdate{
		Status: models.TurnStatusCompleted, SetContent: true, Content: &content,
	})
	if err != nil {
		t.Fatalf("complete held turn: %v", err)
	}
	if _, err := s.UpdateTurn(ctx, offered.ID, models.TurnStatusOffered, repository.TurnUpdate{Status: models.TurnStatusPending}); err != nil {
		t.Fatalf("UpdateTurn after release = %v, want success", err)
	}
}

func TestCreateTurnRefusesSecondPendingHold(t *testing.T) {
	s := NewStore(clockwork.NewFakeClock())
	ctx := context.Background()
	player := uuid.New()

	held := seedGame(t, s)
	seedTurn(t, s, held.ID, 1, models.TurnStatusPending, &player)

	other := seedGame(t, s)
	err := s.CreateTurn(ctx, &models.Turn{
		ID:         uuid.New(),
		GameID:     other.ID,
		PlayerID:   &player,
		TurnNumber: 1,
		Type:       models.TurnTypeWriting,
		Status:     models.TurnStatusPending,
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("CreateTurn second PENDING = %v, want ErrConflict", err)
	}

	// An offer to the same player is fine; only PENDING is exclusive.
	seedTurn(t, s, other.ID, 1, models.TurnStatusOffered, &player)
}
