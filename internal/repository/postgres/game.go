package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/models"
	"github.com/JonathanHarford/epyc/internal/repository"
)

const gameColumns = "id, season_id, status, stalled, policy, created_at, updated_at"

func (s *Store) CreateGame(ctx context.Context, game *models.Game) error {
	policy, err := json.Marshal(game.Policy)
	if err != nil {
		return fmt.Errorf("encode game policy: %w", err)
	}
	now := s.clock.Now().UTC()
	game.CreatedAt = now
	game.UpdatedAt = now
	_, err = s.db(ctx).Exec(ctx, `
		INSERT INTO games (id, season_id, status, stalled, policy, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		game.ID, game.SeasonID, game.Status, game.Stalled, policy, now,
	)
	if isUniqueViolation(err) {
		return apperr.ErrConflict
	}
	return err
}

func (s *Store) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
	return scanGame(row)
}

func (s *Store) UpdateGameStatus(ctx context.Context, id uuid.UUID, expected, next models.GameStatus) (*models.Game, error) {
	row := s.db(ctx).QueryRow(ctx, `
		UPDATE games SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+gameColumns,
		id, expected, next, s.clock.Now().UTC(),
	)
	game, err := scanGame(row)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, s.gameMissOrConflict(ctx, id)
	}
	return game, err
}

func (s *Store) gameMissOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := s.db(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM games WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return apperr.ErrConflict
	}
	return apperr.ErrNotFound
}

func (s *Store) SetGameStalled(ctx context.Context, id uuid.UUID, stalled bool) error {
	tag, err := s.db(ctx).Exec(ctx, `UPDATE games SET stalled = $2 WHERE id = $1`, id, stalled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *Store) TouchGame(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.db(ctx).Exec(ctx, `UPDATE games SET updated_at = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *Store) ListGamesBySeason(ctx context.Context, seasonID uuid.UUID) ([]models.Game, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+gameColumns+` FROM games
		WHERE season_id = $1
		ORDER BY created_at, id`,
		seasonID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectGames(rows)
}

// OpenGameCandidates returns active ad hoc games whose latest turn can be
// taken, each with the requester's play history for the returns policy.
func (s *Store) OpenGameCandidates(ctx context.Context, playerID uuid.UUID) ([]repository.OpenGameCandidate, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT g.id, g.season_id, g.status, g.stalled, g.policy, g.created_at, g.updated_at,
		       COALESCE(p.plays, 0),
		       COALESCE(last.turn_number, 0) - COALESCE(p.last_played, 0)
		FROM games g
		JOIN LATERAL (
			SELECT t.status, t.turn_number
			FROM turns t
			WHERE t.game_id = g.id
			ORDER BY t.turn_number DESC
			LIMIT 1
		) last ON true
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS plays, MAX(t.turn_number) AS last_played
			FROM turns t
			WHERE t.game_id = g.id AND t.player_id = $1
			  AND t.status IN ('PENDING', 'FLAGGED', 'COMPLETED')
		) p ON true
		WHERE g.status = 'ACTIVE'
		  AND g.season_id IS NULL
		  AND (last.status IN ('OFFERED', 'SKIPPED')
		       OR (last.status = 'COMPLETED'
		           AND ((g.policy->>'turns_per_game')::int = 0
		                OR last.turn_number < (g.policy->>'turns_per_game')::int)))
		ORDER BY g.created_at, g.id`,
		playerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.OpenGameCandidate
	for rows.Next() {
		var c repository.OpenGameCandidate
		var policy []byte
		var sinceLast int
		err := rows.Scan(
			&c.Game.ID, &c.Game.SeasonID, &c.Game.Status, &c.Game.Stalled, &policy,
			&c.Game.CreatedAt, &c.Game.UpdatedAt, &c.Plays, &sinceLast,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(policy, &c.Game.Policy); err != nil {
			return nil, fmt.Errorf("decode game policy: %w", err)
		}
		if c.Plays > 0 {
			c.TurnsSinceLastPlay = sinceLast
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanGame(row pgx.Row) (*models.Game, error) {
	var game models.Game
	var policy []byte
	err := row.Scan(
		&game.ID, &game.SeasonID, &game.Status, &game.Stalled, &policy,
		&game.CreatedAt, &game.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(policy, &game.Policy); err != nil {
		return nil, fmt.Errorf("decode game policy: %w", err)
	}
	return &game, nil
}

func collectGames(rows pgx.Rows) ([]models.Game, error) {
	var out []models.Game
	for rows.Next() {
		var game models.Game
		var policy []byte
		err := rows.Scan(
			&game.ID, &game.SeasonID, &game.Status, &game.Stalled, &policy,
			&game.CreatedAt, &game.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(policy, &game.Policy); err != nil {
			return nil, fmt.Errorf("decode game policy: %w", err)
		}
		out = append(out, game)
	}
	return out, rows.Err()
}
