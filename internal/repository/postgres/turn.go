package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/models"
	"github.com/JonathanHarford/epyc/internal/repository"
)

const turnColumns = "id, game_id, player_id, turn_number, turn_type, status, content, offered_at, claimed_at, created_at, updated_at"

func (s *Store) CreateTurn(ctx context.Context, turn *models.Turn) error {
	now := s.clock.Now().UTC()
	turn.CreatedAt = now
	turn.UpdatedAt = now
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO turns (id, game_id, player_id, turn_number, turn_type, status, content, offered_at, claimed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		turn.ID, turn.GameID, turn.PlayerID, turn.TurnNumber, turn.Type, turn.Status,
		turn.Content, turn.OfferedAt, turn.ClaimedAt, now,
	)
	if isUniqueViolation(err) {
		return apperr.ErrConflict
	}
	return err
}

func (s *Store) GetTurn(ctx context.Context, id uuid.UUID) (*models.Turn, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+turnColumns+` FROM turns WHERE id = $1`, id)
	return scanTurn(row)
}

// UpdateTurn builds a single conditional UPDATE from the set flags; the
// WHERE clause on the expected status is what makes every turn transition
// atomic.
func (s *Store) UpdateTurn(ctx context.Context, id uuid.UUID, expected models.TurnStatus, upd repository.TurnUpdate) (*models.Turn, error) {
	sets := []string{"status = $3", "updated_at = $4"}
	args := []any{id, expected, upd.Status, s.clock.Now().UTC()}
	if upd.SetPlayer {
		args = append(args, upd.PlayerID)
		sets = append(sets, fmt.Sprintf("player_id = $%d", len(args)))
	}
	if upd.SetContent {
		args = append(args, upd.Content)
		sets = append(sets, fmt.Sprintf("content = $%d", len(args)))
	}
	if upd.SetOfferedAt {
		args = append(args, upd.OfferedAt)
		sets = append(sets, fmt.Sprintf("offered_at = $%d", len(args)))
	}
	if upd.SetClaimedAt {
		args = append(args, upd.ClaimedAt)
		sets = append(sets, fmt.Sprintf("claimed_at = $%d", len(args)))
	}

	row := s.db(ctx).QueryRow(ctx, `
		UPDATE turns SET `+strings.Join(sets, ", ")+`
		WHERE id = $1 AND status = $2
		RETURNING `+turnColumns,
		args...,
	)
	turn, err := scanTurn(row)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, s.turnMissOrConflict(ctx, id)
	}
	// turns_player_pending_idx: the player already holds a PENDING turn.
	if isUniqueViolation(err) {
		return nil, apperr.ErrConflict
	}
	return turn, err
}

func (s *Store) turnMissOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := s.db(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM turns WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return apperr.ErrConflict
	}
	return apperr.ErrNotFound
}

func (s *Store) ListTurnsByGame(ctx context.Context, gameID uuid.UUID) ([]models.Turn, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+turnColumns+` FROM turns
		WHERE game_id = $1
		ORDER BY turn_number`,
		gameID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Turn
	for rows.Next() {
		turn, err := scanTurnValues(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *turn)
	}
	return out, rows.Err()
}

func (s *Store) LatestTurn(ctx context.Context, gameID uuid.UUID) (*models.Turn, error) {
	row := s.db(ctx).QueryRow(ctx, `
		SELECT `+turnColumns+` FROM turns
		WHERE game_id = $1
		ORDER BY turn_number DESC
		LIMIT 1`,
		gameID,
	)
	return scanTurn(row)
}

func (s *Store) CountPendingTurnsByPlayer(ctx context.Context, playerID uuid.UUID) (int, error) {
	var count int
	err := s.db(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM turns WHERE player_id = $1 AND status = 'PENDING'`,
		playerID,
	).Scan(&count)
	return count, err
}

// SeasonCandidates gathers every member's selection stats in one query:
// season-wide completed turns for fairness, per-game play history for the
// returns policy, and whether they hold a pending turn anywhere.
func (s *Store) SeasonCandidates(ctx context.Context, seasonID, gameID uuid.UUID) ([]repository.SeasonCandidate, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT m.player_id,
		       COALESCE(season_stats.turns_taken, 0),
		       season_stats.last_turn_at,
		       EXISTS (SELECT 1 FROM turns t WHERE t.player_id = m.player_id AND t.status = 'PENDING'),
		       COALESCE(game_stats.plays, 0),
		       COALESCE(latest.turn_number, 0) - COALESCE(game_stats.last_played, 0)
		FROM memberships m
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS turns_taken, MAX(t.updated_at) AS last_turn_at
			FROM turns t
			JOIN games g ON g.id = t.game_id
			WHERE g.season_id = m.season_id AND t.player_id = m.player_id AND t.status = 'COMPLETED'
		) season_stats ON true
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS plays, MAX(t.turn_number) AS last_played
			FROM turns t
			WHERE t.game_id = $2 AND t.player_id = m.player_id
			  AND t.status IN ('PENDING', 'FLAGGED', 'COMPLETED')
		) game_stats ON true
		LEFT JOIN LATERAL (
			SELECT MAX(turn_number) AS turn_number FROM turns WHERE game_id = $2
		) latest ON true
		WHERE m.season_id = $1
		ORDER BY m.joined_at, m.player_id`,
		seasonID, gameID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.SeasonCandidate
	for rows.Next() {
		var c repository.SeasonCandidate
		var sinceLast int
		err := rows.Scan(&c.PlayerID, &c.TurnsTaken, &c.LastTurnAt, &c.HoldsPendingTurn, &c.PlaysInGame, &sinceLast)
		if err != nil {
			return nil, err
		}
		if c.PlaysInGame > 0 {
			c.TurnsSinceLastPlay = sinceLast
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanTurn(row pgx.Row) (*models.Turn, error) {
	var turn models.Turn
	err := row.Scan(
		&turn.ID, &turn.GameID, &turn.PlayerID, &turn.TurnNumber, &turn.Type, &turn.Status,
		&turn.Content, &turn.OfferedAt, &turn.ClaimedAt, &turn.CreatedAt, &turn.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &turn, nil
}

func scanTurnValues(rows pgx.Rows) (*models.Turn, error) {
	var turn models.Turn
	err := rows.Scan(
		&turn.ID, &turn.GameID, &turn.PlayerID, &turn.TurnNumber, &turn.Type, &turn.Status,
		&turn.Content, &turn.OfferedAt, &turn.ClaimedAt, &turn.CreatedAt, &turn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &turn, nil
}
