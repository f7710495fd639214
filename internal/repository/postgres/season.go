package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/models"
)

const seasonColumns = "id, status, creator_id, policy, created_at, updated_at, activated_at, closed_at"

func (s *Store) CreateSeason(ctx context.Context, season *models.Season) error {
	policy, err := json.Marshal(season.Policy)
	if err != nil {
		return fmt.Errorf("encode season policy: %w", err)
	}
	now := s.clock.Now().UTC()
	season.CreatedAt = now
	season.UpdatedAt = now
	_, err = s.db(ctx).Exec(ctx, `
		INSERT INTO seasons (id, status, creator_id, policy, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		season.ID, season.Status, season.CreatorID, policy, now,
	)
	if isUniqueViolation(err) {
		return apperr.ErrConflict
	}
	return err
}

func (s *Store) GetSeason(ctx context.Context, id uuid.UUID) (*models.Season, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+seasonColumns+` FROM seasons WHERE id = $1`, id)
	return scanSeason(row)
}

func (s *Store) UpdateSeasonStatus(ctx context.Context, id uuid.UUID, expected, next models.SeasonStatus) (*models.Season, error) {
	now := s.clock.Now().UTC()
	row := s.db(ctx).QueryRow(ctx, `
		UPDATE seasons
		SET status = $3,
		    updated_at = $4,
		    activated_at = CASE WHEN $3 = 'ACTIVE' THEN $4 ELSE activated_at END,
		    closed_at = CASE WHEN $3 IN ('COMPLETED', 'CANCELLED', 'TERMINATED') THEN $4 ELSE closed_at END
		WHERE id = $1 AND status = $2
		RETURNING `+seasonColumns,
		id, expected, next, now,
	)
	season, err := scanSeason(row)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, s.seasonMissOrConflict(ctx, id)
	}
	return season, err
}

// seasonMissOrConflict tells a missing season apart from one in another
// state after a conditional update matched no row.
func (s *Store) seasonMissOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := s.db(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM seasons WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return apperr.ErrConflict
	}
	return apperr.ErrNotFound
}

func (s *Store) AddMembership(ctx context.Context, m models.Membership, maxPlayers int) error {
	// The capacity check and the insert run as one statement so a concurrent
	// join cannot slip past the cap.
	tag, err := s.db(ctx).Exec(ctx, `
		INSERT INTO memberships (player_id, season_id, joined_at)
		SELECT $1, $2, $3
		WHERE (SELECT COUNT(*) FROM memberships WHERE season_id = $2) < $4`,
		m.PlayerID, m.SeasonID, m.JoinedAt, maxPlayers,
	)
	if isUniqueViolation(err) {
		return apperr.ErrConflict
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrConflict
	}
	return nil
}

func (s *Store) ListMemberships(ctx context.Context, seasonID uuid.UUID) ([]models.Membership, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT player_id, season_id, joined_at
		FROM memberships
		WHERE season_id = $1
		ORDER BY joined_at, player_id`,
		seasonID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.PlayerID, &m.SeasonID, &m.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CountMemberships(ctx context.Context, seasonID uuid.UUID) (int, error) {
	var count int
	err := s.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM memberships WHERE season_id = $1`, seasonID).Scan(&count)
	return count, err
}

func scanSeason(row pgx.Row) (*models.Season, error) {
	var season models.Season
	var policy []byte
	err := row.Scan(
		&season.ID, &season.Status, &season.CreatorID, &policy,
		&season.CreatedAt, &season.UpdatedAt, &season.ActivatedAt, &season.ClosedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(policy, &season.Policy); err != nil {
		return nil, fmt.Errorf("decode season policy: %w", err)
	}
	return &season, nil
}
