package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/models"
)

func (s *Store) PutSession(ctx context.Context, session *models.Session) error {
	now := s.clock.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO sessions (id, player_id, kind, data, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (player_id, kind) DO UPDATE
		SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		session.ID, session.PlayerID, session.Kind, session.Data, session.ExpiresAt, now,
	)
	return err
}

func (s *Store) GetSession(ctx context.Context, playerID uuid.UUID, kind string) (*models.Session, error) {
	var session models.Session
	err := s.db(ctx).QueryRow(ctx, `
		SELECT id, player_id, kind, data, expires_at, created_at, updated_at
		FROM sessions
		WHERE player_id = $1 AND kind = $2`,
		playerID, kind,
	).Scan(
		&session.ID, &session.PlayerID, &session.Kind, &session.Data,
		&session.ExpiresAt, &session.CreatedAt, &session.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) DeleteSession(ctx context.Context, playerID uuid.UUID, kind string) error {
	_, err := s.db(ctx).Exec(ctx, `DELETE FROM sessions WHERE player_id = $1 AND kind = $2`, playerID, kind)
	return err
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.db(ctx).Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
