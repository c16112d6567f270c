package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"session-service/internal/models"
	"session-service/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SaveSession сохраняет новую сессию в БД.
// Нарушение любого ограничения уникальности (user_id+device_id, refresh_token)
// возвращается как storage.ErrAlreadyExists — вставка атомарна, гонку двух
// конкурентных логинов с нового устройства разрешает БД.
func (s *Storage) SaveSession(ctx context.Context, session *models.Session) error {
	const op = "storage.postgres.SaveSession"

	query := `
		INSERT INTO sessions(id, user_id, device_id, refresh_token, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.DeviceID,
		session.RefreshToken,
		session.CreatedAt,
		session.LastUsedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// SessionByRefreshToken находит сессию по значению refresh-токена.
func (s *Storage) SessionByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	const op = "storage.postgres.SessionByRefreshToken"

	query := `
		SELECT id, user_id, device_id, refresh_token, created_at, last_used_at
		FROM sessions
		WHERE refresh_token = $1
	`

	return s.scanSession(ctx, op, query, refreshToken)
}

// SessionByUserDevice находит сессию по паре (пользователь, устройство).
func (s *Storage) SessionByUserDevice(ctx context.Context, userID uuid.UUID, deviceID string) (*models.Session, error) {
	const op = "storage.postgres.SessionByUserDevice"

	query := `
		SELECT id, user_id, device_id, refresh_token, created_at, last_used_at
		FROM sessions
		WHERE user_id = $1 AND device_id = $2
	`

	return s.scanSession(ctx, op, query, userID, deviceID)
}

// TouchSession обновляет только last_used_at сессии.
// UPDATE ограничен одним полем, чтобы не перезатирать refresh_token/device_id
// при конкурентных изменениях.
func (s *Storage) TouchSession(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	const op = "storage.postgres.TouchSession"

	query := `
		UPDATE sessions
		SET last_used_at = $2
		WHERE id = $1
	`

	cmdTag, err := s.db.Exec(ctx, query, id, usedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// DeleteSession удаляет сессию по ID.
func (s *Storage) DeleteSession(ctx context.Context, id uuid.UUID) error {
	const op = "storage.postgres.DeleteSession"

	query := `
		DELETE FROM sessions
		WHERE id = $1
	`

	cmdTag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// DeleteExpiredSessions удаляет сессии, созданные раньше cutoff.
// Срок жизни refresh-токена отсчитывается от момента создания сессии, так что
// cutoff = now - refresh TTL отсекает сессии с заведомо истёкшими токенами.
func (s *Storage) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) error {
	const op = "storage.postgres.DeleteExpiredSessions"

	query := `
		DELETE FROM sessions
		WHERE created_at <= $1
	`

	_, err := s.db.Exec(ctx, query, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) scanSession(ctx context.Context, op, query string, args ...any) (*models.Session, error) {
	var session models.Session
	err := s.db.QueryRow(ctx, query, args...).Scan(
		&session.ID,
		&session.UserID,
		&session.DeviceID,
		&session.RefreshToken,
		&session.CreatedAt,
		&session.LastUsedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &session, nil
}
