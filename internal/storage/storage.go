package storage

import (
	"context"
	"errors"
	"time"

	"session-service/internal/models"

	"github.com/google/uuid"
)

var (
	// ErrNotFound — запись не найдена (пользователь/сессия).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (username/refresh-token/user+device).
	ErrAlreadyExists = errors.New("already exists")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создает нового пользователя в БД.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByUsername находит пользователя по username.
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// SessionStorage выполняет операции над refresh-сессиями.
type SessionStorage interface {
	// SaveSession сохраняет новую сессию. Конфликт по (user_id, device_id)
	// или по refresh_token возвращается как ErrAlreadyExists.
	SaveSession(ctx context.Context, session *models.Session) error
	// SessionByRefreshToken находит сессию по значению refresh-токена.
	SessionByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error)
	// SessionByUserDevice находит сессию по паре (пользователь, устройство).
	SessionByUserDevice(ctx context.Context, userID uuid.UUID, deviceID string) (*models.Session, error)
	// TouchSession обновляет last_used_at сессии. Остальные поля не трогает.
	TouchSession(ctx context.Context, id uuid.UUID, usedAt time.Time) error
	// DeleteSession удаляет сессию по ID.
	DeleteSession(ctx context.Context, id uuid.UUID) error
	// DeleteExpiredSessions удаляет сессии, созданные раньше cutoff.
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) error
}

// Storage задает контракт работы с БД.
type Storage interface {
	UserStorage
	SessionStorage
	Close()
}
