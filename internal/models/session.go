package models

import (
	"time"

	"github.com/google/uuid"
)

// Session - активная refresh-сессия пользователя на конкретном устройстве.
//
// Инварианты (обеспечиваются ограничениями уникальности в БД):
//   - не более одной сессии на пару (UserID, DeviceID);
//   - RefreshToken уникален среди всех сессий.
type Session struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	DeviceID     string
	RefreshToken string
	CreatedAt    time.Time
	LastUsedAt   time.Time
}
