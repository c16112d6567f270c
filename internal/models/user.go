package models

import (
	"time"

	"github.com/google/uuid"
)

// User - модель пользователя в системе.
// PasswordHash наружу не отдается и в логи не попадает.
type User struct {
	ID           uuid.UUID
	Username     string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}
