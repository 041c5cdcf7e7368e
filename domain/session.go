package domain

import (
	"time"

	"github.com/google/uuid"
)

type Session struct {
	ID            uuid.UUID
	UserID        UserID
	Active        bool
	CreatedAt     time.Time
	ExpiresAt     time.Time
	DeactivatedAt *time.Time
}

// IsUsable is true while the session is active and not expired.
func (s Session) IsUsable(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}

type User struct {
	ID          UserID
	DisplayName string
	CreatedAt   time.Time
}
