package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationRecord is the durable fallback created when an individual
// message could not be delivered live.
type NotificationRecord struct {
	ID        uuid.UUID
	UserID    UserID
	MessageID MessageID
	SenderID  UserID
	CreatedAt time.Time
}
