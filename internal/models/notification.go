package models

import (
	"strings"
	"time"
)

type NotificationType string

const (
	NotificationNewMessage       NotificationType = "NEW_MESSAGE"
	NotificationMissedCall       NotificationType = "MISSED_CALL"
	NotificationBookingRequested NotificationType = "BOOKING_REQUESTED"
	NotificationBookingConfirmed NotificationType = "BOOKING_CONFIRMED"
	NotificationBookingCancelled NotificationType = "BOOKING_CANCELLED"
	NotificationBookingCompleted NotificationType = "BOOKING_COMPLETED"
	NotificationPostApproved     NotificationType = "POST_APPROVED"
	NotificationPostRejected     NotificationType = "POST_REJECTED"
)

// Valid accepts the known types plus any BOOKING_* or POST_* type, which
// are owned by the booking and listing services.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationNewMessage, NotificationMissedCall:
		return true
	}
	s := string(t)
	for _, prefix := range []string{"BOOKING_", "POST_"} {
		if strings.HasPrefix(s, prefix) && len(s) > len(prefix) {
			return true
		}
	}
	return false
}

type Notification struct {
	ID        int64            `json:"id" db:"id"`
	UserID    string           `json:"userId" db:"user_id"`
	Type      NotificationType `json:"type" db:"type"`
	Message   string           `json:"message" db:"message"`
	Reference *string          `json:"reference,omitempty" db:"reference"`
	IsRead    bool             `json:"isRead" db:"is_read"`
	CreatedAt time.Time        `json:"createdAt" db:"created_at"`
}
