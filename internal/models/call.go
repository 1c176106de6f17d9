package models

import "time"

type CallState string

const (
	CallIdle    CallState = "IDLE"
	CallRinging CallState = "RINGING"
	CallActive  CallState = "ACTIVE"
)

// CallSession is never persisted. It lives while a call rings or is
// connected and is keyed by its chat.
type CallSession struct {
	ChatID     string    `json:"chatId"`
	CallerID   string    `json:"callerId"`
	ReceiverID string    `json:"receiverId"`
	RoomToken  string    `json:"roomToken"`
	State      CallState `json:"state"`
	StartedAt  time.Time `json:"startedAt"`
}

// Other returns the participant that is not userID.
func (s CallSession) Other(userID string) string {
	if userID == s.CallerID {
		return s.ReceiverID
	}
	return s.CallerID
}

func (s CallSession) Involves(userID string) bool {
	return userID != "" && (s.CallerID == userID || s.ReceiverID == userID)
}
