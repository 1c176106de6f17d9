package models

import "errors"

var (
	ErrUnauthenticated       = errors.New("missing or invalid token")
	ErrTokenExpired          = errors.New("token expired")
	ErrNotFound              = errors.New("not found")
	ErrChatNotFound          = errors.New("chat not found")
	ErrInvalidParticipants   = errors.New("invalid participants")
	ErrForbidden             = errors.New("not a participant")
	ErrInvalidMessage        = errors.New("invalid message")
	ErrInvalidState          = errors.New("invalid call state")
	ErrCallAlreadyInProgress = errors.New("call already in progress")
	ErrReceiverUnreachable   = errors.New("receiver unreachable")
	ErrUnsupportedMediaType  = errors.New("unsupported media type")
	ErrPayloadTooLarge       = errors.New("payload too large")
	ErrTransientIO           = errors.New("transient io failure")
)
