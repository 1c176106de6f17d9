package protocol

import (
	"errors"

	"github.com/umar/rental-chat/internal/models"
)

// Error codes shared by the REST and websocket surfaces.
const (
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidParticipants = "INVALID_PARTICIPANTS"
	CodeForbidden           = "FORBIDDEN"
	CodeInvalidPayload      = "INVALID_PAYLOAD"
	CodeInvalidState        = "INVALID_STATE"
	CodeCallInProgress      = "CALL_ALREADY_IN_PROGRESS"
	CodeReceiverUnreachable = "RECEIVER_UNREACHABLE"
	CodeUnsupportedMedia    = "UNSUPPORTED_MEDIA_TYPE"
	CodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	CodeTransientIO         = "TRANSIENT_IO"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInternal            = "INTERNAL_ERROR"
)

var codes = []struct {
	err  error
	code string
}{
	{models.ErrTokenExpired, CodeTokenExpired},
	{models.ErrUnauthenticated, CodeUnauthenticated},
	{models.ErrChatNotFound, CodeNotFound},
	{models.ErrNotFound, CodeNotFound},
	{models.ErrInvalidParticipants, CodeInvalidParticipants},
	{models.ErrForbidden, CodeForbidden},
	{models.ErrInvalidMessage, CodeInvalidPayload},
	{models.ErrCallAlreadyInProgress, CodeCallInProgress},
	{models.ErrInvalidState, CodeInvalidState},
	{models.ErrReceiverUnreachable, CodeReceiverUnreachable},
	{models.ErrUnsupportedMediaType, CodeUnsupportedMedia},
	{models.ErrPayloadTooLarge, CodePayloadTooLarge},
	{models.ErrTransientIO, CodeTransientIO},
}

// ErrorCode maps err onto the wire code of the first matching sentinel.
func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
