package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/umar/rental-chat/internal/auth"
	"github.com/umar/rental-chat/internal/models"
	"github.com/umar/rental-chat/internal/protocol"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var statuses = []struct {
	err    error
	status int
}{
	{models.ErrTokenExpired, http.StatusUnauthorized},
	{models.ErrUnauthenticated, http.StatusUnauthorized},
	{models.ErrChatNotFound, http.StatusNotFound},
	{models.ErrNotFound, http.StatusNotFound},
	{models.ErrInvalidParticipants, http.StatusBadRequest},
	{models.ErrInvalidMessage, http.StatusBadRequest},
	{models.ErrForbidden, http.StatusForbidden},
	{models.ErrInvalidState, http.StatusConflict},
	{models.ErrCallAlreadyInProgress, http.StatusConflict},
	{models.ErrReceiverUnreachable, http.StatusConflict},
	{models.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType},
	{models.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
	{models.ErrTransientIO, http.StatusServiceUnavailable},
}

func statusFor(err error) int {
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps err onto a status and code. Server-side failures are
// logged and their details kept out of the response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
		if status == http.StatusServiceUnavailable {
			msg = "temporarily unavailable, try again"
		}
	}
	writeJSON(w, status, errorBody{Error: msg, Code: protocol.ErrorCode(err)})
}

// maxJSONBody bounds every JSON request body. A text message at its
// length limit, escaped, fits well inside it.
const maxJSONBody = 64 << 10

// decodeBody reads a bounded JSON body into v, answering 413 or 400 itself
// when it cannot.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, models.ErrPayloadTooLarge)
			return false
		}
		badRequest(w, "invalid request body")
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: protocol.CodeInvalidPayload})
}

// actingAs reports whether the authenticated caller is userID and writes
// a 403 when it is not.
func actingAs(w http.ResponseWriter, r *http.Request, userID string) bool {
	if userID == "" || auth.UserID(r.Context()) != userID {
		writeJSON(w, http.StatusForbidden, errorBody{
			Error: "token does not belong to this user",
			Code:  protocol.CodeForbidden,
		})
		return false
	}
	return true
}
