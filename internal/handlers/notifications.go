package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/umar/rental-chat/internal/auth"
	"github.com/umar/rental-chat/internal/models"
)

type NotificationService interface {
	List(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkSelectedRead(ctx context.Context, userID string, ids []int64) (int, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	RegisterPushToken(ctx context.Context, userID, token string) error
}

type notificationList struct {
	Notifications []models.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
}

func ListNotifications(notes NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		limit := 0
		if s := r.URL.Query().Get("limit"); s != "" {
			l, err := strconv.Atoi(s)
			if err != nil || l <= 0 {
				badRequest(w, "limit must be positive")
				return
			}
			limit = l
		}
		list, err := notes.List(r.Context(), userID, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		unread, err := notes.UnreadCount(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, notificationList{Notifications: list, Unread: unread})
	}
}

type markNotificationsRequest struct {
	IDs []int64 `json:"ids"`
}

func MarkNotificationsRead(notes NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req markNotificationsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		remaining, err := notes.MarkSelectedRead(r.Context(), auth.UserID(r.Context()), req.IDs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"unreadRemaining": remaining})
	}
}

type pushTokenRequest struct {
	Token string `json:"token"`
}

func RegisterPushToken(notes NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pushTokenRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := notes.RegisterPushToken(r.Context(), auth.UserID(r.Context()), req.Token); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
