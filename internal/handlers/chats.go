package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/umar/rental-chat/internal/chat"
	"github.com/umar/rental-chat/internal/models"
)

type ChatService interface {
	OpenChat(ctx context.Context, userID, receiverID string) (*models.Chat, error)
	ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error)
}

type ReadTracker interface {
	MarkChatRead(ctx context.Context, chatID, userID string) (chat.ReadResult, error)
	GetUnreadCount(ctx context.Context, userID string) (int, error)
}

type createChatRequest struct {
	UserID     string `json:"userId"`
	ReceiverID string `json:"receiverId"`
}

// CreateChat returns the chat between the two users, creating it on first
// use. Calling it again for the same pair, in either order, returns the
// same chat.
func CreateChat(chats ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createChatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !actingAs(w, r, req.UserID) {
			return
		}
		c, err := chats.OpenChat(r.Context(), req.UserID, req.ReceiverID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func ListChats(chats ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["userId"]
		if !actingAs(w, r, userID) {
			return
		}
		list, err := chats.ListChats(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func MarkRead(reads ReadTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		userID := vars["userId"]
		if !actingAs(w, r, userID) {
			return
		}
		res, err := reads.MarkChatRead(r.Context(), vars["chatId"], userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func UnreadCount(reads ReadTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["userId"]
		if !actingAs(w, r, userID) {
			return
		}
		count, err := reads.GetUnreadCount(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"count": count})
	}
}
