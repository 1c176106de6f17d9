package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/umar/rental-chat/internal/auth"
	"github.com/umar/rental-chat/internal/chat"
	"github.com/umar/rental-chat/internal/models"
)

const (
	maxHistoryPage = 500
	// Room for the multipart envelope and form fields around the file.
	multipartSlack = 1 << 20
)

type MessageService interface {
	SendMessage(ctx context.Context, m models.NewMessage, clientID string) (*models.Message, error)
	UploadAttachment(ctx context.Context, a chat.Attachment) (*models.Message, error)
	History(ctx context.Context, chatID, userID string, sinceID int64, limit int) ([]models.Message, error)
}

type sendMessageRequest struct {
	ChatID     string             `json:"chatId"`
	SenderID   string             `json:"senderId"`
	ReceiverID string             `json:"receiverId"`
	Type       models.MessageType `json:"type"`
	Content    string             `json:"content"`
	ClientID   string             `json:"clientId,omitempty"`
}

func SendMessage(messages MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Type == "" {
			req.Type = models.MessageText
		}
		if !actingAs(w, r, req.SenderID) {
			return
		}
		msg, err := messages.SendMessage(r.Context(), models.NewMessage{
			ChatID:     req.ChatID,
			SenderID:   req.SenderID,
			ReceiverID: req.ReceiverID,
			Type:       req.Type,
			Content:    req.Content,
		}, req.ClientID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

type uploadResponse struct {
	URL       string          `json:"url"`
	MessageID int64           `json:"messageId"`
	Message   *models.Message `json:"message"`
}

// UploadAttachment accepts multipart form data with fields file, chatId,
// senderId and receiverId.
func UploadAttachment(messages MessageService, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartSlack)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeError(w, r, models.ErrPayloadTooLarge)
				return
			}
			badRequest(w, "invalid multipart form")
			return
		}
		defer r.MultipartForm.RemoveAll()

		senderID := r.FormValue("senderId")
		if !actingAs(w, r, senderID) {
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			badRequest(w, "missing file")
			return
		}
		defer file.Close()

		if header.Size > maxBytes {
			writeError(w, r, models.ErrPayloadTooLarge)
			return
		}
		data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
		if err != nil {
			badRequest(w, "failed to read file")
			return
		}

		msg, err := messages.UploadAttachment(r.Context(), chat.Attachment{
			ChatID:     r.FormValue("chatId"),
			SenderID:   senderID,
			ReceiverID: r.FormValue("receiverId"),
			Filename:   header.Filename,
			MimeType:   header.Header.Get("Content-Type"),
			Data:       data,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, uploadResponse{URL: msg.Content, MessageID: msg.ID, Message: msg})
	}
}

// GetMessages returns a chat's messages oldest first. ?since=<id> returns
// only newer ones, for polling; ?limit= caps the page.
func GetMessages(messages MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := mux.Vars(r)["chatId"]
		userID := auth.UserID(r.Context())

		var sinceID int64
		if s := r.URL.Query().Get("since"); s != "" {
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil || id < 0 {
				badRequest(w, "since must be a message id")
				return
			}
			sinceID = id
		}
		limit := 0
		if s := r.URL.Query().Get("limit"); s != "" {
			l, err := strconv.Atoi(s)
			if err != nil || l <= 0 {
				badRequest(w, "limit must be positive")
				return
			}
			limit = min(l, maxHistoryPage)
		}

		list, err := messages.History(r.Context(), chatID, userID, sinceID, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}
