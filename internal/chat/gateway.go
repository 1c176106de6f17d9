// Package chat implements the message gateway and read-state tracker that
// sit between the transports and the chat store.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/umar/rental-chat/internal/keylock"
	"github.com/umar/rental-chat/internal/models"
	"github.com/umar/rental-chat/internal/protocol"
)

const DefaultMaxUploadBytes = 10 << 20

const previewLength = 80

var audioSuffixes = map[string]string{
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".amr":  "audio/amr",
	".3gp":  "audio/3gpp",
	".caf":  "audio/x-caf",
}

// Only raster formats are accepted as images. Uploads are served from the
// API origin, so a scriptable format such as SVG must never get through.
var rasterImages = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
	"image/bmp":  true,
}

// Gateway accepts outgoing messages, persists them and fans them out.
type Gateway struct {
	store    Store
	hub      Emitter
	tracker  *Tracker
	notifier Notifier

	objects        ObjectStore
	maxUploadBytes int64

	// Serializes append + fan-out per (chat, sender) so one sender's
	// messages reach the receiver in submission order.
	senders *keylock.Locker
}

type GatewayOption func(*Gateway)

// WithAttachments enables UploadAttachment.
func WithAttachments(objects ObjectStore, maxBytes int64) GatewayOption {
	return func(g *Gateway) {
		g.objects = objects
		if maxBytes > 0 {
			g.maxUploadBytes = maxBytes
		}
	}
}

func NewGateway(store Store, hub Emitter, tracker *Tracker, notifier Notifier, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		store:          store,
		hub:            hub,
		tracker:        tracker,
		notifier:       notifier,
		maxUploadBytes: DefaultMaxUploadBytes,
		senders:        keylock.New(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) OpenChat(ctx context.Context, userID, receiverID string) (*models.Chat, error) {
	return g.store.FindOrCreateChat(ctx, userID, receiverID)
}

func (g *Gateway) ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	return g.store.ListChats(ctx, userID)
}

// History returns the chat's messages after sinceID, oldest first. Only a
// participant may read it.
func (g *Gateway) History(ctx context.Context, chatID, userID string, sinceID int64, limit int) ([]models.Message, error) {
	chat, err := g.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(userID) {
		return nil, models.ErrForbidden
	}
	return g.store.ListMessages(ctx, chatID, sinceID, limit)
}

// SendMessage persists m and delivers it. clientID is echoed back to the
// sender's devices in the message_sent ack and may be empty.
func (g *Gateway) SendMessage(ctx context.Context, m models.NewMessage, clientID string) (*models.Message, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	chat, err := g.checkParticipants(ctx, m.ChatID, m.SenderID, m.ReceiverID)
	if err != nil {
		return nil, err
	}

	unlock := g.senders.Lock(chat.ID + "/" + m.SenderID)
	defer unlock()

	msg, err := g.store.AppendMessage(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	delivered := g.hub.EmitToUser(msg.ReceiverID, protocol.EventNewMessage, msg)
	g.hub.EmitToUser(msg.SenderID, protocol.EventMessageSent, protocol.MessageSentPayload{
		ClientID: clientID,
		Message:  msg,
	})

	if delivered > 0 {
		g.tracker.PublishUnreadCount(ctx, msg.ReceiverID)
		return msg, nil
	}

	slog.Debug("receiver offline, notifying", "chat_id", msg.ChatID, "user_id", msg.ReceiverID)
	ref := msg.ChatID
	if _, err := g.notifier.Notify(ctx, msg.ReceiverID, models.NotificationNewMessage, preview(msg), &ref); err != nil {
		// The message is stored; the receiver will see it on the next poll.
		slog.Error("failed to notify offline receiver", "chat_id", msg.ChatID, "user_id", msg.ReceiverID, "error", err)
	}
	return msg, nil
}

type Attachment struct {
	ChatID     string
	SenderID   string
	ReceiverID string
	Filename   string
	MimeType   string
	Data       []byte
}

// UploadAttachment stores the bytes and sends a message pointing at them.
// The message type follows the media type: audio (or a known audio file
// extension) becomes AUDIO, images become IMAGE.
func (g *Gateway) UploadAttachment(ctx context.Context, a Attachment) (*models.Message, error) {
	if g.objects == nil {
		return nil, fmt.Errorf("%w: attachments are disabled", models.ErrUnsupportedMediaType)
	}
	if int64(len(a.Data)) > g.maxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", models.ErrPayloadTooLarge, len(a.Data), g.maxUploadBytes)
	}
	if len(a.Data) == 0 {
		return nil, fmt.Errorf("%w: empty file", models.ErrInvalidMessage)
	}
	if a.SenderID == "" || a.ReceiverID == "" || a.SenderID == a.ReceiverID {
		return nil, models.ErrInvalidParticipants
	}

	msgType, mimeType, err := ClassifyMedia(a.MimeType, a.Filename, a.Data)
	if err != nil {
		return nil, err
	}
	// Check membership before writing anything to object storage.
	if _, err := g.checkParticipants(ctx, a.ChatID, a.SenderID, a.ReceiverID); err != nil {
		return nil, err
	}

	url, err := g.objects.Store(ctx, a.Data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to store attachment: %w", err)
	}
	return g.SendMessage(ctx, models.NewMessage{
		ChatID:     a.ChatID,
		SenderID:   a.SenderID,
		ReceiverID: a.ReceiverID,
		Type:       msgType,
		Content:    url,
	}, "")
}

func (g *Gateway) checkParticipants(ctx context.Context, chatID, senderID, receiverID string) (*models.Chat, error) {
	chat, err := g.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(senderID) {
		return nil, models.ErrForbidden
	}
	if chat.Peer(senderID) != receiverID {
		return nil, models.ErrInvalidParticipants
	}
	return chat, nil
}

// ClassifyMedia decides the message type for an upload and returns the
// media type to store it under. A missing or generic declared type is
// replaced by one sniffed from the content.
func ClassifyMedia(declared, filename string, data []byte) (models.MessageType, string, error) {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		mediaType = ""
	}
	mediaType = strings.ToLower(mediaType)
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}

	if strings.HasPrefix(mediaType, "audio/") {
		return models.MessageAudio, mediaType, nil
	}
	// Recorders on some phones label voice notes as video/mp4 or
	// octet-stream; the extension is the only reliable hint.
	if typ, ok := audioSuffixes[strings.ToLower(filepath.Ext(filename))]; ok {
		return models.MessageAudio, typ, nil
	}
	if rasterImages[mediaType] {
		return models.MessageImage, mediaType, nil
	}
	return "", "", fmt.Errorf("%w: %q", models.ErrUnsupportedMediaType, declared)
}

func preview(m *models.Message) string {
	switch m.Type {
	case models.MessageImage:
		return "Sent you a photo"
	case models.MessageAudio:
		return "Sent you a voice message"
	}
	body := strings.TrimSpace(m.Content)
	if utf8.RuneCountInString(body) <= previewLength {
		return body
	}
	return string([]rune(body)[:previewLength]) + "..."
}
