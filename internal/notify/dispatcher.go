// Package notify records durable notifications, mirrors them to live
// connections and hands them to a push service on a best-effort basis.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/umar/rental-chat/internal/models"
	"github.com/umar/rental-chat/internal/protocol"
)

const (
	DefaultPushTimeout = 10 * time.Second
	DefaultListLimit   = 50
)

type Store interface {
	CreateNotification(ctx context.Context, n models.Notification) (*models.Notification, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID string, ids []int64) (int, error)
	UnreadNotificationCount(ctx context.Context, userID string) (int, error)
}

type Emitter interface {
	EmitToUser(userID, event string, payload interface{}) int
}

type PushMessage struct {
	Title string
	Body  string
	Data  map[string]string
}

// Pusher delivers one message to a set of device tokens.
type Pusher interface {
	Push(ctx context.Context, tokens []string, msg PushMessage) error
}

type TokenRegistry interface {
	AddToken(ctx context.Context, userID, token string) error
	Tokens(ctx context.Context, userID string) ([]string, error)
}

type Dispatcher struct {
	store Store
	hub   Emitter

	pusher      Pusher
	tokens      TokenRegistry
	pushTimeout time.Duration

	inflight sync.WaitGroup
}

type Option func(*Dispatcher)

// WithPush enables push delivery to the tokens in the registry. A zero
// timeout uses DefaultPushTimeout.
func WithPush(p Pusher, timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.pusher = p
		if timeout > 0 {
			d.pushTimeout = timeout
		}
	}
}

// WithTokens sets where device push tokens are kept.
func WithTokens(tokens TokenRegistry) Option {
	return func(d *Dispatcher) { d.tokens = tokens }
}

func NewDispatcher(store Store, hub Emitter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		hub:         hub,
		pushTimeout: DefaultPushTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify stores a notification for userID and tells their devices about
// it. Push delivery happens in the background and never fails the call.
func (d *Dispatcher) Notify(ctx context.Context, userID string, typ models.NotificationType, message string, ref *string) (*models.Notification, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user", models.ErrInvalidMessage)
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown notification type %q", models.ErrInvalidMessage, typ)
	}

	n, err := d.store.CreateNotification(ctx, models.Notification{
		UserID:    userID,
		Type:      typ,
		Message:   message,
		Reference: ref,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	d.hub.EmitToUser(userID, protocol.EventNewNotification, n)
	d.publishUnread(ctx, userID)
	d.push(*n)
	return n, nil
}

// MarkSelectedRead marks the given notifications of userID as read and
// returns how many unread ones remain. Ids that are already read or
// belong to someone else are ignored.
func (d *Dispatcher) MarkSelectedRead(ctx context.Context, userID string, ids []int64) (int, error) {
	if _, err := d.store.MarkNotificationsRead(ctx, userID, ids); err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	remaining, err := d.store.UnreadNotificationCount(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	d.hub.EmitToUser(userID, protocol.EventUnreadCountUpdate, protocol.UnreadCountPayload{
		Count: remaining,
		Scope: protocol.ScopeNotifications,
	})
	return remaining, nil
}

func (d *Dispatcher) List(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return d.store.ListNotifications(ctx, userID, limit)
}

func (d *Dispatcher) UnreadCount(ctx context.Context, userID string) (int, error) {
	return d.store.UnreadNotificationCount(ctx, userID)
}

func (d *Dispatcher) RegisterPushToken(ctx context.Context, userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: empty push token", models.ErrInvalidMessage)
	}
	if d.tokens == nil {
		return nil
	}
	if err := d.tokens.AddToken(ctx, userID, token); err != nil {
		return fmt.Errorf("failed to register push token: %w", err)
	}
	return nil
}

// Event is a domain event published by the booking and listing services.
type Event struct {
	UserID    string                  `json:"userId"`
	Type      models.NotificationType `json:"type"`
	Message   string                  `json:"message"`
	Reference *string                 `json:"reference,omitempty"`
}

// HandleEvent turns one raw domain event into a notification.
func (d *Dispatcher) HandleEvent(ctx context.Context, data []byte) error {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("%w: bad domain event: %v", models.ErrInvalidMessage, err)
	}
	_, err := d.Notify(ctx, ev.UserID, ev.Type, ev.Message, ev.Reference)
	return err
}

// Wait blocks until background push deliveries have finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func (d *Dispatcher) publishUnread(ctx context.Context, userID string) {
	count, err := d.store.UnreadNotificationCount(ctx, userID)
	if err != nil {
		slog.Warn("failed to count notifications", "user_id", userID, "error", err)
		return
	}
	d.hub.EmitToUser(userID, protocol.EventUnreadCountUpdate, protocol.UnreadCountPayload{
		Count: count,
		Scope: protocol.ScopeNotifications,
	})
}

func (d *Dispatcher) push(n models.Notification) {
	if d.pusher == nil || d.tokens == nil {
		return
	}
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.pushTimeout)
		defer cancel()

		tokens, err := d.tokens.Tokens(ctx, n.UserID)
		if err != nil {
			slog.Warn("failed to load push tokens", "user_id", n.UserID, "error", err)
			return
		}
		if len(tokens) == 0 {
			return
		}
		msg := PushMessage{
			Title: titleFor(n.Type),
			Body:  n.Message,
			Data: map[string]string{
				"type":           string(n.Type),
				"notificationId": fmt.Sprint(n.ID),
			},
		}
		if n.Reference != nil {
			msg.Data["reference"] = *n.Reference
		}
		if err := d.pusher.Push(ctx, tokens, msg); err != nil {
			slog.Warn("push delivery failed", "user_id", n.UserID, "notification_id", n.ID, "error", err)
		}
	}()
}

func titleFor(t models.NotificationType) string {
	switch {
	case t == models.NotificationNewMessage:
		return "New message"
	case t == models.NotificationMissedCall:
		return "Missed call"
	case strings.HasPrefix(string(t), "BOOKING_"):
		return "Booking update"
	case strings.HasPrefix(string(t), "POST_"):
		return "Listing update"
	}
	return "Notification"
}
