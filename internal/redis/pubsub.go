package redisc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/umar/rental-chat/internal/models"
)

// NotificationChannel carries domain events from the booking and listing
// services.
const NotificationChannel = "events:notifications"

// PublishNotificationEvent is the producer side of NotificationChannel,
// for the booking and listing services to import. data is a JSON-encoded
// notify.Event; this server only consumes the channel.
func PublishNotificationEvent(ctx context.Context, client *redis.Client, data []byte) error {
	if err := client.Publish(ctx, NotificationChannel, data).Err(); err != nil {
		return fmt.Errorf("%w: failed to publish event: %w", models.ErrTransientIO, err)
	}
	return nil
}

// SubscribeNotifications feeds every event on NotificationChannel to
// handler until ctx is cancelled. Handler errors are logged and the
// subscription keeps going.
func SubscribeNotifications(ctx context.Context, client *redis.Client, handler func(ctx context.Context, data []byte) error) error {
	pubsub := client.Subscribe(ctx, NotificationChannel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed so publishes made right
	// after this returns are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("%w: failed to subscribe: %w", models.ErrTransientIO, err)
	}
	slog.Info("subscribed to domain events", "channel", NotificationChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := handler(ctx, []byte(msg.Payload)); err != nil {
				slog.Warn("failed to handle domain event", "channel", msg.Channel, "error", err)
			}
		}
	}
}
