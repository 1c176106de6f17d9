package redisc

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/umar/rental-chat/internal/models"
)

const (
	onlineSetKey   = "online_users"
	presencePrefix = "presence:"

	DefaultPresenceTTL = 120 * time.Second
)

// Presence mirrors the hub's online users into Redis so other services
// can see who is reachable. Each user has a key that expires unless the
// hub keeps refreshing it, so a crashed process does not leave users
// online forever.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &Presence{client: client, ttl: ttl}
}

func (p *Presence) SetOnline(ctx context.Context, userID string) error {
	pipe := p.client.Pipeline()
	pipe.SAdd(ctx, onlineSetKey, userID)
	pipe.Set(ctx, presencePrefix+userID, "online", p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to set online: %w", models.ErrTransientIO, err)
	}
	return nil
}

func (p *Presence) SetOffline(ctx context.Context, userID string) error {
	pipe := p.client.Pipeline()
	pipe.SRem(ctx, onlineSetKey, userID)
	pipe.Del(ctx, presencePrefix+userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to set offline: %w", models.ErrTransientIO, err)
	}
	return nil
}

// Refresh extends the TTL of every listed user's presence key. Keys that
// already expired are recreated.
func (p *Presence) Refresh(ctx context.Context, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	pipe := p.client.Pipeline()
	members := make([]interface{}, len(userIDs))
	for i, id := range userIDs {
		pipe.Set(ctx, presencePrefix+id, "online", p.ttl)
		members[i] = id
	}
	pipe.SAdd(ctx, onlineSetKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to refresh presence: %w", models.ErrTransientIO, err)
	}
	return nil
}

// isOnline reads the mirrored flag back; the hub itself is authoritative
// inside this process.
func (p *Presence) isOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.client.Exists(ctx, presencePrefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: failed to read presence: %w", models.ErrTransientIO, err)
	}
	return n > 0, nil
}
