package redisc

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/umar/rental-chat/internal/models"
)

const pushTokenPrefix = "push_tokens:"

// maxTokensPerUser bounds the set so stale devices do not accumulate.
const maxTokensPerUser = 10

type PushTokens struct {
	client *redis.Client
}

func NewPushTokens(client *redis.Client) *PushTokens {
	return &PushTokens{client: client}
}

func (t *PushTokens) AddToken(ctx context.Context, userID, token string) error {
	key := pushTokenPrefix + userID
	if err := t.client.SAdd(ctx, key, token).Err(); err != nil {
		return fmt.Errorf("%w: failed to add push token: %w", models.ErrTransientIO, err)
	}
	n, err := t.client.SCard(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: failed to count push tokens: %w", models.ErrTransientIO, err)
	}
	if n > maxTokensPerUser {
		// Drop arbitrary extras, keeping the token just added.
		extra, err := t.client.SRandMemberN(ctx, key, n-maxTokensPerUser+1).Result()
		if err != nil {
			return fmt.Errorf("%w: failed to trim push tokens: %w", models.ErrTransientIO, err)
		}
		var drop []interface{}
		for _, e := range extra {
			if e != token && int64(len(drop)) < n-maxTokensPerUser {
				drop = append(drop, e)
			}
		}
		if len(drop) > 0 {
			t.client.SRem(ctx, key, drop...)
		}
	}
	return nil
}

func (t *PushTokens) Tokens(ctx context.Context, userID string) ([]string, error) {
	tokens, err := t.client.SMembers(ctx, pushTokenPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load push tokens: %w", models.ErrTransientIO, err)
	}
	return tokens, nil
}
