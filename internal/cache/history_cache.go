package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"gopherchat/internal/model"
)

const (
	epochKey      = "chat:history:epoch"
	versionPrefix = "chat:history:ver:"
)

// HistoryCache caches message listings per visibility partition. Entries
// are keyed by a global epoch and a per-partition version; writers bump the
// version instead of deleting keys, so a listing computed before a write is
// never served after it.
type HistoryCache struct {
	client     *redisv9.Client
	historyTTL time.Duration
}

func NewHistoryCache(client *redisv9.Client, historyTTL time.Duration) *HistoryCache {
	if historyTTL <= 0 {
		historyTTL = 60 * time.Second
	}
	return &HistoryCache{
		client:     client,
		historyTTL: historyTTL,
	}
}

// Key resolves the cache key for the current versions of the partition.
func (c *HistoryCache) Key(ctx context.Context, scope model.ChatScope, counterpartUserID string, limit int) (string, error) {
	partition := partitionName(scope, counterpartUserID)
	vals, err := c.client.MGet(ctx, epochKey, versionPrefix+partition).Result()
	if err != nil {
		return "", fmt.Errorf("redis read history versions failed: %w", err)
	}
	return fmt.Sprintf("chat:history:%s:%s:%s:%d", versionOf(vals[0]), partition, versionOf(vals[1]), limit), nil
}

func (c *HistoryCache) Get(ctx context.Context, key string) ([]model.Message, bool, error) {
	raw, err := c.client.Get(ctx, key).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}

	var messages []model.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	return messages, true, nil
}

func (c *HistoryCache) Set(ctx context.Context, key string, messages []model.Message) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, c.historyTTL).Err(); err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) Invalidate(ctx context.Context, scope model.ChatScope, counterpartUserID string) error {
	if err := c.client.Incr(ctx, versionPrefix+partitionName(scope, counterpartUserID)).Err(); err != nil {
		return fmt.Errorf("redis bump history version failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) InvalidateAll(ctx context.Context) error {
	if err := c.client.Incr(ctx, epochKey).Err(); err != nil {
		return fmt.Errorf("redis bump history epoch failed: %w", err)
	}
	return nil
}

func partitionName(scope model.ChatScope, counterpartUserID string) string {
	if scope == model.ScopePrivate {
		return fmt.Sprintf("%s:%s", scope, counterpartUserID)
	}
	return string(scope)
}

func versionOf(v interface{}) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return "0"
}
