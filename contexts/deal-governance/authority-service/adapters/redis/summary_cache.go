package redisadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"escrowline/contexts/deal-governance/authority-service/domain/entities"
	"escrowline/contexts/deal-governance/authority-service/ports"

	"github.com/redis/go-redis/v9"
)

// SummaryCache implements ports.SummaryCache on Redis string keys with TTL.
type SummaryCache struct {
	client redis.UniversalClient
	prefix string
}

// NewSummaryCache wraps an existing client. prefix defaults to "authority_summary".
func NewSummaryCache(client redis.UniversalClient, prefix string) *SummaryCache {
	if prefix == "" {
		prefix = "authority_summary"
	}
	return &SummaryCache{client: client, prefix: prefix}
}

// NewClient builds a single-node client from connection settings.
func NewClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (c *SummaryCache) GetSummary(ctx context.Context, actorID string) (entities.AuthoritySummary, bool, error) {
	raw, err := c.client.Get(ctx, c.key(actorID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return entities.AuthoritySummary{}, false, nil
	}
	if err != nil {
		return entities.AuthoritySummary{}, false, err
	}
	var summary entities.AuthoritySummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		// A corrupt entry behaves like a miss and is overwritten on refill.
		return entities.AuthoritySummary{}, false, nil
	}
	return summary, true, nil
}

func (c *SummaryCache) SetSummary(ctx context.Context, summary entities.AuthoritySummary, ttl time.Duration) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(summary.ActorID), payload, ttl).Err()
}

func (c *SummaryCache) InvalidateSummary(ctx context.Context, actorID string) error {
	return c.client.Del(ctx, c.key(actorID)).Err()
}

// Ping reports whether the backing Redis is reachable.
func (c *SummaryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *SummaryCache) key(actorID string) string {
	return fmt.Sprintf("%s:%s", c.prefix, actorID)
}

var _ ports.SummaryCache = (*SummaryCache)(nil)
