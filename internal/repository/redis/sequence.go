package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "fulfillment:order_seq:"
	keyTTL    = 48 * time.Hour
)

// OrderNumberSequence keeps one INCR counter per calendar day. A key expires
// two days after its last use.
type OrderNumberSequence struct {
	client goredis.Cmdable
}

// NewOrderNumberSequence creates a Redis-backed per-day counter.
func NewOrderNumberSequence(client goredis.Cmdable) *OrderNumberSequence {
	return &OrderNumberSequence{client: client}
}

// Next increments and returns the counter of day.
func (s *OrderNumberSequence) Next(ctx context.Context, day time.Time) (int64, error) {
	key := keyPrefix + day.Format("20060102")

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment order sequence %s: %w", key, err)
	}
	return incr.Val(), nil
}
