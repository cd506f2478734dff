// Package idempotency deduplicates at-least-once event deliveries per consumer.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/adtrail-backend/pkg/redis"
)

const scopePrefix = "evt"

// Guard claims event IDs for one consumer. A claim is a Redis SETNX marker stored at
// `at:idempotency:evt:<consumer>:<event_id>` that lives for the configured TTL; releasing
// it lets a redelivery run the handler again.
type Guard struct {
	store    redis.IdempotencyStore
	consumer string
	ttl      time.Duration
}

// NewGuard binds a guard to consumer. A zero ttl keeps markers forever.
func NewGuard(store redis.IdempotencyStore, consumer string, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return nil, errors.New("consumer name is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, consumer: consumer, ttl: ttl}, nil
}

// Consumer returns the name markers are scoped to.
func (g *Guard) Consumer() string { return g.consumer }

// Claim marks eventID as taken by this consumer. claimed is false when an earlier delivery
// already holds the marker.
func (g *Guard) Claim(ctx context.Context, eventID uuid.UUID) (claimed bool, err error) {
	key, err := g.key(eventID)
	if err != nil {
		return false, err
	}
	return g.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl)
}

// Release drops the marker so the next delivery of eventID is handled.
func (g *Guard) Release(ctx context.Context, eventID uuid.UUID) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) key(eventID uuid.UUID) (string, error) {
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey(scopePrefix+":"+g.consumer, eventID.String()), nil
}
