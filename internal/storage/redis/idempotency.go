// Package redis stores idempotency keys for order placement.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/distributor-api/internal/domain/order"
)

const (
	// keyIdempotency maps idem:order:{user}:{client key} to "pending" or the
	// placed order id.
	keyIdempotency = "idem:order:%s"
	pendingValue   = "pending"
)

var _ order.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore implements order.IdempotencyStore on Redis.
type IdempotencyStore struct {
	rdb        *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

// NewIdempotencyStore returns a store that keeps completed keys for ttl and
// in-flight claims for pendingTTL, so a crashed request cannot block its key
// forever.
func NewIdempotencyStore(rdb *redis.Client, ttl, pendingTTL time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl, pendingTTL: pendingTTL}
}

func redisKey(key string) string {
	return fmt.Sprintf(keyIdempotency, key)
}

// Begin claims key with SET NX.
func (s *IdempotencyStore) Begin(ctx context.Context, key string) (int64, error) {
	k := redisKey(key)
	for range 2 {
		ok, err := s.rdb.SetNX(ctx, k, pendingValue, s.pendingTTL).Result()
		if err != nil {
			return 0, errors.Wrap(err, "claim idempotency key")
		}
		if ok {
			return order.NoOrder, nil
		}

		v, err := s.rdb.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			// Expired between SETNX and GET.
			continue
		}
		if err != nil {
			return 0, errors.Wrap(err, "read idempotency key")
		}
		if v == pendingValue {
			return 0, order.ErrIdempotencyInFlight
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "parse idempotency value %q", v)
		}
		return id, nil
	}
	return 0, order.ErrIdempotencyInFlight
}

// Complete records the order placed for key.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, orderID int64) error {
	if err := s.rdb.Set(ctx, redisKey(key), strconv.FormatInt(orderID, 10), s.ttl).Err(); err != nil {
		return errors.Wrap(err, "complete idempotency key")
	}
	return nil
}

// Release drops the claim so the client may retry.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, redisKey(key)).Err(); err != nil {
		return errors.Wrap(err, "release idempotency key")
	}
	return nil
}
