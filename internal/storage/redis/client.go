package redis

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Options configures the Redis client.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %s", opts.Addr)
	}
	return rdb, nil
}
