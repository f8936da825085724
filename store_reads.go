package portalauth

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// readClient is the slice of the redis API the idempotent read paths go
// through. Carved out so the retry behavior is testable with a flaky
// client.
type readClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	ZRevRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// retryableRead reports whether a failed read is worth a second attempt.
// redis.Nil is a definitive answer, and a dead context will not heal.
func retryableRead(ctx context.Context, err error) bool {
	return err != nil && !errors.Is(err, redis.Nil) && ctx.Err() == nil
}

// readString GETs a string key, retrying once on a transient failure.
func readString(ctx context.Context, c readClient, key string) (string, error) {
	val, err := c.Get(ctx, key).Result()
	if retryableRead(ctx, err) {
		val, err = c.Get(ctx, key).Result()
	}
	return val, err
}

// readBytes GETs a binary record key, retrying once on a transient failure.
func readBytes(ctx context.Context, c readClient, key string) ([]byte, error) {
	data, err := c.Get(ctx, key).Bytes()
	if retryableRead(ctx, err) {
		data, err = c.Get(ctx, key).Bytes()
	}
	return data, err
}

// readNewest reads the highest-scored members of an index ZSET, retrying
// once on a transient failure.
func readNewest(ctx context.Context, c readClient, key string, stop int64) ([]string, error) {
	ids, err := c.ZRevRange(ctx, key, 0, stop).Result()
	if retryableRead(ctx, err) {
		ids, err = c.ZRevRange(ctx, key, 0, stop).Result()
	}
	return ids, err
}
