package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
)

const scanBatch = 200

// deleteIfValue removes KEYS[1] only while it still holds ARGV[1].
const deleteIfValue = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Set stores value under key; a zero ttl keeps it forever.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	store, err := c.cmd()
	if err != nil {
		return err
	}
	return store.Set(ctx, key, value, ttl).Err()
}

// Get returns redis.Nil for a missing key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	store, err := c.cmd()
	if err != nil {
		return "", err
	}
	return store.Get(ctx, key).Result()
}

// SetNX reports whether this call created the key.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	store, err := c.cmd()
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	store, err := c.cmd()
	if err != nil {
		return err
	}
	return store.Del(ctx, keys...).Err()
}

// GetJSON decodes the value at key into dest. A missing key is found=false
// with no error.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Set(ctx, key, string(raw), ttl)
}

// DeleteIfValue deletes key only while it still equals expected, so a lease
// holder never frees a lease that expired and was taken by someone else.
func (c *Client) DeleteIfValue(ctx context.Context, key, expected string) (bool, error) {
	store, err := c.cmd()
	if err != nil {
		return false, err
	}
	n, err := store.Eval(ctx, deleteIfValue, []string{key}, expected).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteByPrefix walks each "<prefix>:*" with SCAN and deletes page by page.
// A failing prefix does not stop the others; every failure is returned.
func (c *Client) DeleteByPrefix(ctx context.Context, prefixes ...string) (int64, error) {
	store, err := c.cmd()
	if err != nil {
		return 0, err
	}
	var (
		total int64
		errs  error
	)
	for _, prefix := range prefixes {
		n, err := deletePrefix(ctx, store, prefix)
		total += n
		errs = multierr.Append(errs, err)
	}
	return total, errs
}

func deletePrefix(ctx context.Context, store cmdable, prefix string) (int64, error) {
	var (
		deleted int64
		cursor  uint64
	)
	for {
		keys, next, err := store.Scan(ctx, cursor, prefix+":*", scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("scan %s: %w", prefix, err)
		}
		if len(keys) > 0 {
			n, err := store.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("del %s: %w", prefix, err)
			}
			deleted += n
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}
