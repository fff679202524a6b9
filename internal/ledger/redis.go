package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefixLastRestart is the prefix for last-restart keys
	KeyPrefixLastRestart = "idlereboot:last_restart:"
)

// LastRestartKey returns the Redis key holding the stamp for a service
func LastRestartKey(service string) string {
	return KeyPrefixLastRestart + service
}

// RedisLedger keeps the stamp as an RFC3339 string under a per-service key.
type RedisLedger struct {
	client redis.Cmdable
	key    string
}

// NewRedisLedger creates a ledger for service on the given client.
func NewRedisLedger(client redis.Cmdable, service string) *RedisLedger {
	return &RedisLedger{
		client: client,
		key:    LastRestartKey(service),
	}
}

// Key returns the Redis key in use.
func (l *RedisLedger) Key() string { return l.key }

// LastRestart reads the stamp; a missing key means never restarted.
func (l *RedisLedger) LastRestart(ctx context.Context) (time.Time, bool, error) {
	raw, err := l.client.Get(ctx, l.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: bad value %q in %s: %w", ErrUnreadable, raw, l.key, err)
	}
	return t, true, nil
}

// RecordRestart overwrites the stamp without expiry.
func (l *RedisLedger) RecordRestart(ctx context.Context, t time.Time) error {
	if err := l.client.Set(ctx, l.key, t.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("failed to save restart stamp: %w", err)
	}
	return nil
}
