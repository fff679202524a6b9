package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/idlereboot/internal/config"
	"github.com/MrSnakeDoc/idlereboot/internal/logger"
)

// flakyPinger fails the first failures pings.
type flakyPinger struct {
	failures int
	calls    int
}

func (p *flakyPinger) Ping(ctx context.Context) *redis.StatusCmd {
	p.calls++
	cmd := redis.NewStatusCmd(ctx)
	if p.calls <= p.failures {
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}
	cmd.SetVal("PONG")
	return cmd
}

var fastPolicy = retryPolicy{
	initialWait:   time.Millisecond,
	maxWait:       4 * time.Millisecond,
	pingTimeout:   50 * time.Millisecond,
	totalTimeout:  time.Second,
	warnThreshold: 1,
}

func TestWaitReadyFirstAttempt(t *testing.T) {
	p := &flakyPinger{}
	require.NoError(t, waitReady(context.Background(), p, fastPolicy, logger.Nop()))
	assert.Equal(t, 1, p.calls)
}

func TestWaitReadyRetries(t *testing.T) {
	p := &flakyPinger{failures: 3}
	require.NoError(t, waitReady(context.Background(), p, fastPolicy, logger.Nop()))
	assert.Equal(t, 4, p.calls)
}

func TestWaitReadyGivesUp(t *testing.T) {
	policy := fastPolicy
	policy.totalTimeout = 20 * time.Millisecond
	p := &flakyPinger{failures: 1 << 30}

	err := waitReady(context.Background(), p, policy, logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWaitReadyHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &flakyPinger{failures: 1 << 30}

	assert.Error(t, waitReady(ctx, p, fastPolicy, logger.Nop()))
}

func TestValidate(t *testing.T) {
	good := config.Default().Redis
	require.NoError(t, validate(good))

	tests := []struct {
		name   string
		mutate func(c *config.RedisConfig)
	}{
		{name: "addr", mutate: func(c *config.RedisConfig) { c.Addr = "" }},
		{name: "connect timeout", mutate: func(c *config.RedisConfig) { c.ConnectTimeout = 0 }},
		{name: "retry interval", mutate: func(c *config.RedisConfig) { c.RetryInterval = 0 }},
		{name: "max wait", mutate: func(c *config.RedisConfig) { c.MaxWait = 0 }},
		{name: "ping timeout", mutate: func(c *config.RedisConfig) { c.PingTimeout = 0 }},
		{name: "warn threshold", mutate: func(c *config.RedisConfig) { c.WarnThreshold = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := good
			tt.mutate(&c)
			assert.Error(t, validate(c))
		})
	}
}
