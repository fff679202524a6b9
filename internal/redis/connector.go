package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/idlereboot/internal/config"
	"github.com/MrSnakeDoc/idlereboot/internal/logger"
)

// retryPolicy holds the connect retry settings.
type retryPolicy struct {
	initialWait   time.Duration
	maxWait       time.Duration
	pingTimeout   time.Duration
	totalTimeout  time.Duration
	warnThreshold int
}

// pinger is the part of the client the retry loop needs.
type pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

func validate(cfg config.RedisConfig) error {
	switch {
	case cfg.Addr == "":
		return fmt.Errorf("redis: addr is required")
	case cfg.ConnectTimeout <= 0:
		return fmt.Errorf("redis: connect timeout must be > 0, got %v", cfg.ConnectTimeout)
	case cfg.RetryInterval <= 0:
		return fmt.Errorf("redis: retry interval must be > 0, got %v", cfg.RetryInterval)
	case cfg.MaxWait <= 0:
		return fmt.Errorf("redis: max wait must be > 0, got %v", cfg.MaxWait)
	case cfg.PingTimeout <= 0:
		return fmt.Errorf("redis: ping timeout must be > 0, got %v", cfg.PingTimeout)
	case cfg.WarnThreshold < 0:
		return fmt.Errorf("redis: warn threshold must be >= 0, got %d", cfg.WarnThreshold)
	}
	return nil
}

// Connect creates a client for the restart ledger and pings it with
// exponential backoff until ConnectTimeout elapses or ctx is done.
func Connect(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (*redis.Client, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.User,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	policy := retryPolicy{
		initialWait:   cfg.RetryInterval,
		maxWait:       cfg.MaxWait,
		pingTimeout:   cfg.PingTimeout,
		totalTimeout:  cfg.ConnectTimeout,
		warnThreshold: cfg.WarnThreshold,
	}

	log = log.With(logger.String("addr", cfg.Addr))
	if err := waitReady(ctx, client, policy, log); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unavailable at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// waitReady pings until success, doubling the wait between attempts up to maxWait.
func waitReady(ctx context.Context, client pinger, policy retryPolicy, log logger.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, policy.totalTimeout)
	defer cancel()

	log.Debug("connecting to redis", logger.Duration("timeout", policy.totalTimeout))
	start := time.Now()
	wait := policy.initialWait

	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, policy.pingTimeout)
		err := client.Ping(pingCtx).Err()
		pingCancel()

		if err == nil {
			if attempt > 1 {
				log.Warn("connected to redis after retry",
					logger.Int("attempts", attempt),
					logger.Duration("elapsed", time.Since(start)))
			} else {
				log.Debug("connected to redis")
			}
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Error("redis unavailable, giving up",
				logger.Int("attempts", attempt),
				logger.Duration("timeout", policy.totalTimeout),
				logger.Error(err))
			return fmt.Errorf("%d attempts: %w", attempt, err)

		case <-timer.C:
			if attempt <= policy.warnThreshold {
				log.Warn("redis connection failed, retrying",
					logger.Int("attempt", attempt),
					logger.Duration("next_retry_in", wait),
					logger.Error(err))
			} else {
				log.Error("redis still unavailable",
					logger.Int("attempt", attempt),
					logger.Duration("next_retry_in", wait),
					logger.Error(err))
			}
			wait *= 2
			if wait > policy.maxWait {
				wait = policy.maxWait
			}
		}
	}
}
