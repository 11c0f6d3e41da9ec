// Package redis opens the optional Redis connection that backs the state
// store and the audit stream.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/stackpilot/internal/logger"
)

// ConnectOptions defines the client settings and the startup retry policy.
type ConnectOptions struct {
	Addr         string // ex: "localhost:6379"
	User         string
	Password     string
	RedisDB      int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int

	ConnectTimeout time.Duration // overall budget for the first successful ping
	RetryInterval  time.Duration // first wait between pings, doubled after each failure
	MaxWait        time.Duration // cap for the wait between pings
	PingTimeout    time.Duration // bound of a single ping
	WarnThreshold  int           // failed attempts logged as warnings before escalating to errors
}

func (o ConnectOptions) validate() error {
	var errs []error
	if o.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ConnectTimeout must be > 0, got %v", o.ConnectTimeout))
	}
	if o.RetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("RetryInterval must be > 0, got %v", o.RetryInterval))
	}
	if o.MaxWait <= 0 {
		errs = append(errs, fmt.Errorf("MaxWait must be > 0, got %v", o.MaxWait))
	}
	if o.PingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("PingTimeout must be > 0, got %v", o.PingTimeout))
	}
	if o.WarnThreshold < 0 {
		errs = append(errs, fmt.Errorf("WarnThreshold must be >= 0, got %d", o.WarnThreshold))
	}
	return errors.Join(errs...)
}

// New creates a client and pings it until it answers, ConnectTimeout
// elapses or ctx is cancelled. Startup fails fast rather than running with
// a half-configured store, so the client is closed on failure.
func New(ctx context.Context, opts ConnectOptions, log logger.Logger) (*redis.Client, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid redis options: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.User,
		Password:     opts.Password,
		DB:           opts.RedisDB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
	})

	log = log.With(logger.String("addr", opts.Addr))
	log.Info("connecting to redis", logger.Duration("timeout", opts.ConnectTimeout))

	start := time.Now()
	attempts, err := pingUntilReady(ctx, client, opts, log)
	if err != nil {
		_ = client.Close()
		log.Error("redis unavailable",
			logger.Int("attempts", attempts),
			logger.Duration("timeout", opts.ConnectTimeout),
			logger.Error(err))
		return nil, fmt.Errorf("redis unavailable at %s after %d attempts: %w", opts.Addr, attempts, err)
	}

	if attempts > 1 {
		log.Warn("connected to redis after retry",
			logger.Int("attempts", attempts),
			logger.Duration("elapsed", time.Since(start)))
	} else {
		log.Info("connected to redis")
	}
	return client, nil
}

func pingUntilReady(ctx context.Context, client *redis.Client, opts ConnectOptions, log logger.Logger) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = opts.RetryInterval
	policy.MaxInterval = opts.MaxWait
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		pingCtx, pingCancel := context.WithTimeout(ctx, opts.PingTimeout)
		defer pingCancel()
		return struct{}{}, client.Ping(pingCtx).Err()
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(opts.ConnectTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			fields := []logger.Field{
				logger.Int("attempt", attempts),
				logger.Duration("next_retry_in", next),
				logger.Error(err),
			}
			if attempts <= opts.WarnThreshold {
				log.Warn("redis connection failed, retrying", fields...)
				return
			}
			log.Error("redis still unavailable, retrying", fields...)
		}),
	)
	return attempts, err
}

// Ping checks that the client still answers within timeout.
func Ping(client *redis.Client, timeout time.Duration) error {
	if client == nil {
		return errors.New("redis client not initialized")
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return client.Ping(ctx).Err()
}
