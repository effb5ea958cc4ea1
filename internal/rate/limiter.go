package rate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the login throttle parameters.
type Config struct {
	MaxLoginFailures int
	Cooldown         time.Duration
	EnableIPThrottle bool
	Prefix           string
}

// Limiter counts failed password attempts per handle and, optionally, per
// client IP using fixed-window Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by redisClient. An empty Prefix uses "g2f".
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "g2f"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin returns ErrRateLimited when handle, or ip when IP throttling
// is on, has used up its failure budget for the current window.
func (l *Limiter) CheckLogin(ctx context.Context, handle, ip string) error {
	if err := l.checkCounter(ctx, l.handleKey(handle)); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, l.ipKey(ip)); err != nil {
			return err
		}
	}

	return nil
}

// RecordLoginFailure counts one failed attempt. The failure that exhausts
// the budget returns ErrRateLimited.
func (l *Limiter) RecordLoginFailure(ctx context.Context, handle, ip string) error {
	count, err := l.incrementWithTTL(ctx, l.handleKey(handle))
	if err != nil {
		return err
	}
	limited := count >= int64(l.config.MaxLoginFailures)

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, l.ipKey(ip))
		if err != nil {
			return err
		}
		limited = limited || count >= int64(l.config.MaxLoginFailures)
	}

	if limited {
		return ErrRateLimited
	}
	return nil
}

// ResetLogin clears the handle counter after a successful password check.
// The IP counter is left alone so one good account cannot launder failures
// against others from the same address.
func (l *Limiter) ResetLogin(ctx context.Context, handle string) error {
	if err := l.redis.Del(ctx, l.handleKey(handle)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// LoginFailures returns the current failure count for handle. Missing keys
// read as zero.
func (l *Limiter) LoginFailures(ctx context.Context, handle string) (int, error) {
	count, err := l.redis.Get(ctx, l.handleKey(handle)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(l.config.MaxLoginFailures) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: the TTL is set only by the first hit.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Cooldown).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

// Handles are hashed so key names do not expose usernames or emails.
func (l *Limiter) handleKey(handle string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(handle))))
	return l.config.Prefix + ":rl:h:" + hex.EncodeToString(sum[:16])
}

func (l *Limiter) ipKey(ip string) string {
	return l.config.Prefix + ":rl:ip:" + ip
}
