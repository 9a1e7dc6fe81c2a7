package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/config"
)

// Limiter decides whether a caller identified by key may proceed.
type Limiter interface {
	// Allow consumes one unit of rule for key.
	Allow(ctx context.Context, key string, rule Rule) (bool, error)
	// Reset clears the current window for key.
	Reset(ctx context.Context, key string, rule Rule) error
}

// Rule is a fixed window: at most Limit hits per Window.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// FixedWindowLimiter counts hits per window in Redis with INCR + PEXPIRE, so
// every replica shares the same counters.
type FixedWindowLimiter struct {
	redisClient *redis.Client
	logger      *zap.Logger
	failOpen    bool
	now         func() time.Time
}

// NewFixedWindowLimiter creates a limiter. With failOpen set, requests are
// allowed when Redis cannot be reached.
func NewFixedWindowLimiter(redisClient *redis.Client, logger *zap.Logger, failOpen bool) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		redisClient: redisClient,
		logger:      logger,
		failOpen:    failOpen,
		now:         time.Now,
	}
}

func (l *FixedWindowLimiter) Allow(ctx context.Context, key string, rule Rule) (bool, error) {
	if rule.Limit <= 0 {
		return true, nil
	}
	bucketKey := l.bucketKey(key, rule)

	pipe := l.redisClient.Pipeline()
	incr := pipe.Incr(ctx, bucketKey)
	// the extra second keeps the key alive across the window boundary
	pipe.PExpire(ctx, bucketKey, rule.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		if l.failOpen {
			l.logger.Warn("rate limit check failed, allowing request",
				zap.String("rule", rule.Name),
				zap.String("key", key),
				zap.Error(err),
			)
			return true, nil
		}
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incr.Val()
	if count > int64(rule.Limit) {
		l.logger.Warn("rate limit exceeded",
			zap.String("rule", rule.Name),
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", rule.Limit),
		)
		return false, nil
	}
	return true, nil
}

func (l *FixedWindowLimiter) Reset(ctx context.Context, key string, rule Rule) error {
	if err := l.redisClient.Del(ctx, l.bucketKey(key, rule)).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit for key %s: %w", key, err)
	}
	return nil
}

func (l *FixedWindowLimiter) bucketKey(key string, rule Rule) string {
	window := rule.Window.Milliseconds()
	if window <= 0 {
		window = time.Minute.Milliseconds()
	}
	bucket := l.now().UnixMilli() / window
	return fmt.Sprintf("ratelimit:%s:%s:%d", rule.Name, key, bucket)
}

// Endpoint names understood by RuleFor.
const (
	EndpointLogin       = "login"
	EndpointRegister    = "register"
	EndpointInviteCheck = "invite_check"
	EndpointUpload      = "upload"
)

// RuleFor maps an endpoint to its per-minute rule from config.
func RuleFor(endpoint string, cfg *config.RateLimitConfig) Rule {
	limit := 100
	switch endpoint {
	case EndpointLogin:
		limit = cfg.LoginPerMinute
	case EndpointRegister:
		limit = cfg.RegisterPerMinute
	case EndpointInviteCheck:
		limit = cfg.InviteCheckPerMinute
	case EndpointUpload:
		limit = cfg.UploadPerMinute
	}
	return Rule{Name: endpoint, Limit: limit, Window: time.Minute}
}
