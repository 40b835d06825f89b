package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/groundsignal/groundsignal/internal/config"
)

const (
	keyTriggerEndpoint = "engine:trigger:%s:org:%s"
	keySchedulerLock   = "engine:sched:lock:%s"

	schedulerLockTTL = 10 * time.Minute
)

// TriggerLimiter throttles the expensive trigger endpoints (backfill,
// auto-match, reconciliation) per organization, and hands out the
// scheduler's cross-replica job locks. A nil limiter allows everything,
// which keeps single-node deployments free of a redis requirement.
type TriggerLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	rate  float64
	burst int
}

func NewTriggerLimiter(cfg config.Config) (*TriggerLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.TriggerRate <= 0 || limitCfg.TriggerBurst <= 0 {
		return nil, errors.New("trigger rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &TriggerLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    limitCfg.TriggerRate,
		burst:   limitCfg.TriggerBurst,
	}, nil
}

func (l *TriggerLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowTrigger consumes one token from the (endpoint, org) bucket.
func (l *TriggerLimiter) AllowTrigger(ctx context.Context, endpoint, orgID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyTriggerEndpoint, strings.TrimSpace(endpoint), strings.TrimSpace(orgID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}

// TryLockJob acquires the cross-replica lock for a scheduled job run.
func (l *TriggerLimiter) TryLockJob(ctx context.Context, job string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, fmt.Sprintf(keySchedulerLock, strings.TrimSpace(job)), schedulerLockTTL)
}

func (l *TriggerLimiter) ReleaseJob(ctx context.Context, job, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, fmt.Sprintf(keySchedulerLock, strings.TrimSpace(job)), token)
}
