package roblox

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"
)

// Pacer spaces out outbound calls. Wait blocks until the next call may be made.
type Pacer interface {
	Wait(ctx context.Context) error
}

// NewLocalPacer allows one call per interval within this process.
func NewLocalPacer(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

type allower interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

// RedisPacer allows one call per interval across every replica sharing the
// redis instance, so a scheduled sync on one node and a manual refresh on
// another do not add up to a burst.
type RedisPacer struct {
	limiter allower
	key     string
	limit   redis_rate.Limit
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRedisPacer builds a pacer on an existing redis_rate limiter.
func NewRedisPacer(limiter *redis_rate.Limiter, key string, interval time.Duration) *RedisPacer {
	return newRedisPacer(limiter, key, interval)
}

func newRedisPacer(limiter allower, key string, interval time.Duration) *RedisPacer {
	return &RedisPacer{
		limiter: limiter,
		key:     key,
		limit:   redis_rate.Limit{Rate: 1, Burst: 1, Period: interval},
		sleep:   sleepCtx,
	}
}

// Wait implements Pacer.
func (p *RedisPacer) Wait(ctx context.Context) error {
	for {
		res, err := p.limiter.Allow(ctx, p.key, p.limit)
		if err != nil {
			return fmt.Errorf("failed to reserve outbound call slot: %w", err)
		}
		if res.Allowed > 0 {
			return nil
		}
		wait := res.RetryAfter
		if wait <= 0 {
			wait = p.limit.Period
		}
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
