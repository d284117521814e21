package timing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces out requests against a single target. It admits one
// request immediately and then at most one per interval.
type RateLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration

	mu           sync.Mutex
	requestCount int64
	waitedTotal  time.Duration
}

type Stats struct {
	Requests int64         `json:"requests"`
	Waited   time.Duration `json:"waited"`
	Interval time.Duration `json:"interval"`
}

func NewRateLimiter(interval time.Duration) *RateLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &RateLimiter{
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
	}
}

func (rl *RateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	err := rl.limiter.Wait(ctx)

	rl.mu.Lock()
	rl.requestCount++
	rl.waitedTotal += time.Since(start)
	rl.mu.Unlock()
	return err
}

func (rl *RateLimiter) Stats() Stats {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return Stats{
		Requests: rl.requestCount,
		Waited:   rl.waitedTotal,
		Interval: rl.interval,
	}
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
