// Package ratelimit paces the Sync Runner's inter-page and the Process
// Runner's inter-batch delay, using golang.org/x/time/rate instead of a bare
// time.Sleep (dsmolchanov-nerve hand-rolls an equivalent token bucket in
// internal/entitlements/rate_limiter.go; this uses the canonical library for
// the same shape of pacing rather than reimplement it).
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a minimum delay between successive calls to Wait.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer returns a Pacer that allows at most one event per interval.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next call is permitted or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
