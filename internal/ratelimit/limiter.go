// Package ratelimit caps the request rate shared by all workers.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter paces request issue across workers. A nil *RateLimiter or a
// zero rate never waits.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter paces requests evenly at rps per second. The burst is one
// request, so a run never opens with a spike of rps requests.
func NewRateLimiter(rps int) *RateLimiter {
	if rps < 0 {
		rps = 0
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Wait blocks until a request may be issued or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.limiter.Limit() == 0 {
		return nil
	}
	return r.limiter.Wait(ctx)
}

// Limit returns the configured requests per second, 0 when unlimited.
func (r *RateLimiter) Limit() int {
	if r == nil {
		return 0
	}
	return int(r.limiter.Limit())
}
