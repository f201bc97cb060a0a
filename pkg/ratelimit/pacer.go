package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Pacer spaces individual API calls inside the window so that a full
// quota is not spent in one burst. A zero rate disables pacing.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a pacer allowing rps calls per second with the given
// burst.
func NewPacer(rps float64, burst int) *Pacer {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Pacer{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until the next call may start or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// Allow reports whether a call may start now without waiting.
func (p *Pacer) Allow() bool {
	if p == nil {
		return true
	}
	return p.limiter.Allow()
}
