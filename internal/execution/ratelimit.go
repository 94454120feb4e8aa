package execution

import (
	"context"

	"golang.org/x/time/rate"
)

// OutboundLimiter is a token-bucket limiter for outbound exchange calls.
// Executor does not use it: its exchange calls are made directly and are
// not rate limited.
type OutboundLimiter struct {
	limiter *rate.Limiter
}

// NewOutboundLimiter constructs a limiter allowing ratePerSecond calls per
// second with the given burst.
func NewOutboundLimiter(ratePerSecond float64, burst int) *OutboundLimiter {
	return &OutboundLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Wait blocks until a call is permitted or ctx is done.
func (l *OutboundLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
