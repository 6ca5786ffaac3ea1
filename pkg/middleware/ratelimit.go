package middleware

import (
	"golang.org/x/time/rate"

	"github.com/kbirk/peerchan/pkg/channel"
)

var ErrRateLimited = channel.NewChannelError("rate limit exceeded", channel.CodeRequestError)

// RateLimit rejects incoming requests beyond a token bucket rate. Rejected
// requests are answered with ErrRateLimited.
type RateLimit struct {
	limiter *rate.Limiter
}

func NewRateLimit(r float64, burst int) *RateLimit {
	return &RateLimit{
		limiter: rate.NewLimiter(rate.Limit(r), burst),
	}
}

func (l *RateLimit) HandleIncomingRequest(ctx *channel.IncomingRequestContext, next channel.Next) error {
	if !l.limiter.Allow() {
		return ErrRateLimited
	}
	return next()
}
