package ratelimit

import "context"

// RateLimiter bounds gateway call throughput per operation (send, receipts).
type RateLimiter interface {
	Allow(ctx context.Context, operation string) (bool, error)
	Wait(ctx context.Context, operation string) error
}
