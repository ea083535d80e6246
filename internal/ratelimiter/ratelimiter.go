package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles a byte stream using the token bucket algorithm.
//
// One token is one byte. Streamed copies call WaitN after every chunk so the
// sustained throughput never exceeds the configured rate, while the burst
// lets the first chunks through immediately.
//
// A nil *RateLimiter is valid and never blocks.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter for the given sustained byte rate.
//
// Parameters:
//   - bytesPerSecond: Maximum sustained throughput. Zero disables limiting
//     and New returns nil.
//   - burst: Bucket capacity in bytes. Zero defaults to one second worth of
//     tokens.
func New(bytesPerSecond, burst uint64) *RateLimiter {
	if bytesPerSecond == 0 {
		return nil
	}
	if burst == 0 {
		burst = bytesPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst)),
	}
}

// Allow reports whether n bytes may pass right now, consuming them if so.
func (r *RateLimiter) Allow(n int) bool {
	if r == nil {
		return true
	}
	return r.limiter.AllowN(time.Now(), n)
}

// WaitN blocks until n bytes worth of tokens are available or ctx is done.
//
// Requests larger than the burst are split into burst-sized waits, since
// rate.Limiter rejects single requests above its capacity.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	if r == nil || n <= 0 {
		return nil
	}

	burst := r.limiter.Burst()
	for n > 0 {
		step := n
		if step > burst {
			step = burst
		}
		if err := r.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// SetLimit changes the sustained rate. Zero makes the limiter unlimited.
func (r *RateLimiter) SetLimit(bytesPerSecond uint64) {
	if r == nil {
		return
	}
	if bytesPerSecond == 0 {
		r.limiter.SetLimit(rate.Inf)
		return
	}
	r.limiter.SetLimit(rate.Limit(bytesPerSecond))
}

// Burst returns the bucket capacity in bytes.
func (r *RateLimiter) Burst() int {
	if r == nil {
		return 0
	}
	return r.limiter.Burst()
}
