// Package ratelimit wraps golang.org/x/time/rate behind the process-wide
// speed ceiling every Segment Worker shares, per the concurrency model's
// optional speed_limit_kbps.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// burstBytes bounds how far a single WaitN call can borrow ahead; it has no
// bearing on the sustained rate, only how bursty a single read chunk may be.
const burstBytes = 256 * 1024

// Limiter throttles aggregate segment-worker throughput to a configured
// kilobytes-per-second ceiling. A nil *Limiter is a valid no-limit value —
// callers guard on nil rather than on a "disabled" flag.
type Limiter struct {
	rl *rate.Limiter
}

// New returns a Limiter enforcing kbps kilobytes/sec, or nil if kbps <= 0
// (no ceiling configured).
func New(kbps int64) *Limiter {
	if kbps <= 0 {
		return nil
	}
	bytesPerSec := rate.Limit(kbps * 1024)
	return &Limiter{rl: rate.NewLimiter(bytesPerSec, burstBytes)}
}

// WaitN blocks until n bytes' worth of budget is available or ctx is done.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if l == nil {
		return nil
	}
	return l.rl.WaitN(ctx, n)
}

// SetKbps adjusts the ceiling at runtime, e.g. from a config reload.
func (l *Limiter) SetKbps(kbps int64) {
	if l == nil || l.rl == nil {
		return
	}
	if kbps <= 0 {
		l.rl.SetLimit(rate.Inf)
		return
	}
	l.rl.SetLimit(rate.Limit(kbps * 1024))
}
