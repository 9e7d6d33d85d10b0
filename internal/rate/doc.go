// Package rate implements the per-subject refresh throttle.
//
// [Limiter] keeps fixed-window counters in Redis: INCR plus EXPIRE on the
// first hit, under keys <prefix>:rl:{subject}. [Local] keeps one
// golang.org/x/time/rate token bucket per subject in process and sweeps idle
// buckets every few minutes.
//
// Both return [ErrRateLimited] when the budget is spent. Policy (whether the
// throttle is on, and its limits) is decided by the engine.
package rate
