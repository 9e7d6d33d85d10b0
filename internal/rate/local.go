package rate

import (
	"context"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"
)

const localSweepInterval = 5 * time.Minute

// Local is the in-process refresh throttle used when no Redis client is
// configured. Each subject gets a token bucket refilling MaxRefreshAttempts
// per RefreshCooldownDuration with a burst of MaxRefreshAttempts.
type Local struct {
	limit xrate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	limiters  map[string]*xrate.Limiter
	lastSweep time.Time
}

func NewLocal(cfg Config) *Local {
	return newLocal(cfg, time.Now)
}

func newLocal(cfg Config, now func() time.Time) *Local {
	burst := cfg.MaxRefreshAttempts
	if burst <= 0 {
		burst = 1
	}
	window := cfg.RefreshCooldownDuration
	if window <= 0 {
		window = time.Minute
	}
	return &Local{
		limit:     xrate.Limit(float64(burst) / window.Seconds()),
		burst:     burst,
		now:       now,
		limiters:  make(map[string]*xrate.Limiter),
		lastSweep: now(),
	}
}

func (l *Local) CheckRefresh(ctx context.Context, subject string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := l.now()
	if !l.limiter(subject, now).AllowN(now, 1) {
		return ErrRateLimited
	}
	return nil
}

func (l *Local) limiter(subject string, now time.Time) *xrate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= localSweepInterval {
		l.lastSweep = now
		// A full bucket has been idle for at least one window.
		for k, lim := range l.limiters {
			if lim.TokensAt(now) >= float64(l.burst) {
				delete(l.limiters, k)
			}
		}
	}

	lim, ok := l.limiters[subject]
	if !ok {
		lim = xrate.NewLimiter(l.limit, l.burst)
		l.limiters[subject] = lim
	}
	return lim
}

func (l *Local) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
