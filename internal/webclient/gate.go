package webclient

import (
	"context"
	"sync"
	"time"
)

// cooldownGate is a global circuit-breaker cooldown. Tripping it sets a
// deadline before which no caller may proceed. The mutex is held for the
// entire wait, so concurrent callers queue behind the cooling call instead of
// racing past it.
type cooldownGate struct {
	mu           sync.Mutex
	coolingUntil time.Time
}

// wait blocks until the gate is no longer cooling down, or ctx is done.
func (g *cooldownGate) wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := time.Until(g.coolingUntil)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// trip extends the cooldown deadline to now+d. An earlier deadline is never
// shortened.
func (g *cooldownGate) trip(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if until := time.Now().Add(d); until.After(g.coolingUntil) {
		g.coolingUntil = until
	}
}
