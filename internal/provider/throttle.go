package provider

import (
	"context"
	"time"
)

// Throttle owns every politeness and backoff sleep in the provider stack.
// When disabled all sleeps become no-ops, which keeps retry-heavy tests fast
// and deterministic. It is passed explicitly rather than read from process
// state so components can be built with independent throttles.
type Throttle struct {
	disabled bool
}

func NewThrottle(disabled bool) *Throttle {
	return &Throttle{disabled: disabled}
}

func (t *Throttle) Disabled() bool {
	return t != nil && t.disabled
}

// Sleep waits for d or until ctx is cancelled. A disabled throttle returns
// immediately without error.
func (t *Throttle) Sleep(ctx context.Context, d time.Duration) error {
	if t.Disabled() || d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
