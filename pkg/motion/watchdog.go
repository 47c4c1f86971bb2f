package motion

import (
	"context"
	"time"
)

// DefaultTickInterval is the watchdog cadence for the default timeout
const DefaultTickInterval = 20 * time.Millisecond

// RunWatchdog calls Tick on a fixed cadence until ctx is cancelled. It runs
// independently of command arrival.
func RunWatchdog(ctx context.Context, a *Arbiter, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.Tick(now)
		}
	}
}
