package poll

import (
	"context"
	"time"
)

// Clock provides the time source and the sleep used between checks.
type Clock interface {
	// Now returns the current time. Deadlines are computed from it once per wait.
	Now() time.Time

	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock is the wall clock. time.Now carries a monotonic reading, so
// deadline arithmetic is unaffected by wall clock adjustments.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// Sleep waits on a timer so cancellation interrupts it.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
