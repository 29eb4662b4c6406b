package batch

import (
	"context"
	"time"
)

// SleepFunc pauses for d or until ctx is done, returning ctx.Err() in the latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default [SleepFunc], backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// pause sleeps and records the observed delay.
func pause(ctx context.Context, sleep SleepFunc, op string, d time.Duration) error {
	start := time.Now()
	err := sleep(ctx, d)
	DelaySeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return err
}
