package utils

import (
	"context"
	"errors"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

// ErrNotSettled indicates device metadata has not propagated yet.
// Probes that hit a freshly created filesystem before udev has published
// its UUID should wrap this sentinel so RetryWithBackoff keeps polling.
var ErrNotSettled = errors.New("device metadata not settled")

// SettleBackoff returns the backoff used to wait out udev metadata
// propagation after filesystem creation
func SettleBackoff() wait.Backoff {
	return wait.Backoff{
		Steps:    5,                      // Maximum 5 attempts
		Duration: 200 * time.Millisecond, // Initial delay
		Factor:   2.0,                    // 200ms, 400ms, 800ms, 1.6s
		Jitter:   0.1,                    // 10% jitter
	}
}

// RetryWithBackoff retries fn with exponential backoff until success or
// exhaustion. Only ErrNotSettled failures are retried; any other error
// stops the loop immediately (this tool performs no retries of its own
// beyond the settle window).
//
// Returns:
//   - nil if fn() succeeds
//   - the last ErrNotSettled failure if all attempts are exhausted
//   - the actual error if fn() returns a non-settle error
//   - context.Canceled or context.DeadlineExceeded if ctx is cancelled
func RetryWithBackoff(ctx context.Context, backoff wait.Backoff, fn func() error) error {
	var lastErr error
	attempt := 0

	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		attempt++
		lastErr = fn()

		if lastErr == nil {
			klog.V(4).Infof("Operation succeeded on attempt %d", attempt)
			return true, nil
		}

		if errors.Is(lastErr, ErrNotSettled) {
			klog.V(4).Infof("Attempt %d: metadata not settled yet, retrying: %v", attempt, lastErr)
			return false, nil
		}

		// Non-settle error - stop immediately
		return false, lastErr
	})

	if wait.Interrupted(err) && lastErr != nil {
		klog.V(2).Infof("All %d settle attempts exhausted, last error: %v", attempt, lastErr)
		return lastErr
	}

	return err
}
