// Package resilience provides execution guards for handler code.
package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout reports that the guarded function outlived its deadline.
// The function itself keeps running until it honors the canceled
// context; callers must not assume it stopped.
var ErrTimeout = errors.New("operation timed out")

// WithTimeout runs fn under a deadline derived from ctx. When the
// deadline passes before fn returns, ErrTimeout is returned and fn's
// eventual result is discarded.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	guarded, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- fn(guarded) }()

	select {
	case err := <-result:
		return err
	case <-guarded.Done():
		if errors.Is(guarded.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return guarded.Err()
	}
}
