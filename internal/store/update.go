package store

import (
	"context"
	"time"
)

// Update performs a locked read-modify-write cycle on the document at path.
// The current value is loaded with recovery (newDefault supplies the value for
// a missing or corrupted document), passed to mutate, and written back. If
// mutate returns an error nothing is written and the error is returned.
func Update[T any](
	ctx context.Context,
	e *Engine,
	path string,
	timeout time.Duration,
	newDefault func() T,
	mutate func(*T) error,
) (T, error) {
	var result T

	err := e.WithLock(ctx, path, timeout, func() error {
		current, err := LoadWithRecovery(ctx, e, path, newDefault(), nil)
		if err != nil {
			return err
		}

		if err := mutate(&current); err != nil {
			return err
		}

		if err := e.SafeWrite(ctx, path, current); err != nil {
			return err
		}

		result = current
		return nil
	})

	return result, err
}
