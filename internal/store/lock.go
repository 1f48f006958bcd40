package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fclairamb/agentstate/internal/apperrors"
)

// lockTable maps a held path to a channel that is closed on release.
// Waiters block on that channel instead of polling. A release wakes every
// waiter and they race for the path, so acquisition order is not FIFO.
type lockTable struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[string]chan struct{})}
}

// tryAcquire takes the lock for key if it is free. Otherwise it returns the
// current holder's release channel.
func (t *lockTable) tryAcquire(key string) (chan struct{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if released, ok := t.held[key]; ok {
		return released, false
	}

	released := make(chan struct{})
	t.held[key] = released
	return released, true
}

func (t *lockTable) release(key string, released chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.held[key] == released {
		delete(t.held, key)
	}
	close(released)
}

// size returns the number of held locks.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.held)
}

// AcquireLock takes the in-process lock for path, waiting up to timeout for
// the current holder to release it. It returns a storage error with reason
// locked when the timeout elapses or ctx is done. The returned release
// function is safe to call more than once.
func (e *Engine) AcquireLock(ctx context.Context, path string, timeout time.Duration) (func(), error) {
	key := filepath.Clean(path)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		released, ok := e.locks.tryAcquire(key)
		if ok {
			e.logger.DebugContext(ctx, "lock acquired", "path", key)

			var once sync.Once
			return func() {
				once.Do(func() {
					e.locks.release(key, released)
					e.logger.DebugContext(ctx, "lock released", "path", key)
				})
			}, nil
		}

		e.logger.DebugContext(ctx, "waiting for lock", "path", key)

		select {
		case <-released:
		case <-timer.C:
			return nil, apperrors.Storage(apperrors.ReasonLocked, path,
				fmt.Sprintf("lock not acquired within %s", timeout), nil)
		case <-ctx.Done():
			return nil, apperrors.Storage(apperrors.ReasonLocked, path, "lock wait canceled", ctx.Err())
		}
	}
}

// WithLock runs fn while holding the lock for path.
func (e *Engine) WithLock(ctx context.Context, path string, timeout time.Duration, fn func() error) error {
	release, err := e.AcquireLock(ctx, path, timeout)
	if err != nil {
		return err
	}
	defer release()

	return fn()
}
