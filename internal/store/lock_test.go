package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fclairamb/agentstate/internal/apperrors"
)

func TestAcquireLock_MutualExclusion(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)
	ctx := context.Background()
	path := engine.Path("queue.json")

	release, err := engine.AcquireLock(ctx, path, time.Second)
	if err != nil {
		t.Fatalf("first AcquireLock failed: %v", err)
	}

	var firstReleased atomic.Bool
	granted := make(chan bool, 1)
	go func() {
		second, err := engine.AcquireLock(ctx, path, 2*time.Second)
		if err != nil {
			t.Errorf("second AcquireLock failed: %v", err)
			granted <- false
			return
		}
		granted <- firstReleased.Load()
		second()
	}()

	// Give the second caller time to start waiting
	time.Sleep(50 * time.Millisecond)
	select {
	case <-granted:
		t.Fatal("second lock granted while first is held")
	default:
	}

	firstReleased.Store(true)
	release()

	select {
	case afterRelease := <-granted:
		if !afterRelease {
			t.Error("second lock was granted before first release")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second lock was never granted")
	}
}

func TestAcquireLock_ConcurrentHolders(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)
	ctx := context.Background()
	path := engine.Path("shared.json")

	var holders atomic.Int32
	var violations atomic.Int32
	var wg sync.WaitGroup

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			release, err := engine.AcquireLock(ctx, path, 5*time.Second)
			if err != nil {
				t.Errorf("AcquireLock failed: %v", err)
				return
			}
			if holders.Add(1) > 1 {
				violations.Add(1)
			}
			time.Sleep(time.Millisecond)
			holders.Add(-1)
			release()
		}()
	}

	wg.Wait()

	if v := violations.Load(); v != 0 {
		t.Errorf("lock held by more than one caller %d times", v)
	}
	if n := engine.locks.size(); n != 0 {
		t.Errorf("expected empty lock table, got %d entries", n)
	}
}

func TestAcquireLock_Timeout(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)
	ctx := context.Background()
	path := engine.Path("busy.json")

	release, err := engine.AcquireLock(ctx, path, time.Second)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer release()

	const timeout = 100 * time.Millisecond
	start := time.Now()
	_, err = engine.AcquireLock(ctx, path, timeout)
	elapsed := time.Since(start)

	if !errors.Is(err, apperrors.ErrLocked) {
		t.Fatalf("expected locked error, got %v", err)
	}
	if elapsed < timeout {
		t.Errorf("timed out after %s, expected at least %s", elapsed, timeout)
	}
	if apperrors.UserMessage(err) == "" {
		t.Error("expected a user message for the locked error")
	}
}

func TestAcquireLock_ContextCanceled(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)
	path := engine.Path("cancel.json")

	release, err := engine.AcquireLock(context.Background(), path, time.Second)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = engine.AcquireLock(ctx, path, time.Minute)
	if !errors.Is(err, apperrors.ErrLocked) {
		t.Errorf("expected locked error, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context cause, got %v", err)
	}
}

func TestAcquireLock_ReleaseRemovesEntry(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)
	ctx := context.Background()
	path := engine.Path("entry.json")

	release, err := engine.AcquireLock(ctx, path, time.Second)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if n := engine.locks.size(); n != 1 {
		t.Fatalf("expected 1 lock entry, got %d", n)
	}

	release()
	release() // second call is a no-op

	if n := engine.locks.size(); n != 0 {
		t.Errorf("expected lock entry to be removed, got %d", n)
	}

	// The path is immediately available again
	again, err := engine.AcquireLock(ctx, path, 0)
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	again()
}

func TestAcquireLock_IndependentPaths(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.AcquireLock(ctx, engine.Path("a.json"), time.Second)
	if err != nil {
		t.Fatalf("AcquireLock a failed: %v", err)
	}
	defer first()

	second, err := engine.AcquireLock(ctx, engine.Path("b.json"), 0)
	if err != nil {
		t.Fatalf("AcquireLock b failed while a is held: %v", err)
	}
	second()
}

func TestAcquireLock_SeparateEnginesDoNotShareLocks(t *testing.T) {
	t.Parallel()
	first := newTestEngine(t)
	second := New(first.Root())
	ctx := context.Background()
	path := first.Path("doc.json")

	release, err := first.AcquireLock(ctx, path, time.Second)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer release()

	// Locks are per engine instance, not filesystem locks
	other, err := second.AcquireLock(ctx, path, 0)
	if err != nil {
		t.Fatalf("expected independent engine to acquire, got %v", err)
	}
	other()
}
