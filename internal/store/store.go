// Package store provides atomic, corruption-aware JSON document storage
// with per-path advisory locking.
//
// An Engine is constructed once at process start and handed to every
// collaborator that needs persistence. Locks are held in memory by the
// Engine, so they only exclude callers inside the same process: two
// processes working on the same directory are not protected from each other.
package store

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
)

const (
	// File and directory permissions.
	dirPerm  = 0750 // Directory permissions: rwxr-x---
	filePerm = 0600 // File permissions: rw-------

	tmpSuffix    = ".tmp"
	backupSuffix = ".corrupted-"

	// DefaultLockTimeout is the lock wait used when callers have no better value.
	DefaultLockTimeout = 5 * time.Second
)

// Engine stores JSON documents under a root directory.
type Engine struct {
	root    string
	logger  *slog.Logger
	now     func() time.Time
	locks   *lockTable
	replace func(src, dst string) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger for the engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock sets the clock used to timestamp corruption backups.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine rooted at dir. The directory is created lazily by
// the first write.
func New(dir string, opts ...Option) *Engine {
	engine := &Engine{
		root:    dir,
		logger:  slog.Default(),
		now:     time.Now,
		locks:   newLockTable(),
		replace: atomic.ReplaceFile,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Root returns the engine's root directory.
func (e *Engine) Root() string {
	return e.root
}

// Path joins elem onto the root directory.
func (e *Engine) Path(elem ...string) string {
	return filepath.Join(append([]string{e.root}, elem...)...)
}
