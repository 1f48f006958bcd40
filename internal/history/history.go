// Package history records local git snapshots of the data directory.
//
// Snapshots are purely local: no remote is configured and nothing is pushed.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

const (
	dirPerm = 0750 // Directory permissions: rwxr-x---

	defaultAuthorName  = "agentstate"
	defaultAuthorEmail = "agentstate@localhost"
)

// Snapshot describes one recorded commit.
type Snapshot struct {
	Hash    string
	Message string
	When    time.Time
}

// Recorder commits the state of a directory to a git repository living in it.
type Recorder struct {
	rootPath    string
	repo        *git.Repository
	mu          sync.Mutex
	logger      *slog.Logger
	authorName  string
	authorEmail string
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets a custom logger for the recorder.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = l
	}
}

// WithAuthor sets the commit author.
func WithAuthor(name, email string) Option {
	return func(r *Recorder) {
		r.authorName = name
		r.authorEmail = email
	}
}

// Open opens the git repository at path, initializing it if needed.
func Open(path string, opts ...Option) (*Recorder, error) {
	rec := &Recorder{
		rootPath:    path,
		logger:      slog.Default(),
		authorName:  defaultAuthorName,
		authorEmail: defaultAuthorEmail,
	}

	for _, opt := range opts {
		opt(rec)
	}

	repo, err := openOrCreateRepo(path)
	if err != nil {
		return nil, err
	}

	rec.repo = repo
	return rec, nil
}

// Dir returns the directory being recorded.
func (r *Recorder) Dir() string {
	return r.rootPath
}

// Snapshot stages every change in the directory and commits it. It returns
// false when there was nothing to commit.
func (r *Recorder) Snapshot(ctx context.Context, message string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	worktree, err := r.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("get worktree: %w", err)
	}

	// Stage all changes in the worktree (equivalent to git add -A)
	if addErr := worktree.AddWithOptions(&git.AddOptions{All: true}); addErr != nil {
		return false, fmt.Errorf("git add: %w", addErr)
	}

	status, err := worktree.Status()
	if err != nil {
		return false, fmt.Errorf("get status: %w", err)
	}

	hasChanges := false
	for _, s := range status {
		if s.Staging != git.Unmodified && s.Staging != git.Untracked {
			hasChanges = true
			break
		}
	}

	if !hasChanges {
		r.logger.DebugContext(ctx, "nothing to snapshot")
		return false, nil
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  r.authorName,
			Email: r.authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	r.logger.DebugContext(ctx, "snapshot recorded", "hash", hash.String(), "message", message)
	return true, nil
}

// Log returns up to limit snapshots, newest first. A limit of 0 means all.
func (r *Recorder) Log(ctx context.Context, limit int) ([]Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	head, err := r.repo.Head()
	if err != nil {
		// A repository without commits has no HEAD yet
		r.logger.DebugContext(ctx, "no snapshots yet", "error", err)
		return nil, nil
	}

	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("git log: %w", err)
	}
	defer iter.Close()

	var snapshots []Snapshot
	err = iter.ForEach(func(c *object.Commit) error {
		if limit > 0 && len(snapshots) >= limit {
			return storer.ErrStop
		}
		snapshots = append(snapshots, Snapshot{
			Hash:    c.Hash.String(),
			Message: strings.TrimSpace(c.Message),
			When:    c.Author.When,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate log: %w", err)
	}

	return snapshots, nil
}

// openOrCreateRepo opens an existing repository or creates a new one.
func openOrCreateRepo(path string) (*git.Repository, error) {
	if err := os.MkdirAll(path, dirPerm); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}

	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open git repo: %w", err)
	}

	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init git repo: %w", err)
	}

	return repo, nil
}
