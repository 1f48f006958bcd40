// Package queue provides the agent work queue persisted as a JSON document.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/fclairamb/agentstate/internal/apperrors"
	"github.com/fclairamb/agentstate/internal/store"
)

const (
	queueFile          = "queue.json"
	queueFormatVersion = 1 // Increment on breaking changes to the queue document
)

// Status is the processing state of an item.
type Status string

// Item statuses.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Item is one unit of queued work. Payload is opaque to the queue.
type Item struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    Status          `json:"status"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Document is the persisted queue.
type Document struct {
	Version int    `json:"version"`
	NextID  int64  `json:"next_id"`
	Items   []Item `json:"items"`
}

func newDocument() Document {
	return Document{
		Version: queueFormatVersion,
		NextID:  1,
		Items:   []Item{},
	}
}

// normalize repairs documents that decoded without usable bookkeeping, such
// as "{}" or "null", so that NextID stays above every ID in use.
func (d *Document) normalize() {
	if d.Version == 0 {
		d.Version = queueFormatVersion
	}
	if d.Items == nil {
		d.Items = []Item{}
	}

	var maxID int64
	for i := range d.Items {
		maxID = max(maxID, d.Items[i].ID)
	}
	if d.NextID <= maxID {
		d.NextID = maxID + 1
	}
}

func (d *Document) find(id int64) int {
	return slices.IndexFunc(d.Items, func(it Item) bool { return it.ID == id })
}

// Manager handles queue operations.
type Manager struct {
	engine      *store.Engine
	path        string
	lockTimeout time.Duration
	now         func() time.Time
	Logger      *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLockTimeout sets how long mutations wait for the queue lock.
func WithLockTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.lockTimeout = d
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.Logger = l
	}
}

// NewManager creates a queue manager storing its document in the engine root.
func NewManager(engine *store.Engine, opts ...Option) *Manager {
	qm := &Manager{
		engine:      engine,
		path:        engine.Path(queueFile),
		lockTimeout: store.DefaultLockTimeout,
		now:         time.Now,
		Logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(qm)
	}

	return qm
}

// Path returns the queue document path.
func (qm *Manager) Path() string {
	return qm.path
}

// Add appends a pending item and returns it.
func (qm *Manager) Add(ctx context.Context, itemType string, payload any) (*Item, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw = data
	}

	var added Item
	_, err := qm.update(ctx, func(doc *Document) error {
		now := qm.now()
		added = Item{
			ID:        doc.NextID,
			Type:      itemType,
			Payload:   raw,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		doc.NextID++
		doc.Items = append(doc.Items, added)
		return nil
	})
	if err != nil {
		return nil, err
	}

	qm.Logger.DebugContext(ctx, "queued item", "id", added.ID, "type", itemType)
	return &added, nil
}

// List returns the items with the given status, or every item if status is empty.
func (qm *Manager) List(ctx context.Context, status Status) ([]Item, error) {
	doc, err := store.LoadWithRecovery(ctx, qm.engine, qm.path, newDocument(), qm.onRecovery(ctx))
	if err != nil {
		return nil, err
	}

	if status == "" {
		return doc.Items, nil
	}

	var items []Item
	for i := range doc.Items {
		if doc.Items[i].Status == status {
			items = append(items, doc.Items[i])
		}
	}
	return items, nil
}

// Pop claims the oldest pending item, marks it in progress and increments
// its attempt count. It returns apperrors.ErrQueueEmpty if nothing is pending.
func (qm *Manager) Pop(ctx context.Context) (*Item, error) {
	var claimed Item
	_, err := qm.update(ctx, func(doc *Document) error {
		idx := slices.IndexFunc(doc.Items, func(it Item) bool { return it.Status == StatusPending })
		if idx < 0 {
			return apperrors.ErrQueueEmpty
		}

		item := &doc.Items[idx]
		item.Status = StatusInProgress
		item.Attempts++
		item.UpdatedAt = qm.now()
		claimed = *item
		return nil
	})
	if err != nil {
		return nil, err
	}

	qm.Logger.DebugContext(ctx, "claimed item", "id", claimed.ID, "attempts", claimed.Attempts)
	return &claimed, nil
}

// Complete marks an item as done.
func (qm *Manager) Complete(ctx context.Context, id int64) error {
	return qm.setStatus(ctx, id, StatusDone)
}

// Fail returns an item to the pending state so it can be claimed again.
func (qm *Manager) Fail(ctx context.Context, id int64) error {
	return qm.setStatus(ctx, id, StatusPending)
}

// Remove deletes an item from the queue.
func (qm *Manager) Remove(ctx context.Context, id int64) error {
	qm.Logger.DebugContext(ctx, "removing item", "id", id)

	_, err := qm.update(ctx, func(doc *Document) error {
		idx := doc.find(id)
		if idx < 0 {
			return fmt.Errorf("%w: %d", apperrors.ErrItemNotFound, id)
		}
		doc.Items = slices.Delete(doc.Items, idx, idx+1)
		return nil
	})
	return err
}

// Prune removes every done item and returns how many were removed.
func (qm *Manager) Prune(ctx context.Context) (int, error) {
	removed := 0
	_, err := qm.update(ctx, func(doc *Document) error {
		before := len(doc.Items)
		doc.Items = slices.DeleteFunc(doc.Items, func(it Item) bool { return it.Status == StatusDone })
		removed = before - len(doc.Items)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (qm *Manager) setStatus(ctx context.Context, id int64, status Status) error {
	qm.Logger.DebugContext(ctx, "updating item status", "id", id, "status", status)

	_, err := qm.update(ctx, func(doc *Document) error {
		idx := doc.find(id)
		if idx < 0 {
			return fmt.Errorf("%w: %d", apperrors.ErrItemNotFound, id)
		}
		doc.Items[idx].Status = status
		doc.Items[idx].UpdatedAt = qm.now()
		return nil
	})
	return err
}

func (qm *Manager) update(ctx context.Context, mutate func(*Document) error) (Document, error) {
	return store.Update(ctx, qm.engine, qm.path, qm.lockTimeout, newDocument, func(doc *Document) error {
		doc.normalize()
		return mutate(doc)
	})
}

func (qm *Manager) onRecovery(ctx context.Context) store.RecoveryFunc {
	return func(path string, err error) {
		qm.Logger.WarnContext(ctx, "queue document was corrupted and has been reset",
			"path", path,
			"error", err)
	}
}
