package api

import (
	"context"
	"encoding/json"
	"time"

	"tasksync-api/domain"
	"tasksync-api/syncer"
)

// Store abstracts persistence for handlers.
type Store interface {
	CreateTask(ctx context.Context, title, description string) (*domain.Task, error)
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	ListTasks(ctx context.Context, limit, offset int) ([]domain.Task, error)
	UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) (*domain.Task, error)
	DeleteTask(ctx context.Context, id string) error

	EnqueueIntent(ctx context.Context, taskID string, op domain.Operation, payload json.RawMessage) (*domain.SyncIntent, error)
	ListIntents(ctx context.Context, filter domain.IntentFilter, limit, offset int) ([]domain.SyncIntent, error)
	ResetIntents(ctx context.Context, ids []string) (int, error)
	ResetAllFailedIntents(ctx context.Context) (int, error)
	CountIntents(ctx context.Context) (domain.IntentCounts, error)
	ClearIntents(ctx context.Context) error
	LastSyncTime(ctx context.Context) (*time.Time, error)
}

// Reconciler runs one reconciliation pass over the outbox queue.
type Reconciler interface {
	Run(ctx context.Context) (*syncer.Result, error)
}

// Prober reports whether the remote authority is reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Deduper suppresses duplicate batch submissions across instances.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, key string) (bool, error)
	// Remove deletes a previously added key, used when enqueueing fails so the
	// caller may resubmit.
	Remove(ctx context.Context, key string) error
}
