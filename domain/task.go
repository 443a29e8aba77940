package domain

import (
	"strings"
	"time"
)

// SyncStatus tracks how a task relates to the remote authority.
type SyncStatus string

const (
	// SyncPending means the task has local mutations awaiting remote application.
	SyncPending SyncStatus = "pending"
	// SyncSynced means the last mutation was acknowledged by the remote authority.
	SyncSynced SyncStatus = "synced"
	// SyncError means the retry budget for a mutation was exhausted.
	SyncError SyncStatus = "error"
)

// Task represents a single task record in the local store.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Completed    bool       `json:"completed"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	IsDeleted    bool       `json:"-"`
	SyncStatus   SyncStatus `json:"syncStatus"`
	ServerID     *string    `json:"serverId,omitempty"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

// Validate checks invariants that must hold before a task is persisted.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrEmptyTitle
	}
	return nil
}

// TaskUpdate carries the mutable fields of a task. Nil fields are left unchanged.
type TaskUpdate struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

// Empty reports whether the update would change nothing.
func (u TaskUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Completed == nil
}
