package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tasksync-api/domain"
)

// CreateTask inserts a new task and enqueues its create intent in the same
// transaction, so a committed mutation always has exactly one intent.
func (s *Store) CreateTask(ctx context.Context, title, description string) (*domain.Task, error) {
	now := time.Now().UTC()
	task := domain.Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		SyncStatus:  domain.SyncPending,
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, completed, created_at, updated_at, is_deleted, sync_status)
		 VALUES (?, ?, ?, 0, ?, ?, 0, ?)`,
		task.ID, task.Title, task.Description, task.CreatedAt.UnixNano(), task.UpdatedAt.UnixNano(), string(task.SyncStatus),
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	if _, err := enqueueIntentTx(ctx, tx, task, domain.OpCreate); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &task, nil
}

// GetTask returns a task by id. Soft-deleted tasks are not visible.
func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, completed, created_at, updated_at, is_deleted, sync_status, server_id, last_synced_at
		 FROM tasks WHERE id = ? AND is_deleted = 0`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListTasks returns non-deleted tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, limit, offset int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, completed, created_at, updated_at, is_deleted, sync_status, server_id, last_synced_at
		 FROM tasks WHERE is_deleted = 0 ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// UpdateTask applies the non-nil fields of upd, marks the task pending and
// enqueues an update intent carrying the resulting state.
func (s *Store) UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) (*domain.Task, error) {
	if upd.Empty() {
		return nil, errors.New("task update had no fields")
	}
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil {
		task.Title = *upd.Title
	}
	if upd.Description != nil {
		task.Description = *upd.Description
	}
	if upd.Completed != nil {
		task.Completed = *upd.Completed
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	task.UpdatedAt = time.Now().UTC()
	task.SyncStatus = domain.SyncPending

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, completed = ?, updated_at = ?, sync_status = ? WHERE id = ?`,
		task.Title, task.Description, task.Completed, task.UpdatedAt.UnixNano(), string(task.SyncStatus), task.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if _, err := enqueueIntentTx(ctx, tx, *task, domain.OpUpdate); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return task, nil
}

// DeleteTask soft-deletes the task and enqueues a delete intent. The row is
// kept so the sync pipeline can still drain intents that reference it.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	task.IsDeleted = true
	task.UpdatedAt = time.Now().UTC()
	task.SyncStatus = domain.SyncPending

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET is_deleted = 1, updated_at = ?, sync_status = ? WHERE id = ?`,
		task.UpdatedAt.UnixNano(), string(task.SyncStatus), task.ID,
	)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if _, err := enqueueIntentTx(ctx, tx, *task, domain.OpDelete); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// MarkTaskSynced records a confirmed remote application. Soft-deleted tasks
// stay reachable here; their intents must still drain.
func (s *Store) MarkTaskSynced(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET sync_status = ?, last_synced_at = ? WHERE id = ?`,
		string(domain.SyncSynced), at.UTC().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("mark task synced: %w", err)
	}
	return nil
}

// MarkTaskSyncError escalates a task whose intent exhausted its retry budget.
func (s *Store) MarkTaskSyncError(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET sync_status = ? WHERE id = ?`, string(domain.SyncError), id,
	)
	if err != nil {
		return fmt.Errorf("mark task sync error: %w", err)
	}
	return nil
}

// LastSyncTime returns the most recent successful remote application across
// all tasks, or nil when nothing has synced yet.
func (s *Store) LastSyncTime(ctx context.Context) (*time.Time, error) {
	var ns sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(last_synced_at) FROM tasks`).Scan(&ns)
	if err != nil {
		return nil, fmt.Errorf("last sync time: %w", err)
	}
	if !ns.Valid {
		return nil, nil
	}
	t := time.Unix(0, ns.Int64).UTC()
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task               domain.Task
		created, updated   int64
		deleted, completed int
		status             string
		serverID           sql.NullString
		lastSynced         sql.NullInt64
	)
	err := row.Scan(&task.ID, &task.Title, &task.Description, &completed, &created, &updated, &deleted, &status, &serverID, &lastSynced)
	if err != nil {
		return nil, err
	}
	task.Completed = completed != 0
	task.CreatedAt = time.Unix(0, created).UTC()
	task.UpdatedAt = time.Unix(0, updated).UTC()
	task.IsDeleted = deleted != 0
	task.SyncStatus = domain.SyncStatus(status)
	if serverID.Valid {
		task.ServerID = &serverID.String
	}
	if lastSynced.Valid {
		t := time.Unix(0, lastSynced.Int64).UTC()
		task.LastSyncedAt = &t
	}
	return &task, nil
}
