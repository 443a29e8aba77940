package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tasksync-api/domain"
)

// enqueueIntentTx appends an intent inside an open mutation transaction. The
// payload is the task state at enqueue time; later mutations do not touch it.
func enqueueIntentTx(ctx context.Context, tx *sql.Tx, task domain.Task, op domain.Operation) (*domain.SyncIntent, error) {
	payload, err := domain.EncodeSnapshot(domain.Snapshot(task))
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	intent := domain.SyncIntent{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		Operation: op,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_queue (id, task_id, operation, payload, created_at, updated_at, retry_count, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, 0, NULL)`,
		intent.ID, intent.TaskID, string(intent.Operation), string(intent.Payload),
		intent.CreatedAt.UnixNano(), intent.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue intent: %w", err)
	}
	return &intent, nil
}

// EnqueueIntent appends a standalone intent, used by batch submission where
// the payload arrives from the caller rather than from a task mutation.
func (s *Store) EnqueueIntent(ctx context.Context, taskID string, op domain.Operation, payload json.RawMessage) (*domain.SyncIntent, error) {
	if taskID == "" {
		return nil, domain.ErrTaskNotFound
	}
	if !op.Valid() {
		return nil, domain.ErrInvalidOperation
	}
	intent := domain.SyncIntent{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Operation: op,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_queue (id, task_id, operation, payload, created_at, updated_at, retry_count, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, 0, NULL)`,
		intent.ID, intent.TaskID, string(intent.Operation), string(intent.Payload),
		intent.CreatedAt.UnixNano(), intent.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue intent: %w", err)
	}
	return &intent, nil
}

// ListPendingIntents returns every intent still inside its retry budget,
// oldest first, so a task's mutations are attempted in the order they
// occurred.
func (s *Store) ListPendingIntents(ctx context.Context, maxRetries int) ([]domain.SyncIntent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, operation, payload, created_at, retry_count, error_message
		 FROM sync_queue WHERE retry_count < ? ORDER BY created_at ASC`, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("list pending intents: %w", err)
	}
	defer rows.Close()
	return scanIntents(rows)
}

// ListIntents returns a page of the queue for administration, newest first.
func (s *Store) ListIntents(ctx context.Context, filter domain.IntentFilter, limit, offset int) ([]domain.SyncIntent, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	where := ""
	switch filter.Status {
	case domain.IntentPending:
		where = fmt.Sprintf("WHERE retry_count < %d", domain.MaxRetries)
	case domain.IntentFailed:
		where = fmt.Sprintf("WHERE retry_count >= %d", domain.MaxRetries)
	}
	query := fmt.Sprintf(
		`SELECT id, task_id, operation, payload, created_at, retry_count, error_message
		 FROM sync_queue %s ORDER BY created_at DESC LIMIT ? OFFSET ?`, where)
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	defer rows.Close()
	return scanIntents(rows)
}

// MarkIntentFailed records a failed application attempt and returns the
// resulting retry count so the caller can decide whether to escalate.
func (s *Store) MarkIntentFailed(ctx context.Context, id, errMsg string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET retry_count = retry_count + 1, error_message = ?, updated_at = ? WHERE id = ?`,
		errMsg, time.Now().UTC().UnixNano(), id,
	)
	if err != nil {
		return 0, fmt.Errorf("mark intent failed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, domain.ErrIntentNotFound
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT retry_count FROM sync_queue WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("read retry count: %w", err)
	}
	return count, nil
}

// RemoveIntent deletes an intent after its confirmed remote application.
func (s *Store) RemoveIntent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove intent: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrIntentNotFound
	}
	return nil
}

// ResetIntents returns the given intents to the pending classification.
// Only exhausted intents are touched; still-pending ids are skipped by the
// filter rather than treated as an error.
func (s *Store) ResetIntents(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+2)
	args = append(args, time.Now().UTC().UnixNano())
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, domain.MaxRetries)
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE sync_queue SET retry_count = 0, error_message = NULL, updated_at = ?
		 WHERE id IN (%s) AND retry_count >= ?`, placeholders), args...)
	if err != nil {
		return 0, fmt.Errorf("reset intents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset intents: %w", err)
	}
	return int(n), nil
}

// ResetAllFailedIntents returns every exhausted intent to the pending
// classification and reports how many were reset.
func (s *Store) ResetAllFailedIntents(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET retry_count = 0, error_message = NULL, updated_at = ? WHERE retry_count >= ?`,
		time.Now().UTC().UnixNano(), domain.MaxRetries,
	)
	if err != nil {
		return 0, fmt.Errorf("reset failed intents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset failed intents: %w", err)
	}
	return int(n), nil
}

// CountIntents returns queue sizes by retry classification.
func (s *Store) CountIntents(ctx context.Context) (domain.IntentCounts, error) {
	var counts domain.IntentCounts
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(retry_count < ?), 0),
		        COALESCE(SUM(retry_count >= ?), 0)
		 FROM sync_queue`, domain.MaxRetries, domain.MaxRetries,
	).Scan(&counts.Total, &counts.Pending, &counts.Failed)
	if err != nil {
		return domain.IntentCounts{}, fmt.Errorf("count intents: %w", err)
	}
	return counts, nil
}

// ClearIntents unconditionally empties the queue. Administrative escape
// hatch, not part of the normal sync flow.
func (s *Store) ClearIntents(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("clear intents: %w", err)
	}
	return nil
}

func scanIntents(rows *sql.Rows) ([]domain.SyncIntent, error) {
	intents := []domain.SyncIntent{}
	for rows.Next() {
		var (
			it      domain.SyncIntent
			op      string
			payload string
			created int64
			errMsg  sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.TaskID, &op, &payload, &created, &it.RetryCount, &errMsg); err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		it.Operation = domain.Operation(op)
		it.Payload = json.RawMessage(payload)
		it.CreatedAt = time.Unix(0, created).UTC()
		if errMsg.Valid {
			it.ErrorMessage = &errMsg.String
		}
		intents = append(intents, it)
	}
	return intents, rows.Err()
}
