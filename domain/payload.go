package domain

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// TaskSnapshot is the serialized form of a task captured in an intent payload
// at enqueue time.
type TaskSnapshot struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	IsDeleted   bool   `json:"isDeleted,omitempty"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// Snapshot captures the sync-relevant state of a task.
func Snapshot(t Task) TaskSnapshot {
	return TaskSnapshot{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		IsDeleted:   t.IsDeleted,
		UpdatedAt:   t.UpdatedAt.UnixNano(),
	}
}

// EncodeSnapshot serializes a snapshot for durable storage in the outbox.
func EncodeSnapshot(s TaskSnapshot) (json.RawMessage, error) {
	data, err := sonic.ConfigStd.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// DecodeSnapshot parses an intent payload back into a snapshot, validating it
// against the operation it was enqueued for. Failures are reported as a
// *PayloadError so the engine can charge them to the intent's retry budget.
func DecodeSnapshot(op Operation, raw json.RawMessage) (TaskSnapshot, error) {
	if !op.Valid() {
		return TaskSnapshot{}, ErrInvalidOperation
	}
	if len(raw) == 0 {
		return TaskSnapshot{}, &PayloadError{Reason: "empty payload"}
	}
	var s TaskSnapshot
	if err := sonic.ConfigStd.Unmarshal(raw, &s); err != nil {
		return TaskSnapshot{}, &PayloadError{Reason: "not a task snapshot", Err: err}
	}
	if s.ID == "" {
		return TaskSnapshot{}, &PayloadError{Reason: "snapshot missing task id"}
	}
	if op != OpDelete && s.Title == "" {
		return TaskSnapshot{}, &PayloadError{Reason: "snapshot missing title"}
	}
	return s, nil
}
