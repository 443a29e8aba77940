package domain

import (
	"encoding/json"
	"time"
)

// Operation identifies the remote mutation a sync intent carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// MaxRetries is the fixed retry budget for a sync intent. An intent whose
// retry count reaches this value is exhausted and is only retried after a
// manual reset.
const MaxRetries = 3

// SyncIntent is a durable record of a pending mutation awaiting application
// to the remote authority. The payload is a value copy of the task taken at
// enqueue time; later task mutations do not alter it.
type SyncIntent struct {
	ID           string          `json:"id"`
	TaskID       string          `json:"taskId"`
	Operation    Operation       `json:"operation"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"createdAt"`
	RetryCount   int             `json:"retryCount"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
}

// Exhausted reports whether the intent has used up its retry budget.
func (it SyncIntent) Exhausted() bool {
	return it.RetryCount >= MaxRetries
}

// IntentStatus filters queue listings by retry classification.
type IntentStatus string

const (
	IntentPending IntentStatus = "pending"
	IntentFailed  IntentStatus = "failed"
)

// IntentFilter narrows queue administration listings. A zero filter matches
// every intent.
type IntentFilter struct {
	Status IntentStatus
}

// IntentCounts aggregates queue sizes by retry classification.
type IntentCounts struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}
