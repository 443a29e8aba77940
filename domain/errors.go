package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyTitle indicates a task create or update with a blank title.
	ErrEmptyTitle = errors.New("task title is required")
	// ErrInvalidOperation indicates an unknown sync operation.
	ErrInvalidOperation = errors.New("invalid sync operation")
	// ErrTaskNotFound indicates the task does not exist or is soft-deleted.
	ErrTaskNotFound = errors.New("task not found")
	// ErrIntentNotFound indicates the sync intent does not exist.
	ErrIntentNotFound = errors.New("sync intent not found")
)

// PayloadError indicates an intent payload that could not be decoded into a
// task snapshot. It is treated as an application failure of the intent and
// counts toward its retry budget.
type PayloadError struct {
	Reason string
	Err    error
}

func (e *PayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed intent payload: %s: %v", e.Reason, e.Err)
	}
	return "malformed intent payload: " + e.Reason
}

func (e *PayloadError) Unwrap() error { return e.Err }
