package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"tasksync-api/domain"
)

// ErrPassInFlight is returned when a reconciliation pass is requested while
// another one is still running. The queue itself does not serialize passes;
// the engine does.
var ErrPassInFlight = errors.New("reconciliation pass already in progress")

// Store defines the persistence operations the engine needs.
type Store interface {
	ListPendingIntents(ctx context.Context, maxRetries int) ([]domain.SyncIntent, error)
	MarkIntentFailed(ctx context.Context, id, errMsg string) (int, error)
	RemoveIntent(ctx context.Context, id string) error
	MarkTaskSynced(ctx context.Context, taskID string, at time.Time) error
	MarkTaskSyncError(ctx context.Context, taskID string) error
}

// IntentOutcome records how a single intent fared during a pass.
type IntentOutcome struct {
	Status string `json:"status"` // success | error
	TaskID string `json:"taskId"`
	Error  string `json:"error,omitempty"`
}

// Result aggregates one reconciliation pass.
type Result struct {
	Success bool                     `json:"success"`
	Synced  int                      `json:"syncedCount"`
	Failed  int                      `json:"failedCount"`
	Message string                   `json:"message,omitempty"`
	Details map[string]IntentOutcome `json:"details,omitempty"`
}

// Engine drains the outbox queue against the remote authority. One Run call
// is one full pass over a snapshot of the pending intents.
type Engine struct {
	store    Store
	remote   Remote
	logger   *log.Logger
	inFlight atomic.Bool
}

// New creates an Engine.
func New(store Store, remote Remote, logger *log.Logger) *Engine {
	if store == nil {
		panic("syncer.New: store is required")
	}
	if remote == nil {
		panic("syncer.New: remote is required")
	}
	if logger == nil {
		logger = log.New()
	}
	return &Engine{store: store, remote: remote, logger: logger}
}

// Run executes one reconciliation pass. Intents are processed sequentially
// in snapshot order; a per-intent failure never aborts the pass. Only one
// pass may be in flight at a time.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, ErrPassInFlight
	}
	defer e.inFlight.Store(false)

	metrics, ctx := newPassMetrics(ctx, e.logger)

	snapshot, err := e.store.ListPendingIntents(ctx, domain.MaxRetries)
	if err != nil {
		result := &Result{Success: false, Message: err.Error()}
		metrics.End(result, err)
		return result, fmt.Errorf("fetch pending intents: %w", err)
	}
	if len(snapshot) == 0 {
		result := &Result{Success: true, Message: "nothing to sync"}
		metrics.End(result, nil)
		return result, nil
	}

	result := &Result{Details: make(map[string]IntentOutcome, len(snapshot))}
	for _, intent := range snapshot {
		outcome := e.processIntent(ctx, intent)
		result.Details[intent.ID] = outcome
		if outcome.Status == "success" {
			result.Synced++
		} else {
			result.Failed++
		}
	}
	result.Success = result.Failed == 0
	metrics.End(result, nil)
	return result, nil
}

// processIntent drives one intent to success or a recorded failure.
func (e *Engine) processIntent(ctx context.Context, intent domain.SyncIntent) IntentOutcome {
	snap, err := domain.DecodeSnapshot(intent.Operation, intent.Payload)
	if err == nil {
		err = e.remote.Apply(ctx, intent.Operation, snap, intent.TaskID)
	}
	if err != nil {
		return e.recordFailure(ctx, intent, err)
	}

	// Remote apply succeeded. A failure past this point leaves local state
	// behind the remote authority; that inconsistency is logged loudly
	// instead of charging the intent's retry budget.
	now := time.Now().UTC()
	if err := e.store.MarkTaskSynced(ctx, intent.TaskID, now); err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"intent": intent.ID,
			"task":   intent.TaskID,
		}).Error("fatal anomaly: remote apply succeeded but record update failed")
		return IntentOutcome{Status: "error", TaskID: intent.TaskID, Error: err.Error()}
	}
	if err := e.store.RemoveIntent(ctx, intent.ID); err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"intent": intent.ID,
			"task":   intent.TaskID,
		}).Error("fatal anomaly: remote apply succeeded but intent removal failed")
		return IntentOutcome{Status: "error", TaskID: intent.TaskID, Error: err.Error()}
	}
	return IntentOutcome{Status: "success", TaskID: intent.TaskID}
}

// recordFailure charges the failure to the intent's retry budget and
// escalates the owning task once the budget is exhausted. The intent stays
// in the queue either way, visible for manual retry or purge.
func (e *Engine) recordFailure(ctx context.Context, intent domain.SyncIntent, cause error) IntentOutcome {
	retries, err := e.store.MarkIntentFailed(ctx, intent.ID, cause.Error())
	if err != nil {
		e.logger.WithError(err).WithField("intent", intent.ID).Error("unable to record intent failure")
		return IntentOutcome{Status: "error", TaskID: intent.TaskID, Error: cause.Error()}
	}
	fields := log.Fields{
		"intent":  intent.ID,
		"task":    intent.TaskID,
		"op":      string(intent.Operation),
		"retries": retries,
	}
	if retries >= domain.MaxRetries {
		if err := e.store.MarkTaskSyncError(ctx, intent.TaskID); err != nil {
			e.logger.WithError(err).WithField("task", intent.TaskID).Error("unable to escalate task sync status")
		}
		e.logger.WithError(cause).WithFields(fields).Error("intent exhausted retry budget")
	} else {
		e.logger.WithError(cause).WithFields(fields).Warn("intent application failed")
	}
	return IntentOutcome{Status: "error", TaskID: intent.TaskID, Error: cause.Error()}
}
