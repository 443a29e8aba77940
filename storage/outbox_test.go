package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tasksync-api/domain"
)

func TestEnqueueIntentValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	payload := json.RawMessage(`{"id":"t1","title":"x","updatedAt":1}`)

	if _, err := store.EnqueueIntent(ctx, "", domain.OpCreate, payload); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound for empty task id, got %v", err)
	}
	if _, err := store.EnqueueIntent(ctx, "t1", domain.Operation("upsert"), payload); !errors.Is(err, domain.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
	it, err := store.EnqueueIntent(ctx, "t1", domain.OpCreate, payload)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if it.RetryCount != 0 || it.TaskID != "t1" {
		t.Fatalf("unexpected intent: %#v", it)
	}
}

func TestListPendingIntentsOldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"first", "second", "third"} {
		if _, err := store.CreateTask(ctx, title, ""); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		time.Sleep(time.Millisecond)
	}
	intents, err := store.ListPendingIntents(ctx, domain.MaxRetries)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(intents) != 3 {
		t.Fatalf("expected 3 intents, got %d", len(intents))
	}
	for i := 1; i < len(intents); i++ {
		if intents[i].CreatedAt.Before(intents[i-1].CreatedAt) {
			t.Fatalf("intents out of order at %d", i)
		}
	}
}

func TestListPendingIntentsExcludesExhausted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, "flaky", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	intents, err := store.ListPendingIntents(ctx, domain.MaxRetries)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	id := intents[0].ID

	for i := 0; i < domain.MaxRetries; i++ {
		count, err := store.MarkIntentFailed(ctx, id, "remote unreachable")
		if err != nil {
			t.Fatalf("mark failed: %v", err)
		}
		if count != i+1 {
			t.Fatalf("retry count = %d, want %d", count, i+1)
		}
	}

	intents, err = store.ListPendingIntents(ctx, domain.MaxRetries)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(intents) != 0 {
		t.Fatalf("exhausted intent still pending: %d", len(intents))
	}

	// The intent is retained, classified failed, with the last error recorded.
	failed, err := store.ListIntents(ctx, domain.IntentFilter{Status: domain.IntentFailed}, 0, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].TaskID != task.ID {
		t.Fatalf("expected the exhausted intent, got %#v", failed)
	}
	if failed[0].ErrorMessage == nil || *failed[0].ErrorMessage != "remote unreachable" {
		t.Fatalf("error message = %v", failed[0].ErrorMessage)
	}
}

func TestMarkIntentFailedNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.MarkIntentFailed(context.Background(), "missing", "x"); !errors.Is(err, domain.ErrIntentNotFound) {
		t.Fatalf("expected ErrIntentNotFound, got %v", err)
	}
}

func TestRemoveIntent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateTask(ctx, "done soon", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	intents, _ := store.ListPendingIntents(ctx, domain.MaxRetries)
	if err := store.RemoveIntent(ctx, intents[0].ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.RemoveIntent(ctx, intents[0].ID); !errors.Is(err, domain.ErrIntentNotFound) {
		t.Fatalf("expected ErrIntentNotFound on second remove, got %v", err)
	}
}

func TestResetIntentsOnlyTouchesExhausted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateTask(ctx, "healthy", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreateTask(ctx, "broken", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	intents, _ := store.ListPendingIntents(ctx, domain.MaxRetries)
	if len(intents) != 2 {
		t.Fatalf("expected 2 intents, got %d", len(intents))
	}
	healthy, broken := intents[0], intents[1]
	for i := 0; i < domain.MaxRetries; i++ {
		if _, err := store.MarkIntentFailed(ctx, broken.ID, "boom"); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
	}

	n, err := store.ResetIntents(ctx, []string{healthy.ID, broken.ID, "missing"})
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 1 {
		t.Fatalf("reset count = %d, want 1 (only the exhausted intent)", n)
	}

	intents, _ = store.ListPendingIntents(ctx, domain.MaxRetries)
	if len(intents) != 2 {
		t.Fatalf("expected both intents pending after reset, got %d", len(intents))
	}
	for _, it := range intents {
		if it.RetryCount != 0 || it.ErrorMessage != nil {
			t.Fatalf("reset left state behind: %#v", it)
		}
	}
}

func TestResetAllFailedIntents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"a", "b"} {
		if _, err := store.CreateTask(ctx, title, ""); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	intents, _ := store.ListPendingIntents(ctx, domain.MaxRetries)
	for _, it := range intents {
		for i := 0; i < domain.MaxRetries; i++ {
			if _, err := store.MarkIntentFailed(ctx, it.ID, "boom"); err != nil {
				t.Fatalf("mark failed: %v", err)
			}
		}
	}

	n, err := store.ResetAllFailedIntents(ctx)
	if err != nil {
		t.Fatalf("reset all: %v", err)
	}
	if n != 2 {
		t.Fatalf("reset count = %d, want 2", n)
	}
	counts, err := store.CountIntents(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts.Failed != 0 || counts.Pending != 2 {
		t.Fatalf("unexpected counts after reset: %#v", counts)
	}
}

func TestCountAndClearIntents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	counts, err := store.CountIntents(ctx)
	if err != nil {
		t.Fatalf("count empty: %v", err)
	}
	if counts.Total != 0 || counts.Pending != 0 || counts.Failed != 0 {
		t.Fatalf("expected zero counts, got %#v", counts)
	}

	if _, err := store.CreateTask(ctx, "one", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreateTask(ctx, "two", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	intents, _ := store.ListPendingIntents(ctx, domain.MaxRetries)
	for i := 0; i < domain.MaxRetries; i++ {
		if _, err := store.MarkIntentFailed(ctx, intents[0].ID, "boom"); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
	}

	counts, err = store.CountIntents(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts.Total != 2 || counts.Pending != 1 || counts.Failed != 1 {
		t.Fatalf("unexpected counts: %#v", counts)
	}

	if err := store.ClearIntents(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	counts, _ = store.CountIntents(ctx)
	if counts.Total != 0 {
		t.Fatalf("queue not empty after clear: %#v", counts)
	}
}

func TestListIntentsPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"a", "b", "c"} {
		if _, err := store.CreateTask(ctx, title, ""); err != nil {
			t.Fatalf("create: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	page, err := store.ListIntents(ctx, domain.IntentFilter{}, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2, got %d", len(page))
	}
	rest, err := store.ListIntents(ctx, domain.IntentFilter{}, 2, 2)
	if err != nil {
		t.Fatalf("list offset: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1, got %d", len(rest))
	}
	// Newest first: the last page holds the oldest intent.
	if !rest[0].CreatedAt.Before(page[0].CreatedAt) {
		t.Fatal("pagination order is not newest first")
	}
}
