package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"tasksync-api/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateTaskEnqueuesIntent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, "buy milk", "two liters")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.SyncStatus != domain.SyncPending {
		t.Fatalf("expected pending status, got %s", task.SyncStatus)
	}

	intents, err := store.ListPendingIntents(ctx, domain.MaxRetries)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(intents))
	}
	it := intents[0]
	if it.TaskID != task.ID || it.Operation != domain.OpCreate || it.RetryCount != 0 {
		t.Fatalf("unexpected intent: %#v", it)
	}
	snap, err := domain.DecodeSnapshot(it.Operation, it.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if snap.Title != "buy milk" {
		t.Fatalf("payload title = %q", snap.Title)
	}
}

func TestCreateTaskEmptyTitle(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.CreateTask(context.Background(), "  ", ""); !errors.Is(err, domain.ErrEmptyTitle) {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}
}

func TestUpdateTaskPayloadIsValueCopy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, "draft", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first := "first edit"
	if _, err := store.UpdateTask(ctx, task.ID, domain.TaskUpdate{Title: &first}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	second := "second edit"
	if _, err := store.UpdateTask(ctx, task.ID, domain.TaskUpdate{Title: &second}); err != nil {
		t.Fatalf("second update: %v", err)
	}

	intents, err := store.ListPendingIntents(ctx, domain.MaxRetries)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(intents) != 3 {
		t.Fatalf("expected 3 intents, got %d", len(intents))
	}
	// The first update's payload must keep the state captured at its enqueue
	// time, unaffected by the second update.
	snap, err := domain.DecodeSnapshot(intents[1].Operation, intents[1].Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if snap.Title != "first edit" {
		t.Fatalf("payload title = %q, want first edit", snap.Title)
	}
}

func TestUpdateTaskNotFound(t *testing.T) {
	store := newTestStore(t)
	title := "x"
	_, err := store.UpdateTask(context.Background(), "missing", domain.TaskUpdate{Title: &title})
	if !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestUpdateTaskEmptyUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	task, err := store.CreateTask(ctx, "keep", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.UpdateTask(ctx, task.ID, domain.TaskUpdate{}); err == nil {
		t.Fatal("empty update should fail")
	}
}

func TestDeleteTaskHidesButKeepsRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, "remove me", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := store.GetTask(ctx, task.ID); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("deleted task should be invisible, got %v", err)
	}
	tasks, err := store.ListTasks(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("deleted task leaked into listing: %d", len(tasks))
	}

	// The delete intent still references the task, so sync bookkeeping on it
	// must keep working.
	if err := store.MarkTaskSynced(ctx, task.ID, time.Now()); err != nil {
		t.Fatalf("mark synced after delete: %v", err)
	}
	last, err := store.LastSyncTime(ctx)
	if err != nil {
		t.Fatalf("last sync time: %v", err)
	}
	if last == nil {
		t.Fatal("expected a last sync time")
	}
}

func TestDeleteTaskTwice(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	task, err := store.CreateTask(ctx, "once", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteTask(ctx, task.ID); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("second delete should report not found, got %v", err)
	}
}

func TestListTasksNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"first", "second", "third"} {
		if _, err := store.CreateTask(ctx, title, ""); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		time.Sleep(time.Millisecond)
	}
	tasks, err := store.ListTasks(ctx, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected page of 2, got %d", len(tasks))
	}
	if tasks[0].Title != "third" || tasks[1].Title != "second" {
		t.Fatalf("unexpected order: %s, %s", tasks[0].Title, tasks[1].Title)
	}
}

func TestMarkTaskSyncedAndError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, "track me", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	at := time.Now().UTC()
	if err := store.MarkTaskSynced(ctx, task.ID, at); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SyncStatus != domain.SyncSynced {
		t.Fatalf("status = %s, want synced", got.SyncStatus)
	}
	if got.LastSyncedAt == nil || !got.LastSyncedAt.Equal(at.Truncate(0)) {
		t.Fatalf("lastSyncedAt = %v, want %v", got.LastSyncedAt, at)
	}

	if err := store.MarkTaskSyncError(ctx, task.ID); err != nil {
		t.Fatalf("mark error: %v", err)
	}
	got, err = store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SyncStatus != domain.SyncError {
		t.Fatalf("status = %s, want error", got.SyncStatus)
	}
}

func TestLastSyncTimeEmpty(t *testing.T) {
	store := newTestStore(t)
	last, err := store.LastSyncTime(context.Background())
	if err != nil {
		t.Fatalf("last sync time: %v", err)
	}
	if last != nil {
		t.Fatalf("expected nil on fresh store, got %v", last)
	}
}
