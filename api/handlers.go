// Package api exposes the task manager and its sync engine over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasksync-api/domain"
	"tasksync-api/syncer"
)

// maxBatchWorkers bounds concurrent enqueues for one batch submission. Each
// enqueue is independent and order-insensitive at enqueue time.
const maxBatchWorkers = 4

// Register wires up all API routes on the provided Echo instance. deduper
// may be nil, in which case batch idempotency keys are ignored.
func Register(e *echo.Echo, store Store, engine Reconciler, remote Prober, deduper Deduper, logger *log.Logger) {
	e.POST("/api/tasks", createTask(store))
	e.GET("/api/tasks", listTasks(store))
	e.GET("/api/tasks/:id", getTask(store))
	e.PUT("/api/tasks/:id", updateTask(store))
	e.DELETE("/api/tasks/:id", deleteTask(store))

	e.POST("/api/sync", triggerSync(engine))
	e.GET("/api/sync/status", syncStatus(store, remote, logger))
	e.GET("/api/sync/queue", listQueue(store))
	e.POST("/api/sync/queue/retry", retryQueue(store))
	e.DELETE("/api/sync/queue", clearQueue(store))
	e.POST("/api/sync/batch", batchSubmit(store, deduper, logger))

	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func createTask(store Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req taskRequest
		if err := decodeBody(c.Request().Body, taskBodyMaxSize, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("invalid body"))
		}
		task, err := store.CreateTask(c.Request().Context(), req.Title, req.Description)
		if errors.Is(err, domain.ErrEmptyTitle) {
			return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		}
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorBody("failed to create task"))
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func listTasks(store Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset, err := pageParams(c, defaultPageSize)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		}
		tasks, err := store.ListTasks(c.Request().Context(), limit, offset)
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorBody("failed to list tasks"))
		}
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
	}
}

func getTask(store Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		task, err := store.GetTask(c.Request().Context(), c.Param("id"))
		if errors.Is(err, domain.ErrTaskNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("task not found"))
		}
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorBody("failed to get task"))
		}
		return c.JSON(http.StatusOK, task)
	}
}

func updateTask(store Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		var upd domain.TaskUpdate
		if err := decodeBody(c.Request().Body, taskBodyMaxSize, &upd); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("invalid body"))
		}
		if upd.Empty() {
			return c.JSON(http.StatusBadRequest, errorBody("no fields to update"))
		}
		task, err := store.UpdateTask(c.Request().Context(), c.Param("id"), upd)
		if errors.Is(err, domain.ErrTaskNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("task not found"))
		}
		if errors.Is(err, domain.ErrEmptyTitle) {
			return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		}
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorBody("failed to update task"))
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(store Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := store.DeleteTask(c.Request().Context(), c.Param("id"))
		if errors.Is(err, domain.ErrTaskNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("task not found"))
		}
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorBody("failed to delete task"))
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func triggerSync(engine Reconciler) echo.HandlerFunc {
	return func(c echo.Context) error {
		result, err := engine.Run(c.Request().Context())
		if errors.Is(err, syncer.ErrPassInFlight) {
			return c.JSON(http.StatusConflict, errorBody(err.Error()))
		}
		if err != nil {
			// Pass-level fault: storage unavailable. Distinct from a pass that
			// completed with item failures.
			if result == nil {
				result = &syncer.Result{Success: false, Message: err.Error()}
			}
			return c.JSON(http.StatusInternalServerError, result)
		}
		return c.JSON(http.StatusOK, result)
	}
}

func syncStatus(store Store, remote Prober, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		resp := statusResponse{}

		// Substatistics degrade to safe defaults instead of failing the whole
		// report.
		counts, err := store.CountIntents(ctx)
		if err != nil {
			logger.WithError(err).Warn("status: queue counts unavailable")
		} else {
			resp.PendingCount = counts.Pending
			resp.FailedCount = counts.Failed
		}
		if last, err := store.LastSyncTime(ctx); err != nil {
			logger.WithError(err).Warn("status: last sync time unavailable")
		} else if last != nil {
			unix := last.Unix()
			resp.LastSyncTime = &unix
		}
		if remote != nil {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout*time.Second)
			resp.Connectivity = remote.Probe(probeCtx)
			cancel()
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func listQueue(store Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset, err := pageParams(c, defaultPageSize)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		}
		var filter domain.IntentFilter
		switch status := c.QueryParam("status"); status {
		case "":
		case string(domain.IntentPending):
			filter.Status = domain.IntentPending
		case string(domain.IntentFailed):
			filter.Status = domain.IntentFailed
		default:
			return c.JSON(http.StatusBadRequest, errorBody("invalid status filter"))
		}
		items, err := store.ListIntents(c.Request().Context(), filter, limit, offset)
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorBody("failed to list queue"))
		}
		return c.JSON(http.StatusOK, queueResponse{Items: items, Limit: limit, Offset: offset})
	}
}

func retryQueue(store Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req retryRequest
		if err := decodeBody(c.Request().Body, taskBodyMaxSize, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("invalid body"))
		}
		if req.All && len(req.IDs) > 0 {
			return c.JSON(http.StatusBadRequest, errorBody("ids and all are mutually exclusive"))
		}
		if !req.All && len(req.IDs) == 0 {
			return c.JSON(http.StatusBadRequest, errorBody("provide ids or all"))
		}

		ctx := c.Request().Context()
		if req.All {
			retried, err := store.ResetAllFailedIntents(ctx)
			if err != nil {
				c.Logger().Error(err)
				return c.JSON(http.StatusInternalServerError, errorBody("failed to retry queue"))
			}
			return c.JSON(http.StatusOK, retryResponse{Retried: retried})
		}
		retried, err := store.ResetIntents(ctx, req.IDs)
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorBody("failed to retry queue"))
		}
		return c.JSON(http.StatusOK, retryResponse{Retried: retried, Failed: len(req.IDs) - retried})
	}
}

func clearQueue(store Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := store.ClearIntents(c.Request().Context()); err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorBody("failed to clear queue"))
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func batchSubmit(store Store, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var items []batchItem
		if err := decodeBody(c.Request().Body, batchBodyMaxSize, &items); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("body must be a list of sync intents"))
		}
		ctx := c.Request().Context()

		results := make([]batchItemResult, len(items))
		sem := make(chan struct{}, maxBatchWorkers)
		var wg sync.WaitGroup
		for i, item := range items {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int, item batchItem) {
				defer wg.Done()
				defer func() { <-sem }()
				results[i] = submitItem(ctx, store, deduper, logger, item)
			}(i, item)
		}
		wg.Wait()

		resp := batchResponse{Processed: len(items), Results: results}
		for _, r := range results {
			if r.Status == "error" {
				resp.Failed++
			} else {
				resp.Successful++
			}
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func submitItem(ctx context.Context, store Store, deduper Deduper, logger *log.Logger, item batchItem) batchItemResult {
	op := domain.Operation(item.Operation)
	if !op.Valid() {
		return batchItemResult{TaskID: item.TaskID, Status: "error", Error: domain.ErrInvalidOperation.Error()}
	}
	if item.TaskID == "" {
		return batchItemResult{TaskID: item.TaskID, Status: "error", Error: "taskId is required"}
	}

	if deduper != nil && item.IdempotencyKey != "" {
		added, err := deduper.Add(ctx, item.IdempotencyKey)
		if err != nil {
			logger.WithError(err).Warn("batch deduper unavailable; processing item anyway")
		} else if !added {
			return batchItemResult{TaskID: item.TaskID, Status: "duplicate"}
		}
	}

	intent, err := store.EnqueueIntent(ctx, item.TaskID, op, item.Payload)
	if err != nil {
		if deduper != nil && item.IdempotencyKey != "" {
			if remErr := deduper.Remove(ctx, item.IdempotencyKey); remErr != nil {
				logger.WithError(remErr).Warn("unable to release idempotency key")
			}
		}
		return batchItemResult{TaskID: item.TaskID, Status: "error", Error: err.Error()}
	}
	return batchItemResult{TaskID: item.TaskID, Status: "queued", IntentID: intent.ID}
}

func decodeBody(body io.Reader, maxSize int64, dst any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(body, maxSize))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func pageParams(c echo.Context, defaultLimit int) (limit, offset int, err error) {
	limit = defaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
	}
	if raw := c.QueryParam("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("invalid offset")
		}
	}
	return limit, offset, nil
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
