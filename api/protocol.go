package api

import (
	"encoding/json"

	"tasksync-api/domain"
)

const (
	taskBodyMaxSize  = 64 * 1024   // 64 KiB
	batchBodyMaxSize = 1024 * 1024 // 1 MiB

	defaultPageSize = 50
	probeTimeout    = 3 // seconds
)

type taskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type queueResponse struct {
	Items  []domain.SyncIntent `json:"items"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

type statusResponse struct {
	PendingCount int    `json:"pendingCount"`
	FailedCount  int    `json:"failedCount"`
	LastSyncTime *int64 `json:"lastSyncTime"`
	Connectivity bool   `json:"connectivity"`
}

type retryRequest struct {
	IDs []string `json:"ids"`
	All bool     `json:"all"`
}

type retryResponse struct {
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
}

type batchItem struct {
	TaskID         string          `json:"taskId"`
	Operation      string          `json:"operation"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

type batchItemResult struct {
	TaskID   string `json:"taskId"`
	Status   string `json:"status"` // queued | duplicate | error
	IntentID string `json:"intentId,omitempty"`
	Error    string `json:"error,omitempty"`
}

type batchResponse struct {
	Processed  int               `json:"processed"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Results    []batchItemResult `json:"results"`
}
