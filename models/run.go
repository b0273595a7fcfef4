package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// SyncRun records one sync cycle in the ops store.
type SyncRun struct {
	ID              int64      `json:"id" db:"id"`
	CycleID         string     `json:"cycle_id" db:"cycle_id"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at" db:"finished_at"`
	Status          RunStatus  `json:"status" db:"status"`
	WindowStart     time.Time  `json:"window_start" db:"window_start"`
	WindowEnd       time.Time  `json:"window_end" db:"window_end"`
	RecordsFound    int        `json:"records_found" db:"records_found"`
	RecordsUpserted int        `json:"records_upserted" db:"records_upserted"`
	ImagesReplaced  int        `json:"images_replaced" db:"images_replaced"`
	ImageFailures   int        `json:"image_failures" db:"image_failures"`
	GeocodeUpdated  int        `json:"geocode_updated" db:"geocode_updated"`
	GeocodeFailures int        `json:"geocode_failures" db:"geocode_failures"`
	ErrorsCount     int        `json:"errors_count" db:"errors_count"`
	ErrorMessage    string     `json:"error_message" db:"error_message"`
}

type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// SyncLog is one log line attached to a run.
type SyncLog struct {
	ID        int64     `json:"id" db:"id"`
	RunID     *int64    `json:"run_id" db:"run_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Level     LogLevel  `json:"level" db:"level"`
	Message   string    `json:"message" db:"message"`
	Kind      string    `json:"kind" db:"kind"`
}
