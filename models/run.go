package models

import "time"

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusAborted   = "aborted"
)

// ScrapeRun records one pipeline invocation.
type ScrapeRun struct {
	ID         int64      `json:"id" db:"id"`
	RunUID     string     `json:"run_uid" db:"run_uid"` // uuid, correlates sqlite and postgres rows
	Scope      string     `json:"scope" db:"scope"`     // "all" or a single stage name
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at" db:"finished_at"`
	Status     string     `json:"status" db:"status"`
	Succeeded  int        `json:"succeeded" db:"succeeded"`
	SoftFailed int        `json:"soft_failed" db:"soft_failed"`
	ErrorsMsg  string     `json:"error_message" db:"error_message"`
}
