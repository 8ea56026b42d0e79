package models

import (
	"fmt"
	"time"
)

// Pipeline stages, in dependency order.
const (
	StageStreets = "streets"
	StageListing = "listing"
	StageDetail  = "detail"
	StageMedia   = "media"
)

// Stages lists all stages in execution order.
var Stages = []string{StageStreets, StageListing, StageDetail, StageMedia}

// Task statuses. Transitions are forward-only except failed -> pending
// on an explicit retry, and in_progress -> pending when a crashed run's
// orphans are requeued.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
	TaskFailed     = "failed"
)

// Task is the unit of resumable work: one stage applied to one entity.
type Task struct {
	ID        string    `json:"id" db:"task_id"`
	Stage     string    `json:"stage" db:"stage"`
	EntityKey string    `json:"entity_key" db:"entity_key"`
	Status    string    `json:"status" db:"status"`
	Attempts  int       `json:"attempts" db:"attempts"`
	LastError string    `json:"last_error" db:"last_error"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TaskID builds the stable identifier for a stage + entity pair.
func TaskID(stage, entityKey string) string {
	return fmt.Sprintf("%s:%s", stage, entityKey)
}

// StageCounts holds the per-stage aggregate read by --status.
type StageCounts struct {
	Stage      string `json:"stage"`
	Pending    int    `json:"pending"`
	InProgress int    `json:"in_progress"`
	Done       int    `json:"done"`
	Failed     int    `json:"failed"`
}

// Total returns the number of tasks known for the stage.
func (c StageCounts) Total() int {
	return c.Pending + c.InProgress + c.Done + c.Failed
}
