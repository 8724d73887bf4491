package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// CheckpointKind enumerates the kernel operations that append a Checkpoint
// row. Adapted from the teacher's JobRunEvent kind enum (job_run_event.go),
// generalized to cover task-level events as well as job-level ones.
type CheckpointKind string

const (
	CheckpointJobSubmitted   CheckpointKind = "job_submitted"
	CheckpointStageStarted   CheckpointKind = "stage_started"
	CheckpointTaskDispatched CheckpointKind = "task_dispatched"
	CheckpointTaskStarted    CheckpointKind = "task_started"
	CheckpointTaskCompleted  CheckpointKind = "task_completed"
	CheckpointTaskFailed     CheckpointKind = "task_failed"
	CheckpointTaskRetried    CheckpointKind = "task_retried"
	CheckpointStageCompleted CheckpointKind = "stage_completed"
	CheckpointJobCompleted   CheckpointKind = "job_completed"
	CheckpointJobFailed      CheckpointKind = "job_failed"
)

// Checkpoint is an append-only observability ledger row: one per kernel
// operation, correlated to the job/task it concerns. It is the durable
// counterpart to the structured log line the kernel also emits for the same
// event (see SPEC_FULL.md §4.9 on correlation ids) — the log
// line is for humans tailing output, the Checkpoint row is for the read API
// and for reconstructing a job's timeline after the fact.
//
// Grounded on the teacher's JobRunEvent (job_run_event.go), with uuid job
// ownership columns dropped (this kernel has no user/tenant concept) and
// Stage changed from string to int to match Job.Stage.
type Checkpoint struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID         string         `gorm:"column:job_id;not null;index" json:"job_id"`
	TaskID        string         `gorm:"column:task_id;index" json:"task_id,omitempty"`
	JobType       string         `gorm:"column:job_type;not null;index" json:"job_type"`
	Kind          CheckpointKind `gorm:"column:kind;not null;index" json:"kind"`
	Stage         int            `gorm:"column:stage;not null" json:"stage"`
	Message       string         `gorm:"column:message;type:text" json:"message,omitempty"`
	Data          datatypes.JSON `gorm:"type:jsonb;column:data" json:"data,omitempty"`
	CorrelationID string         `gorm:"column:correlation_id;index" json:"correlation_id,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (Checkpoint) TableName() string { return "kernel_checkpoint" }
