package jobs

import (
	"strconv"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

/*
Task is one unit of work within a stage. Its ID is semantic and deterministic
(`{job_id[:8]}-s{stage}-{index}`), which lets Store.CreateTasks be idempotent
on retries of the same job message: re-creating the same batch is a no-op.

Status moves queued -> processing -> {completed, failed}: Store.ClaimTask
only moves a queued task to processing (compare-and-swap on status), and
Store.CompleteTaskAndCheckStage leaves an already-terminal task unchanged.
The one other transition is Store.RetryTask, which moves a processing or
failed task back to queued so a retry can claim it again.
*/
type Task struct {
	ID             string         `gorm:"column:id;primaryKey;type:varchar(96)" json:"id"`
	ParentJobID    string         `gorm:"column:parent_job_id;not null;index:idx_task_job_stage_status" json:"parent_job_id"`
	JobType        string         `gorm:"column:job_type;not null;index" json:"job_type"`
	TaskType       string         `gorm:"column:task_type;not null;index" json:"task_type"`
	Stage          int            `gorm:"column:stage;not null;index:idx_task_job_stage_status" json:"stage"`
	TaskIndex      int            `gorm:"column:task_index;not null" json:"task_index"`
	Parameters     datatypes.JSON `gorm:"column:parameters;type:jsonb" json:"parameters,omitempty"`
	Status         TaskStatus     `gorm:"column:status;not null;index:idx_task_job_stage_status" json:"status"`
	ResultData     datatypes.JSON `gorm:"column:result_data;type:jsonb" json:"result_data,omitempty"`
	ErrorDetails   string         `gorm:"column:error_details" json:"error_details,omitempty"`
	ErrorKind      string         `gorm:"column:error_kind" json:"error_kind,omitempty"`
	RetryCount     int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	DispatchedAt   *time.Time     `gorm:"column:dispatched_at" json:"dispatched_at,omitempty"`
	StartedAt      *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	LastHeartbeat  *time.Time     `gorm:"column:last_heartbeat;index" json:"last_heartbeat,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;not null;default:now()" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Task) TableName() string { return "kernel_task" }

type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskID assigns the deterministic, semantic task identifier: the first
// eight hex characters of the job id, the stage number, and the task's
// index within the stage. Collisions across jobs are astronomically
// unlikely since the job id is itself a content hash; collisions across
// stages/indices of the same job are impossible by construction.
func TaskID(jobID string, stage, index int) string {
	prefix := jobID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return prefix + "-s" + strconv.Itoa(stage) + "-" + strconv.Itoa(index)
}
