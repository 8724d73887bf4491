package jobs

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

/*
Job is the durable record of one client-submitted, multi-stage request.

A Job's identity is deterministic: JobType + the canonical JSON of its
validated parameters hash to the same ID on every submission, which is what
makes resubmission idempotent (see Store.CreateJob).

Stage is 1-indexed and only ever advances by exactly one at a time, under
the CAS discipline implemented by Store.AdvanceJobStage. StageResults
accumulates monotonically: the payload written for stage N is never
rewritten once the job has advanced past N.
*/
type Job struct {
	ID           string         `gorm:"column:id;primaryKey;type:char(64)" json:"id"`
	JobType      string         `gorm:"column:job_type;not null;index" json:"job_type"`
	Status       JobStatus      `gorm:"column:status;not null;index" json:"status"`
	Stage        int            `gorm:"column:stage;not null;default:1" json:"stage"`
	TotalStages  int            `gorm:"column:total_stages;not null" json:"total_stages"`
	Parameters   datatypes.JSON `gorm:"column:parameters;type:jsonb;not null" json:"parameters"`
	StageResults datatypes.JSON `gorm:"column:stage_results;type:jsonb" json:"stage_results,omitempty"`
	ResultData   datatypes.JSON `gorm:"column:result_data;type:jsonb" json:"result_data,omitempty"`
	Error        string         `gorm:"column:error" json:"error,omitempty"`
	ErrorKind    string         `gorm:"column:error_kind" json:"error_kind,omitempty"`
	CreatedAt    time.Time      `gorm:"column:created_at;not null;default:now();index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;not null;default:now()" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Job) TableName() string { return "kernel_job" }

// JobStatus is the lifecycle state of a Job. Transitions are constrained by
// Store: queued -> processing -> {completed, failed}. completed and failed
// are terminal; completed_with_errors is a best-effort-policy terminal
// variant (see JobDefinition.Stages[i].BestEffort).
type JobStatus string

const (
	JobQueued             JobStatus = "queued"
	JobProcessing         JobStatus = "processing"
	JobCompleted          JobStatus = "completed"
	JobCompletedWithError JobStatus = "completed_with_errors"
	JobFailed             JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobCompletedWithError, JobFailed:
		return true
	default:
		return false
	}
}
