// Package store defines the kernel's State Store port: the durable
// boundary between the orchestration kernel and whatever database backs
// Job/Task rows. The Postgres/GORM implementation lives in
// internal/data/repos/jobs (adapted from the teacher's JobRunRepo); an
// in-memory fake lives in store/memstore for deterministic property and
// concurrency tests.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
)

// ErrNotFound is returned by Get-style lookups that find no row.
var ErrNotFound = jobs.NewError(jobs.ErrKindStore, "not found", nil)

// CompletionOutcome is returned by CompleteTaskAndCheckStage: the single
// atomic "mark this task done; am I the last one in my stage?" primitive
// spec.md §5 requires to avoid O(n) polling for fan-in completion.
type CompletionOutcome struct {
	// StageDone is true exactly once per (job_id, stage), for whichever
	// completing task observes the stage's last pending task transition.
	StageDone bool
	// Remaining is the count of still-non-terminal tasks in the stage,
	// useful for logging/metrics even when StageDone is false.
	Remaining int
	// AnyFailed is true if any task in the stage (including this one)
	// ended in TaskFailed. Only meaningful when StageDone is true.
	AnyFailed bool
}

// Store is the kernel's persistence port. Every method is safe for
// concurrent use by many kernel/worker goroutines across many processes;
// CAS-style methods return whether they actually applied so callers can
// detect and ignore stale/duplicate writes.
type Store interface {
	// CreateJob inserts a new job row if id doesn't already exist, returning
	// the existing row unchanged (and created=false) if it does — this is
	// what makes job submission idempotent on the deterministic job id.
	CreateJob(ctx context.Context, job *jobs.Job) (created bool, err error)
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)

	// ClaimJob transitions a job from queued to processing, CAS'd on its
	// current status being queued. Returns applied=false if the job was
	// already processing (or terminal) — a redelivered first-stage job
	// message is a safe no-op, since the caller only reaches this after
	// already checking the job isn't terminal.
	ClaimJob(ctx context.Context, jobID string) (applied bool, err error)

	// AdvanceJobStage moves a job from fromStage to fromStage+1, persisting
	// the full accumulated stage_results map (keyed by stage number, one
	// entry per completed stage so far), but only if the job's current
	// stage is still fromStage and its status is JobProcessing. Returns
	// applied=false on any mismatch (a duplicate/stale job message being
	// reprocessed).
	AdvanceJobStage(ctx context.Context, jobID string, fromStage int, stageResults map[string][]json.RawMessage) (applied bool, err error)

	CompleteJob(ctx context.Context, jobID string, status jobs.JobStatus, resultData map[string]any) (applied bool, err error)
	FailJob(ctx context.Context, jobID string, kind jobs.ErrKind, message string) (applied bool, err error)

	// CreateTasks idempotently inserts a batch of tasks for one stage: tasks
	// whose deterministic ID already exists are left untouched, so
	// re-dispatching the same job message twice is a no-op.
	CreateTasks(ctx context.Context, tasks []*jobs.Task) error
	GetTask(ctx context.Context, taskID string) (*jobs.Task, error)
	GetTasksForStage(ctx context.Context, jobID string, stage int) ([]*jobs.Task, error)

	// ClaimTask transitions a queued task to processing, CAS'd on its
	// current status, stamping dispatched/started/heartbeat times. Returns
	// applied=false if the task was already claimed (a duplicate delivery).
	ClaimTask(ctx context.Context, taskID string) (applied bool, err error)
	Heartbeat(ctx context.Context, taskID string) error

	// CompleteTaskAndCheckStage is the fan-in primitive: it transitions
	// taskID to a terminal status and, in the same atomic operation (a
	// Postgres advisory transaction lock scoped to (job_id, stage) under the
	// Postgres-backed implementation), determines whether this was the last
	// task in its stage to reach a terminal status.
	CompleteTaskAndCheckStage(ctx context.Context, taskID string, status jobs.TaskStatus, kind jobs.ErrKind, errMsg string, resultData map[string]any) (CompletionOutcome, error)

	// RetryTask increments retry_count and resets the task to queued, CAS'd
	// on it currently being processing or failed.
	RetryTask(ctx context.Context, taskID string) (applied bool, err error)

	// StaleTaskScan finds tasks stuck in processing with a heartbeat older
	// than olderThan, for the janitor to reclaim.
	StaleTaskScan(ctx context.Context, olderThan time.Duration, limit int) ([]*jobs.Task, error)

	AppendCheckpoint(ctx context.Context, cp *jobs.Checkpoint) error
	ListCheckpoints(ctx context.Context, jobID string, limit int) ([]*jobs.Checkpoint, error)
}
