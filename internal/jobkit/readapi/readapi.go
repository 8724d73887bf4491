// Package readapi is the kernel's read surface, used by the HTTP handlers
// (internal/http/handlers/job.go) to answer job-status and task-listing
// requests without exposing the Store port directly to the transport
// layer. Grounded on the teacher's services.JobService read methods
// (GetByIDForRequestUser et al., internal/http/handlers/job.go), trimmed to
// the operations this kernel actually needs — there is no per-user
// ownership concept here, so the auth-scoped lookups are dropped.
package readapi

import (
	"context"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/store"
)

type ReadAPI struct {
	store store.Store
}

func New(s store.Store) *ReadAPI {
	return &ReadAPI{store: s}
}

func (r *ReadAPI) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	return r.store.GetJob(ctx, jobID)
}

func (r *ReadAPI) ListTasks(ctx context.Context, jobID string, stage int) ([]*jobs.Task, error) {
	return r.store.GetTasksForStage(ctx, jobID, stage)
}

// StageProgress summarizes a job's current stage for status-polling UIs.
type StageProgress struct {
	Stage     int `json:"stage"`
	Total     int `json:"total_tasks"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

func (r *ReadAPI) GetStageProgress(ctx context.Context, jobID string) (*StageProgress, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	tasks, err := r.store.GetTasksForStage(ctx, jobID, job.Stage)
	if err != nil {
		return nil, err
	}
	p := &StageProgress{Stage: job.Stage, Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case jobs.TaskCompleted:
			p.Completed++
		case jobs.TaskFailed:
			p.Failed++
		default:
			p.Pending++
		}
	}
	return p, nil
}

func (r *ReadAPI) ListCheckpoints(ctx context.Context, jobID string, limit int) ([]*jobs.Checkpoint, error) {
	if limit <= 0 {
		limit = 200
	}
	return r.store.ListCheckpoints(ctx, jobID, limit)
}
