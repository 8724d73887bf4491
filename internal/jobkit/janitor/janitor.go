// Package janitor runs the periodic sweep that reclaims tasks whose worker
// stopped heartbeating — the durable counterpart to the teacher's
// startHeartbeat/staleRunning reasoning (internal/jobs/worker/worker.go),
// moved from "stale running jobs become reclaimable by the next claim
// query" to an explicit sweep because task completion detection here is
// push-driven (CompleteTaskAndCheckStage), not claim-query-driven.
package janitor

import (
	"context"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/kernel"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// Janitor periodically finds tasks stuck in TaskProcessing whose
// last_heartbeat is older than StaleAfter and fails them with
// ErrKindStaleTimeout, which in turn runs them through the same
// completion-detection path a normal task failure takes (so a stalled
// worker never blocks its stage's fan-in forever).
type Janitor struct {
	deps       kernel.Deps
	log        *logger.Logger
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
}

func New(deps kernel.Deps, baseLog *logger.Logger, interval, staleAfter time.Duration) *Janitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &Janitor{
		deps:       deps,
		log:        baseLog.With("component", "jobkit.Janitor"),
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  100,
	}
}

// Run blocks, sweeping on Janitor's interval, until ctx is canceled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	stale, err := j.deps.Store.StaleTaskScan(ctx, j.staleAfter, j.batchSize)
	if err != nil {
		j.log.Warn("stale task scan failed", "error", err)
		return
	}
	for _, t := range stale {
		j.reclaim(ctx, t)
	}
}

func (j *Janitor) reclaim(ctx context.Context, t *jobs.Task) {
	outcome, err := j.deps.Store.CompleteTaskAndCheckStage(ctx, t.ID, jobs.TaskFailed, jobs.ErrKindStaleTimeout,
		"task exceeded heartbeat timeout and was reclaimed by the janitor", nil)
	if err != nil {
		j.log.Error("janitor failed to fail stale task", "task_id", t.ID, "error", err)
		return
	}
	j.log.Warn("reclaimed stale task", "task_id", t.ID, "job_id", t.ParentJobID, "stage", t.Stage)
	if !outcome.StageDone {
		return
	}
	bestEffort := false
	if def, ok := j.deps.Jobs.Get(t.JobType); ok {
		if sd, ok := def.Stage(t.Stage); ok {
			bestEffort = sd.BestEffort
		}
	}
	if err := kernel.AdvanceOrComplete(ctx, j.deps, t.ParentJobID, t.Stage, outcome.AnyFailed, bestEffort); err != nil {
		j.log.Error("janitor failed to advance stage after reclaim", "job_id", t.ParentJobID, "stage", t.Stage, "error", err)
	}
}
