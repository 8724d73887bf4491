package kernel

import (
	"context"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/store"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// checkpoint appends a durable Checkpoint row and emits the matching
// structured log line in one call, so every kernel operation produces both
// the human-tailable log and the queryable timeline row from a single call
// site (see SPEC_FULL.md §4.9 on checkpoints and correlation ids).
func checkpoint(ctx context.Context, st store.Store, log *logger.Logger, kind jobs.CheckpointKind, jobID, taskID, jobType string, stage int, correlationID, message string) {
	cp := &jobs.Checkpoint{
		JobID:         jobID,
		TaskID:        taskID,
		JobType:       jobType,
		Kind:          kind,
		Stage:         stage,
		Message:       message,
		CorrelationID: correlationID,
	}
	if err := st.AppendCheckpoint(ctx, cp); err != nil {
		log.Warn("failed to append checkpoint", "kind", kind, "job_id", jobID, "error", err)
	}
	fields := []any{"kind", kind, "job_id", jobID, "job_type", jobType, "stage", stage}
	if taskID != "" {
		fields = append(fields, "task_id", taskID)
	}
	if correlationID != "" {
		fields = append(fields, "correlation_id", correlationID)
	}
	if message != "" {
		fields = append(fields, "message", message)
	}
	log.Info("kernel checkpoint", fields...)
}
