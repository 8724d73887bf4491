// Package kernel is the orchestration kernel: the two free functions,
// ProcessJobMessage and ProcessTaskMessage, that drive a job through its
// stage chain. Grounded on the teacher's internal/jobs/orchestrator.Engine
// (engine.go), but inverted from the teacher's poll-driven single-process
// DAG walk into a message-driven design where each stage transition and
// each task completion is its own discrete, idempotent unit of work — the
// shape spec.md §4-§5 requires for a kernel whose workers are stateless and
// fungible across processes.
package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/queue"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/registry"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/retry"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/store"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// Deps bundles everything ProcessJobMessage/ProcessTaskMessage need. A
// single Deps value is shared by every worker goroutine in a process; all
// of its fields must be safe for concurrent use.
type Deps struct {
	Store     store.Store
	JobQueue  queue.Queue
	TaskQueue queue.Queue
	Jobs      *registry.JobRegistry
	Tasks     *registry.TaskRegistry
	Log       *logger.Logger
	Retry     retry.Policy
}

func (d Deps) logger() *logger.Logger {
	if d.Log != nil {
		return d.Log
	}
	l, _ := logger.New("dev")
	return l
}

// ProcessJobMessage drives one stage of one job: it asks the job's
// JobDefinition for the stage's task specs, persists them (idempotently —
// re-processing the same job message twice creates no duplicate tasks,
// since task ids are deterministic and Store.CreateTasks is an upsert
// no-op), and dispatches one TaskMessage per task. A job-definition failure
// (unknown job type, undefined stage, CreateTasksForStage error, illegal
// empty stage) fails the job and returns nil, so the message is acked.
func ProcessJobMessage(ctx context.Context, d Deps, msg *jobs.JobMessage) error {
	log := d.logger()

	job, err := d.Store.GetJob(ctx, msg.JobID)
	if err != nil {
		return jobs.NewError(jobs.ErrKindStore, "failed to load job", err)
	}
	if job.Status.Terminal() {
		// A redelivered job message for a job that already reached a
		// terminal status (e.g. CreateTasksForStage failed on a prior
		// delivery before any tasks were created): ack and return, never
		// re-run a terminal job's stage (invariant: terminal jobs are
		// immutable).
		log.Info("job message no-op, job already terminal", "job_id", msg.JobID, "status", job.Status)
		return nil
	}
	if job.Status == jobs.JobQueued {
		if _, err := d.Store.ClaimJob(ctx, msg.JobID); err != nil {
			return jobs.NewError(jobs.ErrKindStore, "failed to claim job for processing", err)
		}
	}

	def, ok := d.Jobs.Get(msg.JobType)
	if !ok {
		_, _ = d.Store.FailJob(ctx, msg.JobID, jobs.ErrKindMissingJobType, fmt.Sprintf("no job definition registered for job_type=%s", msg.JobType))
		checkpoint(ctx, d.Store, log, jobs.CheckpointJobFailed, msg.JobID, "", msg.JobType, msg.Stage, msg.CorrelationID, "missing job definition")
		return nil
	}

	stageDef, ok := def.Stage(msg.Stage)
	if !ok {
		_, _ = d.Store.FailJob(ctx, msg.JobID, jobs.ErrKindDefinition, fmt.Sprintf("job_type=%s has no stage %d", msg.JobType, msg.Stage))
		return nil
	}

	var previous []json.RawMessage
	if msg.Stage > 1 {
		previous = msg.StageResults[strconv.Itoa(msg.Stage-1)]
	}

	specs, err := def.CreateTasksForStage(msg.Stage, msg.Parameters, msg.JobID, previous)
	if err != nil {
		kerr := jobs.NewError(jobs.ErrKindDefinition, fmt.Sprintf("CreateTasksForStage failed for job_type=%s stage=%d", msg.JobType, msg.Stage), err)
		_, _ = d.Store.FailJob(ctx, msg.JobID, kerr.Kind, kerr.Error())
		checkpoint(ctx, d.Store, log, jobs.CheckpointJobFailed, msg.JobID, "", msg.JobType, msg.Stage, msg.CorrelationID, kerr.Error())
		return nil
	}

	if len(specs) == 0 {
		if stageDef.Parallelism != jobs.ParallelismDynamic {
			// Empty-stage policy (spec.md §4.6.1 step 5): zero specs is only
			// legal for a dynamic stage that genuinely produced no work. A
			// single/match_previous stage returning none is a job-definition
			// bug, not completion.
			kerr := jobs.NewError(jobs.ErrKindDefinition, fmt.Sprintf("job_type=%s stage=%d returned zero tasks but parallelism=%s requires at least one", msg.JobType, msg.Stage, stageDef.Parallelism), nil)
			_, _ = d.Store.FailJob(ctx, msg.JobID, kerr.Kind, kerr.Error())
			checkpoint(ctx, d.Store, log, jobs.CheckpointJobFailed, msg.JobID, "", msg.JobType, msg.Stage, msg.CorrelationID, kerr.Error())
			return nil
		}
		// Empty-stage policy: a dynamic stage that genuinely produced no
		// work is treated as already complete, advancing directly.
		return AdvanceOrComplete(ctx, d, msg.JobID, msg.Stage, false, stageDef.BestEffort)
	}

	tasks := make([]*jobs.Task, 0, len(specs))
	for i, spec := range specs {
		paramsRaw, err := json.Marshal(spec.Parameters)
		if err != nil {
			return jobs.NewError(jobs.ErrKindDefinition, "failed to marshal task parameters", err)
		}
		tasks = append(tasks, &jobs.Task{
			ID:          jobs.TaskID(msg.JobID, msg.Stage, i),
			ParentJobID: msg.JobID,
			JobType:     msg.JobType,
			TaskType:    spec.TaskType,
			Stage:       msg.Stage,
			TaskIndex:   i,
			Parameters:  paramsRaw,
			Status:      jobs.TaskQueued,
		})
	}
	if err := d.Store.CreateTasks(ctx, tasks); err != nil {
		return jobs.NewError(jobs.ErrKindStore, "failed to create tasks", err)
	}

	checkpoint(ctx, d.Store, log, jobs.CheckpointStageStarted, msg.JobID, "", msg.JobType, msg.Stage, msg.CorrelationID, fmt.Sprintf("%d tasks", len(tasks)))

	for _, t := range tasks {
		tm := jobs.TaskMessage{
			TaskID:        t.ID,
			ParentJobID:   t.ParentJobID,
			JobType:       t.JobType,
			TaskType:      t.TaskType,
			Stage:         t.Stage,
			TaskIndex:     t.TaskIndex,
			Parameters:    specs[t.TaskIndex].Parameters,
			CorrelationID: msg.CorrelationID,
		}
		raw, err := json.Marshal(tm)
		if err != nil {
			return jobs.NewError(jobs.ErrKindQueue, "failed to marshal task message", err)
		}
		if _, err := d.TaskQueue.Publish(ctx, raw); err != nil {
			return jobs.NewError(jobs.ErrKindQueue, "failed to publish task message", err)
		}
		checkpoint(ctx, d.Store, log, jobs.CheckpointTaskDispatched, msg.JobID, t.ID, msg.JobType, msg.Stage, msg.CorrelationID, "")
	}
	return nil
}

// ProcessTaskMessage executes one task through its registered handler and,
// on terminal completion, checks whether it was the last task in its stage
// — the fan-in completion-detection primitive spec.md §5 requires.
func ProcessTaskMessage(ctx context.Context, d Deps, msg *jobs.TaskMessage) error {
	log := d.logger()

	applied, err := d.Store.ClaimTask(ctx, msg.TaskID)
	if err != nil {
		return jobs.NewError(jobs.ErrKindStore, "failed to claim task", err)
	}
	if !applied {
		// Either already claimed by another delivery of the same
		// at-least-once message, or already terminal. Either way this is a
		// safe no-op: retrying a claim is never itself a failure.
		log.Info("task claim no-op, already processing or terminal", "task_id", msg.TaskID)
		return nil
	}
	checkpoint(ctx, d.Store, log, jobs.CheckpointTaskStarted, msg.ParentJobID, msg.TaskID, msg.JobType, msg.Stage, msg.CorrelationID, "")

	handler, ok := d.Tasks.Get(msg.TaskType)
	if !ok {
		return finishTask(ctx, d, msg, jobs.TaskFailed, jobs.ErrKindMissingHandler, fmt.Sprintf("no handler registered for task_type=%s", msg.TaskType), nil)
	}

	result := invoke(ctx, handler, msg.Parameters, 0)
	if result.Success {
		return finishTask(ctx, d, msg, jobs.TaskCompleted, "", "", result.Details)
	}

	kind := jobs.ErrKindHandler
	errMsg := "task handler failed"
	if kerr, ok := result.Error.(*jobs.Error); ok {
		kind = kerr.Kind
		errMsg = kerr.Error()
	} else if result.Error != nil {
		errMsg = result.Error.Error()
	}

	task, getErr := d.Store.GetTask(ctx, msg.TaskID)
	retryCount := msg.RetryCount
	if getErr == nil {
		retryCount = task.RetryCount
	}

	if retry.ShouldRetry(d.effectiveRetryPolicy(), retryCount, result.Error) {
		if applied, err := d.Store.RetryTask(ctx, msg.TaskID); err == nil && applied {
			checkpoint(ctx, d.Store, log, jobs.CheckpointTaskRetried, msg.ParentJobID, msg.TaskID, msg.JobType, msg.Stage, msg.CorrelationID, errMsg)
			delay := retry.ComputeBackoff(d.effectiveRetryPolicy(), retryCount)
			redeliver(d, msg, retryCount+1, delay)
			return nil
		}
	}

	return finishTask(ctx, d, msg, jobs.TaskFailed, kind, errMsg, nil)
}

func (d Deps) effectiveRetryPolicy() retry.Policy {
	if d.Retry == (retry.Policy{}) {
		return retry.DefaultPolicy
	}
	return d.Retry
}

// redeliver re-publishes msg to the task queue after delay, incrementing
// RetryCount. The Queue port has no native delayed-delivery primitive (the
// teacher's Redis usage doesn't need one either), so the kernel schedules
// the republish with a timer instead of blocking the calling goroutine.
func redeliver(d Deps, msg *jobs.TaskMessage, retryCount int, delay time.Duration) {
	next := *msg
	next.RetryCount = retryCount
	raw, err := json.Marshal(next)
	if err != nil {
		d.logger().Error("failed to marshal retry task message", "task_id", msg.TaskID, "error", err)
		return
	}
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := d.TaskQueue.Publish(ctx, raw); err != nil {
			d.logger().Error("failed to redeliver retried task", "task_id", msg.TaskID, "error", err)
		}
	})
}

func finishTask(ctx context.Context, d Deps, msg *jobs.TaskMessage, status jobs.TaskStatus, kind jobs.ErrKind, errMsg string, details map[string]any) error {
	log := d.logger()
	outcome, err := d.Store.CompleteTaskAndCheckStage(ctx, msg.TaskID, status, kind, errMsg, details)
	if err != nil {
		return jobs.NewError(jobs.ErrKindStore, "failed to complete task", err)
	}
	kind2 := jobs.CheckpointTaskCompleted
	if status == jobs.TaskFailed {
		kind2 = jobs.CheckpointTaskFailed
	}
	checkpoint(ctx, d.Store, log, kind2, msg.ParentJobID, msg.TaskID, msg.JobType, msg.Stage, msg.CorrelationID, errMsg)

	if !outcome.StageDone {
		return nil
	}

	def, ok := d.Jobs.Get(msg.JobType)
	bestEffort := false
	if ok {
		if sd, ok := def.Stage(msg.Stage); ok {
			bestEffort = sd.BestEffort
		}
	}
	return AdvanceOrComplete(ctx, d, msg.ParentJobID, msg.Stage, outcome.AnyFailed, bestEffort)
}

// AdvanceOrComplete is called once a stage's tasks are all terminal (or a
// dynamic stage produced none): it fails the job outright unless the stage
// is best-effort, otherwise advances to the next stage or finalizes the job
// if this was the last stage.
func AdvanceOrComplete(ctx context.Context, d Deps, jobID string, stage int, anyFailed, bestEffort bool) error {
	log := d.logger()

	if anyFailed && !bestEffort {
		_, _ = d.Store.FailJob(ctx, jobID, jobs.ErrKindHandler, fmt.Sprintf("stage %d had one or more failed tasks", stage))
		checkpoint(ctx, d.Store, log, jobs.CheckpointJobFailed, jobID, "", "", stage, "", "stage failed")
		return nil
	}

	job, err := d.Store.GetJob(ctx, jobID)
	if err != nil {
		return jobs.NewError(jobs.ErrKindStore, "failed to load job for stage advance", err)
	}
	def, ok := d.Jobs.Get(job.JobType)
	if !ok {
		_, _ = d.Store.FailJob(ctx, jobID, jobs.ErrKindMissingJobType, fmt.Sprintf("no job definition registered for job_type=%s", job.JobType))
		return jobs.NewError(jobs.ErrKindMissingJobType, job.JobType, nil)
	}

	tasks, err := d.Store.GetTasksForStage(ctx, jobID, stage)
	if err != nil {
		return jobs.NewError(jobs.ErrKindStore, "failed to load stage tasks", err)
	}
	stageResultsMap, err := decodeStageResults(job.StageResults)
	if err != nil {
		return jobs.NewError(jobs.ErrKindStore, "failed to decode accumulated stage results", err)
	}
	ordered := make([]json.RawMessage, len(tasks))
	for _, t := range tasks {
		if t.TaskIndex >= 0 && t.TaskIndex < len(ordered) {
			ordered[t.TaskIndex] = json.RawMessage(t.ResultData)
		}
	}
	stageResultsMap[strconv.Itoa(stage)] = ordered

	applied, err := d.Store.AdvanceJobStage(ctx, jobID, stage, stageResultsMap)
	if err != nil {
		return jobs.NewError(jobs.ErrKindStore, "failed to advance job stage", err)
	}
	if !applied {
		// A duplicate/stale completion racing a prior advance; the earlier
		// call already did this work.
		return nil
	}
	checkpoint(ctx, d.Store, log, jobs.CheckpointStageCompleted, jobID, "", job.JobType, stage, "", "")

	if stage >= def.TotalStages() {
		return finalizeJob(ctx, d, jobID, def, stageResultsMap, anyFailed && bestEffort)
	}

	nextMsg := jobs.JobMessage{
		JobID:        jobID,
		JobType:      job.JobType,
		Stage:        stage + 1,
		Parameters:   mustDecodeParams(job.Parameters),
		StageResults: stageResultsMap,
	}
	raw, err := json.Marshal(nextMsg)
	if err != nil {
		return jobs.NewError(jobs.ErrKindQueue, "failed to marshal next stage job message", err)
	}
	if _, err := d.JobQueue.Publish(ctx, raw); err != nil {
		return jobs.NewError(jobs.ErrKindQueue, "failed to publish next stage job message", err)
	}
	return nil
}

func finalizeJob(ctx context.Context, d Deps, jobID string, def jobs.JobDefinition, stageResults map[string][]json.RawMessage, completedWithErrors bool) error {
	log := d.logger()
	job, err := d.Store.GetJob(ctx, jobID)
	if err != nil {
		return jobs.NewError(jobs.ErrKindStore, "failed to load job for finalize", err)
	}
	var resultData map[string]any
	if def.FinalizeJob != nil {
		resultData, err = def.FinalizeJob(jobs.FinalizeContext{JobID: jobID, Parameters: mustDecodeParams(job.Parameters), StageResults: stageResults})
		if err != nil {
			kerr := jobs.NewError(jobs.ErrKindDefinition, "FinalizeJob failed", err)
			_, _ = d.Store.FailJob(ctx, jobID, kerr.Kind, kerr.Error())
			checkpoint(ctx, d.Store, log, jobs.CheckpointJobFailed, jobID, "", job.JobType, job.Stage, "", kerr.Error())
			return kerr
		}
	} else {
		resultData = map[string]any{"stage_results": stageResults}
	}

	status := jobs.JobCompleted
	if completedWithErrors {
		status = jobs.JobCompletedWithError
	}
	if _, err := d.Store.CompleteJob(ctx, jobID, status, resultData); err != nil {
		return jobs.NewError(jobs.ErrKindStore, "failed to complete job", err)
	}
	checkpoint(ctx, d.Store, log, jobs.CheckpointJobCompleted, jobID, "", job.JobType, job.Stage, "", string(status))
	return nil
}

func decodeStageResults(raw []byte) (map[string][]json.RawMessage, error) {
	out := make(map[string][]json.RawMessage)
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func mustDecodeParams(raw []byte) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}
