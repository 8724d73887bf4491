package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/queue"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/queue/memqueue"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/registry"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/store/memstore"
)

// echoDefinition is a minimal two-stage job used across these tests: stage 1
// fans out one task per entry in "items", stage 2 runs a single task that
// sees stage 1's results.
func echoDefinition(stage1Count int) jobs.JobDefinition {
	return jobs.JobDefinition{
		JobType:     "echo",
		Description: "test job",
		Stages: []jobs.StageDef{
			{Number: 1, Name: "fanout", TaskType: "echo-task", Parallelism: jobs.ParallelismDynamic},
			{Number: 2, Name: "collect", TaskType: "collect-task", Parallelism: jobs.ParallelismSingle},
		},
		ParametersSchema: map[string]jobs.FieldSchema{
			"items": {Kind: jobs.FieldArray, Required: true},
		},
		CreateTasksForStage: func(stage int, params map[string]any, jobID string, previous []json.RawMessage) ([]jobs.TaskSpec, error) {
			switch stage {
			case 1:
				items, _ := params["items"].([]any)
				specs := make([]jobs.TaskSpec, 0, len(items))
				for _, it := range items {
					specs = append(specs, jobs.TaskSpec{TaskType: "echo-task", Parameters: map[string]any{"value": it}})
				}
				return specs, nil
			case 2:
				return []jobs.TaskSpec{{TaskType: "collect-task", Parameters: map[string]any{"count": len(previous)}}}, nil
			default:
				return nil, fmt.Errorf("no stage %d", stage)
			}
		},
		FinalizeJob: func(fc jobs.FinalizeContext) (map[string]any, error) {
			return map[string]any{"done": true}, nil
		},
	}
}

func newTestDeps(t *testing.T, def jobs.JobDefinition) (Deps, *memstore.Store, *memqueue.Queue, *memqueue.Queue) {
	t.Helper()
	st := memstore.New()
	jobQ := memqueue.New()
	taskQ := memqueue.New()

	jobReg := registry.NewJobRegistry()
	require.NoError(t, jobReg.Register(def))

	taskReg := registry.NewTaskRegistry()
	require.NoError(t, taskReg.Register(registry.HandlerFunc{
		TaskType: "echo-task",
		Fn: func(ctx context.Context, params map[string]any) (registry.HandlerResult, error) {
			return registry.HandlerResult{Success: true, Details: map[string]any{"value": params["value"]}}, nil
		},
	}))
	require.NoError(t, taskReg.Register(registry.HandlerFunc{
		TaskType: "collect-task",
		Fn: func(ctx context.Context, params map[string]any) (registry.HandlerResult, error) {
			return registry.HandlerResult{Success: true, Details: map[string]any{"count": params["count"]}}, nil
		},
	}))

	deps := Deps{Store: st, JobQueue: jobQ, TaskQueue: taskQ, Jobs: jobReg, Tasks: taskReg}
	return deps, st, jobQ, taskQ
}

// drainTaskQueue pulls every currently-pending task message and runs it
// through ProcessTaskMessage, looping until the queue is empty. This
// simulates a worker pool draining the queue without needing goroutines or
// a blocking Consume call.
func drainTaskQueue(t *testing.T, ctx context.Context, deps Deps, taskQ *memqueue.Queue) {
	t.Helper()
	for {
		deliveries, err := nonBlockingConsume(ctx, taskQ)
		require.NoError(t, err)
		if len(deliveries) == 0 {
			return
		}
		for _, d := range deliveries {
			msg, err := jobs.DecodeTaskMessage(d.Payload)
			require.NoError(t, err)
			require.NoError(t, ProcessTaskMessage(ctx, deps, msg))
			require.NoError(t, taskQ.Ack(ctx, d.ID))
		}
	}
}

func drainJobQueue(t *testing.T, ctx context.Context, deps Deps, jobQ *memqueue.Queue) {
	t.Helper()
	for {
		deliveries, err := nonBlockingConsume(ctx, jobQ)
		require.NoError(t, err)
		if len(deliveries) == 0 {
			return
		}
		for _, d := range deliveries {
			msg, err := jobs.DecodeJobMessage(d.Payload)
			require.NoError(t, err)
			require.NoError(t, ProcessJobMessage(ctx, deps, msg))
			require.NoError(t, jobQ.Ack(ctx, d.ID))
		}
	}
}

// nonBlockingConsume wraps memqueue.Consume with an already-canceled
// context so the test never blocks once the queue is empty: Consume
// returns any already-pending messages immediately, and otherwise
// observes the canceled context instead of waiting for a Publish.
func nonBlockingConsume(ctx context.Context, q *memqueue.Queue) ([]queue.Delivery, error) {
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	out, err := q.Consume(cctx, "test-worker", 64)
	if errors.Is(err, context.Canceled) {
		return nil, nil
	}
	return out, err
}

func TestSubmitJobIsIdempotent(t *testing.T) {
	deps, st, jobQ, _ := newTestDeps(t, echoDefinition(3))
	ctx := context.Background()

	job1, err := SubmitJob(ctx, deps, "echo", map[string]any{"items": []any{"a", "b"}})
	require.NoError(t, err)

	job2, err := SubmitJob(ctx, deps, "echo", map[string]any{"items": []any{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, job1.ID, job2.ID)

	stored, err := st.GetJob(ctx, job1.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobQueued, stored.Status, "job stays queued until ProcessJobMessage claims it")

	// Only one job message should have been published despite two submits.
	delivered, err := jobQ.Consume(ctx, "w", 64)
	require.NoError(t, err)
	assert.Len(t, delivered, 1)
}

func TestFullJobLifecycleFanOutFanIn(t *testing.T) {
	deps, st, jobQ, taskQ := newTestDeps(t, echoDefinition(3))
	ctx := context.Background()

	job, err := SubmitJob(ctx, deps, "echo", map[string]any{"items": []any{"a", "b", "c"}})
	require.NoError(t, err)

	drainJobQueue(t, ctx, deps, jobQ)
	drainTaskQueue(t, ctx, deps, taskQ)
	drainJobQueue(t, ctx, deps, jobQ) // stage 2 dispatch
	drainTaskQueue(t, ctx, deps, taskQ)
	drainJobQueue(t, ctx, deps, jobQ) // finalize happens inside AdvanceOrComplete

	final, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobCompleted, final.Status)
	assert.Equal(t, 3, final.Stage) // AdvanceJobStage increments past the last stage on final completion
	assert.Contains(t, string(final.ResultData), "done")
}

func TestConcurrentTaskCompletionFanInExactlyOnce(t *testing.T) {
	// Property test: K tasks in a stage completing concurrently must result
	// in exactly one StageDone=true outcome, never zero, never more than one.
	deps, st, _, _ := newTestDeps(t, echoDefinition(3))
	ctx := context.Background()

	const jobID = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	job := &jobs.Job{ID: jobID, JobType: "echo", Status: jobs.JobProcessing, Stage: 1, TotalStages: 2, Parameters: []byte(`{}`)}
	_, err := st.CreateJob(ctx, job)
	require.NoError(t, err)

	const n = 50
	tasks := make([]*jobs.Task, 0, n)
	for i := 0; i < n; i++ {
		tasks = append(tasks, &jobs.Task{
			ID: jobs.TaskID(jobID, 1, i), ParentJobID: jobID, JobType: "echo",
			TaskType: "echo-task", Stage: 1, TaskIndex: i, Status: jobs.TaskQueued,
		})
	}
	require.NoError(t, st.CreateTasks(ctx, tasks))
	for _, task := range tasks {
		_, err := st.ClaimTask(ctx, task.ID)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var doneCount int32
	var mu sync.Mutex
	for _, task := range tasks {
		wg.Add(1)
		go func(taskID string) {
			defer wg.Done()
			outcome, err := st.CompleteTaskAndCheckStage(ctx, taskID, jobs.TaskCompleted, "", "", map[string]any{"ok": true})
			assert.NoError(t, err)
			if outcome.StageDone {
				mu.Lock()
				doneCount++
				mu.Unlock()
			}
		}(task.ID)
	}
	wg.Wait()

	assert.Equal(t, int32(1), doneCount, "exactly one concurrent completion must observe StageDone")
}

func TestProcessJobMessageIllegalEmptyStageFailsJob(t *testing.T) {
	// A ParallelismSingle stage whose CreateTasksForStage returns zero specs
	// is a job-definition bug (spec.md §4.6.1 step 5), not a legal empty
	// stage — only ParallelismDynamic may produce zero tasks.
	def := jobs.JobDefinition{
		JobType: "broken-single-stage",
		Stages: []jobs.StageDef{
			{Number: 1, Name: "only", TaskType: "never-runs", Parallelism: jobs.ParallelismSingle},
		},
		ParametersSchema: map[string]jobs.FieldSchema{},
		CreateTasksForStage: func(stage int, params map[string]any, jobID string, previous []json.RawMessage) ([]jobs.TaskSpec, error) {
			return nil, nil
		},
	}
	deps, st, jobQ, _ := newTestDeps(t, def)
	ctx := context.Background()

	job, err := SubmitJob(ctx, deps, "broken-single-stage", map[string]any{})
	require.NoError(t, err)

	drainJobQueue(t, ctx, deps, jobQ)

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobFailed, stored.Status)
	assert.Equal(t, string(jobs.ErrKindDefinition), stored.ErrorKind)
}

func TestProcessTaskMessageMissingHandlerFailsTask(t *testing.T) {
	deps, st, _, _ := newTestDeps(t, echoDefinition(1))
	ctx := context.Background()

	const jobID = "cafebabecafebabecafebabecafebabecafebabecafebabecafebabecafebab"
	_, err := st.CreateJob(ctx, &jobs.Job{ID: jobID, JobType: "echo", Status: jobs.JobProcessing, Stage: 1, TotalStages: 2, Parameters: []byte(`{}`)})
	require.NoError(t, err)

	task := &jobs.Task{ID: jobs.TaskID(jobID, 1, 0), ParentJobID: jobID, JobType: "echo", TaskType: "no-such-handler", Stage: 1, TaskIndex: 0, Status: jobs.TaskQueued}
	require.NoError(t, st.CreateTasks(ctx, []*jobs.Task{task}))

	msg := &jobs.TaskMessage{TaskID: task.ID, ParentJobID: jobID, JobType: "echo", TaskType: "no-such-handler", Stage: 1, TaskIndex: 0}
	require.NoError(t, ProcessTaskMessage(ctx, deps, msg))

	stored, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskFailed, stored.Status)
	assert.Equal(t, string(jobs.ErrKindMissingHandler), stored.ErrorKind)
}
