package greeting

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/kernel"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/queue"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/queue/memqueue"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/registry"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/store/memstore"
)

func newKernelDeps(t *testing.T) (kernel.Deps, *memstore.Store, *memqueue.Queue, *memqueue.Queue) {
	t.Helper()
	st := memstore.New()
	jobQ := memqueue.New()
	taskQ := memqueue.New()

	jobReg := registry.NewJobRegistry()
	taskReg := registry.NewTaskRegistry()
	require.NoError(t, Register(jobReg, taskReg))

	return kernel.Deps{Store: st, JobQueue: jobQ, TaskQueue: taskQ, Jobs: jobReg, Tasks: taskReg}, st, jobQ, taskQ
}

func drain(t *testing.T, ctx context.Context, q *memqueue.Queue, process func([]byte) error) {
	t.Helper()
	for {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		deliveries, err := q.Consume(cctx, "test", 64)
		if errors.Is(err, context.Canceled) {
			return
		}
		require.NoError(t, err)
		if len(deliveries) == 0 {
			return
		}
		for _, d := range deliveries {
			require.NoError(t, process(d.Payload))
			require.NoError(t, q.Ack(ctx, d.ID))
		}
	}
}

func runToCompletion(t *testing.T, deps kernel.Deps, jobQ, taskQ queue.Queue) {
	t.Helper()
	ctx := context.Background()
	mq := jobQ.(*memqueue.Queue)
	mt := taskQ.(*memqueue.Queue)

	for round := 0; round < 10; round++ {
		drain(t, ctx, mq, func(raw []byte) error {
			msg, err := jobs.DecodeJobMessage(raw)
			if err != nil {
				return err
			}
			return kernel.ProcessJobMessage(ctx, deps, msg)
		})
		drain(t, ctx, mt, func(raw []byte) error {
			msg, err := jobs.DecodeTaskMessage(raw)
			if err != nil {
				return err
			}
			return kernel.ProcessTaskMessage(ctx, deps, msg)
		})
	}
}

func TestGreetingJobEndToEnd(t *testing.T) {
	deps, st, jobQ, taskQ := newKernelDeps(t)
	ctx := context.Background()

	job, err := kernel.SubmitJob(ctx, deps, JobType, map[string]any{"names": []any{"Ada", "Grace"}})
	require.NoError(t, err)

	runToCompletion(t, deps, jobQ, taskQ)

	final, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.JobCompleted, final.Status)

	var result map[string]any
	require.NoError(t, json.Unmarshal(final.ResultData, &result))
	replies, ok := result["replies"].([]any)
	require.True(t, ok)
	assert.Len(t, replies, 2)
	for _, r := range replies {
		assert.Contains(t, r.(string), "nice to meet you too")
	}
}

func TestGreetingJobBlankNameDefaultsToThere(t *testing.T) {
	deps, st, jobQ, taskQ := newKernelDeps(t)
	ctx := context.Background()

	job, err := kernel.SubmitJob(ctx, deps, JobType, map[string]any{"names": []any{""}})
	require.NoError(t, err)

	runToCompletion(t, deps, jobQ, taskQ)

	final, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.JobCompleted, final.Status)

	var result map[string]any
	require.NoError(t, json.Unmarshal(final.ResultData, &result))
	replies := result["replies"].([]any)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].(string), "Hello, there!")
}

func TestGreetingDefinitionShape(t *testing.T) {
	def := Definition()
	assert.Equal(t, 2, def.TotalStages())

	stage1, ok := def.Stage(StageGreet)
	require.True(t, ok)
	assert.Equal(t, jobs.ParallelismDynamic, stage1.Parallelism)

	stage2, ok := def.Stage(StageReply)
	require.True(t, ok)
	assert.Equal(t, jobs.ParallelismMatchPrevious, stage2.Parallelism)
}
