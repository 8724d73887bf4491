package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/examples/greeting"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/kernel"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/queue/memqueue"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/registry"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/store/memstore"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

func TestPoolDrivesGreetingJobToCompletion(t *testing.T) {
	log, err := logger.New("dev")
	require.NoError(t, err)

	st := memstore.New()
	jobReg := registry.NewJobRegistry()
	taskReg := registry.NewTaskRegistry()
	require.NoError(t, greeting.Register(jobReg, taskReg))

	deps := kernel.Deps{Store: st, JobQueue: memqueue.New(), TaskQueue: memqueue.New(), Jobs: jobReg, Tasks: taskReg, Log: log}

	pool := NewPool(deps, log, "test")
	ctx, cancel := context.WithCancel(context.Background())

	job, err := kernel.SubmitJob(ctx, deps, greeting.JobType, map[string]any{"names": []any{"Ada", "Grace", "Linus"}})
	require.NoError(t, err)

	pool.Start(ctx)
	defer func() {
		cancel()
		pool.Wait()
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := st.GetJob(ctx, job.ID)
		require.NoError(t, err)
		if got.Status.Terminal() {
			require.Equal(t, jobs.JobCompleted, got.Status)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not complete before deadline")
}

// TestJobConsumerNacksOnProcessingError guards against silently acking a job
// message whose processing failed with a store-level error (as opposed to a
// clean job-definition failure, which itself terminates the job and returns
// nil): the message must be Nack'd for redelivery, never dropped, since the
// kernel never got to decide the job's fate.
func TestJobConsumerNacksOnProcessingError(t *testing.T) {
	log, err := logger.New("dev")
	require.NoError(t, err)

	jobQ := memqueue.New()
	deps := kernel.Deps{
		Store:     memstore.New(),
		JobQueue:  jobQ,
		TaskQueue: memqueue.New(),
		Jobs:      registry.NewJobRegistry(),
		Tasks:     registry.NewTaskRegistry(),
		Log:       log,
	}
	pool := NewPool(deps, log, "test")

	msg := &jobs.JobMessage{JobID: "does-not-exist", JobType: "whatever", Stage: 1}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	_, err = jobQ.Publish(context.Background(), raw)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pool.wg.Add(1)
	go pool.runJobConsumer(ctx, 1)
	<-ctx.Done()
	pool.wg.Wait()

	delivered, err := jobQ.Consume(context.Background(), "inspector", 1)
	require.NoError(t, err)
	require.Len(t, delivered, 1, "a Nack'd message must still be in the queue, not dropped")
	assert.GreaterOrEqual(t, delivered[0].DeliveryCount, 2, "the message must have been redelivered at least once")
}
