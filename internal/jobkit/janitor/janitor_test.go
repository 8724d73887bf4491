package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/kernel"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/queue/memqueue"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/registry"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/store/memstore"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"

	"github.com/stretchr/testify/assert"
)

func TestJanitorReclaimsStaleTaskAndFailsJob(t *testing.T) {
	st := memstore.New()
	log, err := logger.New("dev")
	require.NoError(t, err)

	// jobReg deliberately has no "slow" definition registered: a stale task
	// failing with no best-effort stage still fails the job, since the
	// anyFailed-and-not-best-effort check in AdvanceOrComplete short-circuits
	// before it ever needs to look the job type up.
	jobReg := registry.NewJobRegistry()

	ctx := context.Background()
	jobID := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
	_, err = st.CreateJob(ctx, &jobs.Job{ID: jobID, JobType: "slow", Status: jobs.JobProcessing, Stage: 1, TotalStages: 1, Parameters: []byte(`{}`)})
	require.NoError(t, err)

	task := &jobs.Task{ID: jobs.TaskID(jobID, 1, 0), ParentJobID: jobID, JobType: "slow", TaskType: "slow-task", Stage: 1, TaskIndex: 0, Status: jobs.TaskQueued}
	require.NoError(t, st.CreateTasks(ctx, []*jobs.Task{task}))
	_, err = st.ClaimTask(ctx, task.ID)
	require.NoError(t, err)

	// Give the claimed heartbeat time to age past a short staleAfter window
	// rather than faking elapsed time, since memstore timestamps real time.
	const staleAfter = 15 * time.Millisecond
	time.Sleep(30 * time.Millisecond)

	stale, err := st.StaleTaskScan(ctx, staleAfter, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	taskReg := registry.NewTaskRegistry()
	deps := kernel.Deps{Store: st, JobQueue: memqueue.New(), TaskQueue: memqueue.New(), Jobs: jobReg, Tasks: taskReg}

	j := New(deps, log, time.Minute, staleAfter)
	j.sweep(ctx)

	gotTask, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskFailed, gotTask.Status)
	assert.Equal(t, string(jobs.ErrKindStaleTimeout), gotTask.ErrorKind)

	gotJob, err := st.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobFailed, gotJob.Status, "single-task stage failing with no best-effort flag fails the job")
}

func TestNewJanitorAppliesDefaults(t *testing.T) {
	log, err := logger.New("dev")
	require.NoError(t, err)
	j := New(kernel.Deps{}, log, 0, 0)
	assert.Equal(t, 30*time.Second, j.interval)
	assert.Equal(t, 5*time.Minute, j.staleAfter)
}
