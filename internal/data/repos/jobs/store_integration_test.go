package jobs

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	domainjobs "github.com/yungbote/neurobridge-backend/internal/domain/jobs"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/store"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// These tests exercise the real GORM/Postgres store and only run when
// KERNEL_TEST_POSTGRES_DSN is set, the same opt-in convention the teacher
// uses for its own database-backed integration tests — unit coverage of
// the state machine lives in internal/jobkit/kernel against memstore, this
// file only needs to prove the SQL this package generates actually works
// against a real database (in particular CompleteTaskAndCheckStage's
// advisory-lock transaction).
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("KERNEL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("KERNEL_TEST_POSTGRES_DSN not set, skipping Postgres integration test")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domainjobs.Job{}, &domainjobs.Task{}, &domainjobs.Checkpoint{}))
	return db
}

func TestGormStoreCreateJobIsIdempotentOnConflict(t *testing.T) {
	db := openTestDB(t)
	log, err := logger.New("dev")
	require.NoError(t, err)
	st := NewStore(db, log)
	ctx := context.Background()

	job := &domainjobs.Job{ID: "integration-test-job-1", JobType: "echo", Status: domainjobs.JobProcessing, Stage: 1, TotalStages: 1, Parameters: []byte(`{}`)}
	t.Cleanup(func() { db.Exec("DELETE FROM kernel_job WHERE id = ?", job.ID) })

	created, err := st.CreateJob(ctx, job)
	require.NoError(t, err)
	require.True(t, created)

	dup := &domainjobs.Job{ID: job.ID, JobType: "echo", Status: domainjobs.JobProcessing, Stage: 1, TotalStages: 1, Parameters: []byte(`{}`)}
	created, err = st.CreateJob(ctx, dup)
	require.NoError(t, err)
	require.False(t, created, "second CreateJob for the same id must be a no-op")
}

func TestGormStoreCompleteTaskAndCheckStageFanIn(t *testing.T) {
	db := openTestDB(t)
	log, err := logger.New("dev")
	require.NoError(t, err)
	st := NewStore(db, log)
	ctx := context.Background()

	jobID := "integration-test-job-2"
	t.Cleanup(func() {
		db.Exec("DELETE FROM kernel_task WHERE parent_job_id = ?", jobID)
		db.Exec("DELETE FROM kernel_job WHERE id = ?", jobID)
	})

	job := &domainjobs.Job{ID: jobID, JobType: "echo", Status: domainjobs.JobProcessing, Stage: 1, TotalStages: 1, Parameters: []byte(`{}`)}
	_, err = st.CreateJob(ctx, job)
	require.NoError(t, err)

	tasks := []*domainjobs.Task{
		{ID: domainjobs.TaskID(jobID, 1, 0), ParentJobID: jobID, JobType: "echo", TaskType: "t", Stage: 1, TaskIndex: 0, Status: domainjobs.TaskQueued},
		{ID: domainjobs.TaskID(jobID, 1, 1), ParentJobID: jobID, JobType: "echo", TaskType: "t", Stage: 1, TaskIndex: 1, Status: domainjobs.TaskQueued},
	}
	require.NoError(t, st.CreateTasks(ctx, tasks))

	outcome, err := st.CompleteTaskAndCheckStage(ctx, tasks[0].ID, domainjobs.TaskCompleted, "", "", map[string]any{})
	require.NoError(t, err)
	require.False(t, outcome.StageDone, "one of two tasks completing must not yet signal fan-in")

	outcome, err = st.CompleteTaskAndCheckStage(ctx, tasks[1].ID, domainjobs.TaskCompleted, "", "", map[string]any{})
	require.NoError(t, err)
	require.True(t, outcome.StageDone, "the last task completing must signal fan-in")
	require.False(t, outcome.AnyFailed)

	_, err = st.GetTask(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}
