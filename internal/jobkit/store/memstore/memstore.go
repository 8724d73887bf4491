// Package memstore is an in-process store.Store fake used by kernel tests
// that need deterministic, fast, non-Postgres-dependent runs — in
// particular the fan-in concurrency property test (spec.md §8 property 4),
// where memstore's mutex stands in for the Postgres advisory lock.
package memstore

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/store"
)

type Store struct {
	mu          sync.Mutex
	jobs        map[string]*jobs.Job
	tasks       map[string]*jobs.Task
	checkpoints []*jobs.Checkpoint
	// stageLocks serializes CompleteTaskAndCheckStage per (job_id, stage),
	// standing in for the Postgres advisory transaction lock.
	stageLocks map[string]*sync.Mutex
}

func New() *Store {
	return &Store{
		jobs:       make(map[string]*jobs.Job),
		tasks:      make(map[string]*jobs.Task),
		stageLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.stageLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.stageLocks[key] = l
	}
	return l
}

func clone(j *jobs.Job) *jobs.Job {
	cp := *j
	return &cp
}

func cloneTask(t *jobs.Task) *jobs.Task {
	cp := *t
	return &cp
}

func (s *Store) CreateJob(_ context.Context, job *jobs.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[job.ID]; ok {
		*job = *existing
		return false, nil
	}
	s.jobs[job.ID] = clone(job)
	return true, nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(j), nil
}

func (s *Store) ClaimJob(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != jobs.JobQueued {
		return false, nil
	}
	j.Status = jobs.JobProcessing
	j.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) AdvanceJobStage(_ context.Context, jobID string, fromStage int, stageResults map[string][]json.RawMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Stage != fromStage || j.Status != jobs.JobProcessing {
		return false, nil
	}
	raw, err := json.Marshal(stageResults)
	if err != nil {
		return false, err
	}
	j.Stage = fromStage + 1
	j.StageResults = raw
	j.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) CompleteJob(_ context.Context, jobID string, status jobs.JobStatus, resultData map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != jobs.JobProcessing {
		return false, nil
	}
	raw, err := json.Marshal(resultData)
	if err != nil {
		return false, err
	}
	j.Status = status
	j.ResultData = raw
	j.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) FailJob(_ context.Context, jobID string, kind jobs.ErrKind, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status.Terminal() {
		return false, nil
	}
	j.Status = jobs.JobFailed
	j.Error = message
	j.ErrorKind = string(kind)
	j.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) CreateTasks(_ context.Context, tasks []*jobs.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		if _, exists := s.tasks[t.ID]; exists {
			continue
		}
		s.tasks[t.ID] = cloneTask(t)
	}
	return nil
}

func (s *Store) GetTask(_ context.Context, taskID string) (*jobs.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTask(t), nil
}

func (s *Store) GetTasksForStage(_ context.Context, jobID string, stage int) ([]*jobs.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*jobs.Task
	for _, t := range s.tasks {
		if t.ParentJobID == jobID && t.Stage == stage {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

func (s *Store) ClaimTask(_ context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.Status != jobs.TaskQueued {
		return false, nil
	}
	now := time.Now()
	t.Status = jobs.TaskProcessing
	t.DispatchedAt = &now
	t.StartedAt = &now
	t.LastHeartbeat = &now
	t.UpdatedAt = now
	return true, nil
}

func (s *Store) Heartbeat(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.Status != jobs.TaskProcessing {
		return nil
	}
	now := time.Now()
	t.LastHeartbeat = &now
	return nil
}

func (s *Store) CompleteTaskAndCheckStage(_ context.Context, taskID string, status jobs.TaskStatus, kind jobs.ErrKind, errMsg string, resultData map[string]any) (store.CompletionOutcome, error) {
	var outcome store.CompletionOutcome

	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return outcome, store.ErrNotFound
	}
	lockKey := t.ParentJobID + ":" + strconv.Itoa(t.Stage)
	s.mu.Unlock()

	lock := s.lockFor(lockKey)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	t = s.tasks[taskID]
	if t.Status.Terminal() {
		return outcome, nil
	}
	raw, err := json.Marshal(resultData)
	if err != nil {
		return outcome, err
	}
	now := time.Now()
	t.Status = status
	t.ResultData = raw
	t.CompletedAt = &now
	t.UpdatedAt = now
	if status == jobs.TaskFailed {
		t.ErrorDetails = errMsg
		t.ErrorKind = string(kind)
	}

	remaining := 0
	anyFailed := false
	for _, other := range s.tasks {
		if other.ParentJobID != t.ParentJobID || other.Stage != t.Stage {
			continue
		}
		if !other.Status.Terminal() {
			remaining++
		}
		if other.Status == jobs.TaskFailed {
			anyFailed = true
		}
	}
	outcome.Remaining = remaining
	outcome.StageDone = remaining == 0
	if outcome.StageDone {
		outcome.AnyFailed = anyFailed
	}
	return outcome, nil
}

func (s *Store) RetryTask(_ context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || (t.Status != jobs.TaskProcessing && t.Status != jobs.TaskFailed) {
		return false, nil
	}
	t.Status = jobs.TaskQueued
	t.RetryCount++
	t.DispatchedAt = nil
	t.StartedAt = nil
	t.LastHeartbeat = nil
	t.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) StaleTaskScan(_ context.Context, olderThan time.Duration, limit int) ([]*jobs.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []*jobs.Task
	for _, t := range s.tasks {
		if t.Status != jobs.TaskProcessing || t.LastHeartbeat == nil || !t.LastHeartbeat.Before(cutoff) {
			continue
		}
		out = append(out, cloneTask(t))
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) AppendCheckpoint(_ context.Context, cp *jobs.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cpCopy := *cp
	s.checkpoints = append(s.checkpoints, &cpCopy)
	return nil
}

func (s *Store) ListCheckpoints(_ context.Context, jobID string, limit int) ([]*jobs.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*jobs.Checkpoint
	for _, cp := range s.checkpoints {
		if cp.JobID == jobID {
			out = append(out, cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
