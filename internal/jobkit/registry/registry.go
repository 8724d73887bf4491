// Package registry is the kernel's dispatch table: it binds job_type to a
// JobDefinition and task_type to a Handler. Adapted from the teacher's
// internal/jobs/runtime.Registry (concurrency-safe map, fail-fast on
// duplicate registration), split into two registries because the kernel
// dispatches on two different keys at two different points in a job's
// lifecycle (job message -> JobDefinition, task message -> Handler).
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
)

// HandlerResult is the structured outcome of one task execution.
type HandlerResult struct {
	Success bool
	Error   error
	Details map[string]any
}

// Handler is the contract every task type's business logic implements.
// Handlers must be side-effect safe under retries: the kernel may invoke the
// same task id more than once (at-least-once delivery, stale-heartbeat
// reclaim), and a handler is responsible for its own idempotency where that
// matters to its domain.
type Handler interface {
	Type() string
	Run(ctx context.Context, params map[string]any) (HandlerResult, error)
}

// HandlerFunc lets ordinary functions satisfy Handler without a named type,
// mirroring the reference greeting job type's registration style.
type HandlerFunc struct {
	TaskType string
	Fn       func(ctx context.Context, params map[string]any) (HandlerResult, error)
}

func (f HandlerFunc) Type() string { return f.TaskType }
func (f HandlerFunc) Run(ctx context.Context, params map[string]any) (HandlerResult, error) {
	return f.Fn(ctx, params)
}

// JobRegistry maps job_type -> JobDefinition. At most one definition may be
// registered per job_type; registration is expected at process startup and
// lookups happen concurrently from every kernel goroutine.
type JobRegistry struct {
	mu   sync.RWMutex
	defs map[string]jobs.JobDefinition
}

func NewJobRegistry() *JobRegistry {
	return &JobRegistry{defs: make(map[string]jobs.JobDefinition)}
}

func (r *JobRegistry) Register(def jobs.JobDefinition) error {
	if def.JobType == "" {
		return fmt.Errorf("job definition has empty JobType")
	}
	if len(def.Stages) == 0 {
		return fmt.Errorf("job definition %q declares zero stages", def.JobType)
	}
	if def.CreateTasksForStage == nil {
		return fmt.Errorf("job definition %q has nil CreateTasksForStage", def.JobType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.JobType]; exists {
		return fmt.Errorf("job definition already registered for job_type=%s", def.JobType)
	}
	r.defs[def.JobType] = def
	return nil
}

func (r *JobRegistry) Get(jobType string) (jobs.JobDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[jobType]
	return d, ok
}

// TaskRegistry maps task_type -> Handler, same concurrency discipline as
// JobRegistry.
type TaskRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{handlers: make(map[string]Handler)}
}

func (r *TaskRegistry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	t := h.Type()
	if t == "" {
		return fmt.Errorf("handler Type() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("handler already registered for task_type=%s", t)
	}
	r.handlers[t] = h
	return nil
}

func (r *TaskRegistry) Get(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}
