// Package worker adapts the teacher's internal/jobs/worker.Worker (a
// poll-the-DB, claim-and-run scheduler) into a consumer-group pool over the
// kernel's two Queue ports: every goroutine in the pool is a stateless
// consumer of either the job queue or the task queue, losing none of the
// teacher's concurrency knobs (env-driven goroutine count) or its panic
// safety net (invoke() in the kernel package does the recover now, since
// that's a property of running a handler, not of being a worker).
package worker

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/kernel"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// Pool runs a configurable number of goroutines consuming job messages and
// task messages in parallel, dispatching each to the kernel.
type Pool struct {
	deps kernel.Deps
	log  *logger.Logger

	jobConcurrency  int
	taskConcurrency int
	consumerPrefix  string

	wg sync.WaitGroup
}

// NewPool reads JOB_WORKER_CONCURRENCY / TASK_WORKER_CONCURRENCY (default 2
// and 8: stages fan out, so task consumption is the hot path and gets more
// goroutines by default) the same way the teacher reads WORKER_CONCURRENCY.
func NewPool(deps kernel.Deps, baseLog *logger.Logger, consumerPrefix string) *Pool {
	return &Pool{
		deps:            deps,
		log:             baseLog.With("component", "jobkit.Pool"),
		jobConcurrency:  getEnvInt("JOB_WORKER_CONCURRENCY", 2),
		taskConcurrency: getEnvInt("TASK_WORKER_CONCURRENCY", 8),
		consumerPrefix:  consumerPrefix,
	}
}

// Start launches every consumer goroutine; it returns immediately. Consumers
// stop when ctx is canceled; call Wait afterward to block until they exit.
func (p *Pool) Start(ctx context.Context) {
	p.log.Info("starting worker pool", "job_concurrency", p.jobConcurrency, "task_concurrency", p.taskConcurrency)
	for i := 0; i < p.jobConcurrency; i++ {
		p.wg.Add(1)
		go p.runJobConsumer(ctx, i+1)
	}
	for i := 0; i < p.taskConcurrency; i++ {
		p.wg.Add(1)
		go p.runTaskConsumer(ctx, i+1)
	}
}

func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) runJobConsumer(ctx context.Context, workerID int) {
	defer p.wg.Done()
	consumerName := p.consumerPrefix + "-job-" + strconv.Itoa(workerID)
	for {
		if ctx.Err() != nil {
			return
		}
		deliveries, err := p.deps.JobQueue.Consume(ctx, consumerName, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("job queue consume failed", "worker_id", workerID, "error", err)
			continue
		}
		for _, d := range deliveries {
			msg, err := jobs.DecodeJobMessage(d.Payload)
			if err != nil {
				p.log.Error("dropping malformed job message", "worker_id", workerID, "delivery_id", d.ID, "error", err)
				_ = p.deps.JobQueue.Ack(ctx, d.ID)
				continue
			}
			if err := p.runJobMessage(ctx, workerID, msg); err != nil {
				_ = p.deps.JobQueue.Nack(ctx, d.ID)
				continue
			}
			_ = p.deps.JobQueue.Ack(ctx, d.ID)
		}
	}
}

// runJobMessage dispatches msg to the kernel, recovering from a handler
// panic the same way invoke() does for task handlers. The message is only
// acked by the caller when the returned error is nil — a non-nil error (or a
// recovered panic) leaves it for Nack, so a transient store/queue failure is
// redelivered instead of silently dropping the task (spec §4.6.2 step 6).
func (p *Pool) runJobMessage(ctx context.Context, workerID int, msg *jobs.JobMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("job message processing panicked", "worker_id", workerID, "job_id", msg.JobID, "panic", r)
			err = fmt.Errorf("job message processing panicked: %v", r)
		}
	}()
	if err := kernel.ProcessJobMessage(ctx, p.deps, msg); err != nil {
		p.log.Error("process job message failed", "worker_id", workerID, "job_id", msg.JobID, "stage", msg.Stage, "error", err)
		return err
	}
	return nil
}

func (p *Pool) runTaskConsumer(ctx context.Context, workerID int) {
	defer p.wg.Done()
	consumerName := p.consumerPrefix + "-task-" + strconv.Itoa(workerID)
	for {
		if ctx.Err() != nil {
			return
		}
		deliveries, err := p.deps.TaskQueue.Consume(ctx, consumerName, 4)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("task queue consume failed", "worker_id", workerID, "error", err)
			continue
		}
		for _, d := range deliveries {
			msg, err := jobs.DecodeTaskMessage(d.Payload)
			if err != nil {
				p.log.Error("dropping malformed task message", "worker_id", workerID, "delivery_id", d.ID, "error", err)
				_ = p.deps.TaskQueue.Ack(ctx, d.ID)
				continue
			}
			if err := p.runTaskMessage(ctx, workerID, msg); err != nil {
				_ = p.deps.TaskQueue.Nack(ctx, d.ID)
				continue
			}
			_ = p.deps.TaskQueue.Ack(ctx, d.ID)
		}
	}
}

// runTaskMessage dispatches msg to the kernel; see runJobMessage for the
// ack/nack contract this return value drives.
func (p *Pool) runTaskMessage(ctx context.Context, workerID int, msg *jobs.TaskMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task message processing panicked", "worker_id", workerID, "task_id", msg.TaskID, "panic", r)
			err = fmt.Errorf("task message processing panicked: %v", r)
		}
	}()
	if err := kernel.ProcessTaskMessage(ctx, p.deps, msg); err != nil {
		p.log.Error("process task message failed", "worker_id", workerID, "task_id", msg.TaskID, "error", err)
		return err
	}
	return nil
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
