package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/registry"
)

// defaultTaskTimeout bounds a handler invocation when invoke is given no
// timeout; ProcessTaskMessage always passes none, and task types cannot
// declare their own. Adapted from the teacher's per-stage Stage.Timeout
// (orchestrator/engine.go), applied to every task invocation here instead
// of per pipeline stage.
const defaultTaskTimeout = 5 * time.Minute

// invoke runs h against params under a timeout, recovering from panics and
// converting both to a structured registry.HandlerResult the way the
// teacher's worker.go converts a handler panic into a job failure
// (errFromRecover/panicError) instead of crashing the process.
func invoke(ctx context.Context, h registry.Handler, params map[string]any, timeout time.Duration) registry.HandlerResult {
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type out struct {
		res registry.HandlerResult
		err error
	}
	ch := make(chan out, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- out{err: jobs.NewError(jobs.ErrKindPanic, fmt.Sprintf("task handler panicked: %v", r), nil)}
			}
		}()
		res, err := h.Run(tctx, params)
		ch <- out{res: res, err: err}
	}()

	select {
	case <-tctx.Done():
		return registry.HandlerResult{Success: false, Error: jobs.NewError(jobs.ErrKindTimeout, fmt.Sprintf("task type %q timed out after %s", h.Type(), timeout), tctx.Err())}
	case o := <-ch:
		if o.err != nil {
			if _, ok := o.err.(*jobs.Error); ok {
				return registry.HandlerResult{Success: false, Error: o.err}
			}
			return registry.HandlerResult{Success: false, Error: jobs.NewError(jobs.ErrKindHandler, "handler returned error", o.err)}
		}
		return o.res
	}
}
