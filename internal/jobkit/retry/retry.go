// Package retry implements the kernel's task retry/backoff policy: adapted
// directly from the teacher's internal/jobs/orchestrator.RetryPolicy /
// shouldRetry / computeBackoff (exponential backoff with proportional
// jitter), generalized from a per-stage func(error) bool predicate to the
// kernel's jobs.ErrKind taxonomy (see jobs.ErrKind.Retryable).
package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
)

// Policy configures retry eligibility and backoff shape for one task type.
// Zero values fall back to the same defaults as the teacher's
// computeBackoff: 1s min, 30s max, 20% jitter.
type Policy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	JitterFrac  float64
}

// DefaultPolicy mirrors the teacher's engine.go backoff shape, but
// MaxAttempts follows spec.md §7's max_retries default of 3 rather than the
// teacher's own default of 5.
var DefaultPolicy = Policy{MaxAttempts: 3, MinBackoff: time.Second, MaxBackoff: 30 * time.Second, JitterFrac: 0.20}

// ShouldRetry reports whether a task failing with err, having already used
// retryCount attempts, is eligible for another attempt under p.
func ShouldRetry(p Policy, retryCount int, err error) bool {
	max := p.MaxAttempts
	if max <= 0 {
		max = DefaultPolicy.MaxAttempts
	}
	if retryCount >= max {
		return false
	}
	kind := errKind(err)
	return kind.Retryable()
}

// ComputeBackoff returns the delay before the (retryCount+1)th attempt,
// exponential in retryCount with proportional jitter, clamped to
// [MinBackoff, MaxBackoff].
func ComputeBackoff(p Policy, retryCount int) time.Duration {
	minB := p.MinBackoff
	maxB := p.MaxBackoff
	j := p.JitterFrac
	if minB <= 0 {
		minB = DefaultPolicy.MinBackoff
	}
	if maxB <= 0 {
		maxB = DefaultPolicy.MaxBackoff
	}
	if j <= 0 {
		j = DefaultPolicy.JitterFrac
	}
	attempts := retryCount + 1
	d := time.Duration(float64(minB) * math.Pow(2, float64(attempts-1)))
	if d > maxB {
		d = maxB
	}
	delta := float64(d) * j
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	out := time.Duration(low + rand.Float64()*(high-low))
	if out > maxB {
		out = maxB
	}
	if out < minB {
		out = minB
	}
	return out
}

func errKind(err error) jobs.ErrKind {
	var kerr *jobs.Error
	if e, ok := err.(*jobs.Error); ok {
		kerr = e
	} else if e, ok := unwrapKindable(err); ok {
		kerr = e
	}
	if kerr == nil {
		return jobs.ErrKindHandler
	}
	return kerr.Kind
}

func unwrapKindable(err error) (*jobs.Error, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if e, ok := err.(*jobs.Error); ok {
			return e, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
