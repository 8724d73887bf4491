package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
)

func TestShouldRetryRespectsMaxAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3}
	err := jobs.NewError(jobs.ErrKindTimeout, "slow", nil)

	assert.True(t, ShouldRetry(p, 0, err))
	assert.True(t, ShouldRetry(p, 2, err))
	assert.False(t, ShouldRetry(p, 3, err))
}

func TestDefaultPolicyMaxAttemptsIsThree(t *testing.T) {
	assert.Equal(t, 3, DefaultPolicy.MaxAttempts)
}

func TestShouldRetryNonRetryableKindNeverRetries(t *testing.T) {
	p := DefaultPolicy
	err := jobs.NewError(jobs.ErrKindValidation, "bad input", nil)
	assert.False(t, ShouldRetry(p, 0, err))
}

func TestShouldRetryPlainErrorDefaultsToHandlerKind(t *testing.T) {
	p := DefaultPolicy
	assert.True(t, ShouldRetry(p, 0, assertErr("boom")))
}

func TestComputeBackoffClampsToMax(t *testing.T) {
	p := Policy{MinBackoff: time.Second, MaxBackoff: 5 * time.Second, JitterFrac: 0}
	d := ComputeBackoff(p, 10) // would be enormous without clamping
	assert.LessOrEqual(t, d, 5*time.Second)
}

func TestComputeBackoffGrowsWithAttempts(t *testing.T) {
	p := Policy{MinBackoff: time.Second, MaxBackoff: time.Minute, JitterFrac: 0}
	first := ComputeBackoff(p, 0)
	second := ComputeBackoff(p, 1)
	assert.Greater(t, second, first)
}

func TestComputeBackoffUsesDefaultsWhenPolicyZero(t *testing.T) {
	d := ComputeBackoff(Policy{}, 0)
	assert.GreaterOrEqual(t, d, time.Duration(0))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
