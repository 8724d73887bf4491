package jobs

import "fmt"

// ErrKind classifies a kernel-level failure for logging, retry policy, and
// the job/task error_kind columns. Grounded on worker.go's
// missingHandlerError/panicError pattern, generalized into an enum instead
// of ad-hoc sentinel types.
type ErrKind string

const (
	ErrKindValidation     ErrKind = "validation"
	ErrKindMissingHandler ErrKind = "missing_handler"
	ErrKindMissingJobType ErrKind = "missing_job_type"
	ErrKindTimeout        ErrKind = "timeout"
	ErrKindPanic          ErrKind = "panic"
	ErrKindHandler        ErrKind = "handler"
	ErrKindStore          ErrKind = "store"
	ErrKindQueue          ErrKind = "queue"
	ErrKindDefinition     ErrKind = "definition"
	ErrKindStaleTimeout   ErrKind = "stale_timeout"
	ErrKindCanceled       ErrKind = "canceled"
)

// Error is the kernel's structured error type. Kind drives retry
// eligibility (see internal/jobkit/retry's ShouldRetry) and is persisted
// verbatim into Job.ErrorKind / Task.ErrorKind.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(kind ErrKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Retryable reports whether a failure of this kind is worth retrying.
// Validation/definition/missing-handler errors are never retryable: retrying
// without a code or parameter change cannot succeed. Everything else
// (timeout, panic, handler, store, queue, stale_timeout) may be transient.
func (k ErrKind) Retryable() bool {
	switch k {
	case ErrKindValidation, ErrKindMissingHandler, ErrKindMissingJobType, ErrKindDefinition, ErrKindCanceled:
		return false
	default:
		return true
	}
}
