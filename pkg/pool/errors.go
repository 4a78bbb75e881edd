package pool

import "github.com/duskforge/infercore/pkg/internal/xerr"

// Kind constants embody the §7 error taxonomy.
const (
	KindNoWorkers    xerr.Kind = "no_workers"
	KindShuttingDown xerr.Kind = "shutting_down"
	KindCircuitOpen  xerr.Kind = "circuit_open"
	KindOutOfBudget  xerr.Kind = "out_of_budget"
	KindSendError    xerr.Kind = "send_error"
	KindRecvError    xerr.Kind = "recv_error"
	KindTimeout      xerr.Kind = "timeout"
	KindModelError   xerr.Kind = "model_error"
	KindQueueFull    xerr.Kind = "queue_full"
	KindLoadFailed   xerr.Kind = "load_failed"
)

// Error is the pool subsystem's typed error, embodying spec.md §7's
// taxonomy. Use errors.As to recover the Kind, or Kind.Is via xerr.KindOf.
type Error = xerr.Error

func newErr(kind xerr.Kind, op, message string, cause error) *Error {
	return xerr.New(kind, op, message, cause)
}

// Retryable reports whether the §7 table marks this kind retryable at all
// (ignoring the "after X" qualifier, which is a caller policy decision).
func Retryable(kind xerr.Kind) bool {
	switch kind {
	case KindNoWorkers, KindCircuitOpen, KindOutOfBudget, KindSendError, KindTimeout, KindQueueFull:
		return true
	default:
		return false
	}
}
