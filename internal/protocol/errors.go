package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies a settlement error so callers can decide whether to retry
// and transports can pick a status code.
type Kind int

const (
	KindState Kind = iota + 1
	KindValidation
	KindPermission
	KindNotFound
	KindUnavailable
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindValidation:
		return "validation"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "unavailable"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by every settlement operation.
// Two errors match under errors.Is when their codes are equal.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// Retryable reports whether the failure came from a collaborator and the
// same call may be repeated.
func (e *Error) Retryable() bool {
	return e != nil && e.Kind == KindUnavailable
}

// With returns a copy of e carrying a more specific message.
func (e *Error) With(format string, args ...any) *Error {
	out := *e
	out.Message = e.Message + ": " + fmt.Sprintf(format, args...)
	return &out
}

// Wrap returns a copy of e wrapping cause.
func (e *Error) Wrap(cause error) *Error {
	out := *e
	out.Err = cause
	return &out
}

var (
	ErrStrategyNotFound  = &Error{Kind: KindNotFound, Code: "strategy_not_found", Message: "strategy not found"}
	ErrExecutionNotFound = &Error{Kind: KindNotFound, Code: "execution_not_found", Message: "execution not found"}
	ErrDisputeNotFound   = &Error{Kind: KindNotFound, Code: "dispute_not_found", Message: "dispute not found"}
	ErrStreamNotFound    = &Error{Kind: KindNotFound, Code: "stream_not_found", Message: "reward stream not found"}

	ErrInvalidState = &Error{Kind: KindState, Code: "invalid_state", Message: "transition not allowed from current state"}
	ErrWindowOpen   = &Error{Kind: KindState, Code: "window_open", Message: "too early: dispute window is still open"}
	ErrWindowClosed = &Error{Kind: KindState, Code: "window_closed", Message: "too late: dispute window has closed"}

	ErrIdempotencyConflict = &Error{Kind: KindState, Code: "idempotency_conflict", Message: "idempotency key already used for a different submission"}

	ErrNotWindowOwner = &Error{Kind: KindPermission, Code: "not_window_owner", Message: "wrong role: only the strategy creator may dispute"}
	ErrNotExecutor    = &Error{Kind: KindPermission, Code: "not_executor", Message: "wrong role: only the executor may withdraw"}
	ErrNotCreator     = &Error{Kind: KindPermission, Code: "not_creator", Message: "wrong role: only the strategy creator may change it"}

	ErrStrategyInactive = &Error{Kind: KindValidation, Code: "strategy_inactive", Message: "strategy is not active"}
	ErrInvalidAmount    = &Error{Kind: KindValidation, Code: "invalid_amount", Message: "invalid amount"}
	ErrInvalidSchedule  = &Error{Kind: KindValidation, Code: "invalid_schedule", Message: "invalid vesting schedule"}
	ErrInvalidReason    = &Error{Kind: KindValidation, Code: "invalid_reason", Message: "invalid dispute reason code"}
	ErrInvalidEvidence  = &Error{Kind: KindValidation, Code: "invalid_evidence", Message: "invalid proof evidence"}
	ErrInvalidStrategy  = &Error{Kind: KindValidation, Code: "invalid_strategy", Message: "invalid strategy"}
	ErrInvalidIdentity  = &Error{Kind: KindValidation, Code: "invalid_identity", Message: "identity is required"}
	ErrInvalidVerdict   = &Error{Kind: KindValidation, Code: "invalid_verdict", Message: "invalid verification verdict"}
	ErrInvalidPrice     = &Error{Kind: KindValidation, Code: "invalid_price", Message: "invalid price"}

	ErrVerificationUnavailable = &Error{Kind: KindUnavailable, Code: "verification_unavailable", Message: "verification service unavailable"}
	ErrOracleUnavailable       = &Error{Kind: KindUnavailable, Code: "oracle_unavailable", Message: "price oracle unavailable"}
	ErrLedgerUnavailable       = &Error{Kind: KindUnavailable, Code: "ledger_unavailable", Message: "ledger unavailable"}

	ErrInvariantViolation = &Error{Kind: KindInvariant, Code: "invariant_violation", Message: "invariant violation"}
)

// KindOf returns the Kind of err, or 0 when err is not a settlement error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) && pe != nil {
		return pe.Kind
	}
	return 0
}

// CodeOf returns the machine-readable code of err, or "" when err is not a
// settlement error.
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) && pe != nil {
		return pe.Code
	}
	return ""
}

// IsRetryable reports whether err is a collaborator failure.
func IsRetryable(err error) bool {
	return KindOf(err) == KindUnavailable
}
