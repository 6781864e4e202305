package domain

import "errors"

// ─── Error Taxonomy ─────────────────────────────────────────────────────────
// Every rejection carries a Kind so callers can tell "retry later" (timing,
// external) from "never retry" (authorization, state, validation).

// Kind classifies a rejected operation.
type Kind uint8

const (
	KindInternal Kind = iota
	KindAuthorization
	KindState
	KindTiming
	KindValidation
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindTiming:
		return "timing"
	case KindValidation:
		return "validation"
	case KindExternal:
		return "external"
	default:
		return "internal"
	}
}

// Retryable is true when the same call may succeed later unchanged.
func (k Kind) Retryable() bool { return k == KindTiming || k == KindExternal }

// Error is a stable, kinded sentinel. Compare with errors.Is.
type Error struct {
	kind Kind
	msg  string
}

func newError(kind Kind, msg string) *Error { return &Error{kind: kind, msg: msg} }

func (e *Error) Error() string { return e.msg }

// Kind returns the error's class.
func (e *Error) Kind() Kind { return e.kind }

// KindOf returns the Kind of the first kinded error in err's chain,
// or KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

// ─── Sentinel Errors ────────────────────────────────────────────────────────

var (
	// Authorization errors
	ErrNotClient    = newError(KindAuthorization, "caller is not the task client")
	ErrNotAgent     = newError(KindAuthorization, "caller is not the task agent")
	ErrNotOwner     = newError(KindAuthorization, "caller is not the registry owner")
	ErrNotOracle    = newError(KindAuthorization, "caller is not the configured oracle")
	ErrUnauthorized = newError(KindAuthorization, "request authentication failed")

	// State errors
	ErrTaskNotFound        = newError(KindState, "task not found")
	ErrWrongStatus         = newError(KindState, "operation not allowed in current task status")
	ErrIllegalTransition   = newError(KindState, "illegal status transition")
	ErrAlreadyDeposited    = newError(KindState, "payment already deposited")
	ErrPaymentNotDeposited = newError(KindState, "payment not deposited")
	ErrClientIsAgent       = newError(KindState, "client cannot accept its own task")

	// Timing errors
	ErrDeadlineNotReached    = newError(KindTiming, "task deadline has not passed")
	ErrDisputeWindowClosed   = newError(KindTiming, "dispute window has closed")
	ErrCooldownActive        = newError(KindTiming, "cooldown period has not elapsed")
	ErrResponseWindowClosed  = newError(KindTiming, "agent response window has closed")
	ErrResponseWindowPending = newError(KindTiming, "agent response window has not elapsed")

	// Validation errors
	ErrZeroAmount          = newError(KindValidation, "amount must be greater than zero")
	ErrDeadlineNotFuture   = newError(KindValidation, "deadline must be in the future")
	ErrNegativeAmount      = newError(KindValidation, "amount must not be negative")
	ErrTokenNotAllowed     = newError(KindValidation, "token is not on the whitelist")
	ErrInvalidAddress      = newError(KindValidation, "invalid address")
	ErrInvalidHash         = newError(KindValidation, "invalid hash")
	ErrMalformedSignature  = newError(KindValidation, "malformed signature")
	ErrInvalidSignature    = newError(KindValidation, "signature not produced by signer")
	ErrAssertionMismatch   = newError(KindValidation, "assertion id does not match task")
	ErrUnknownAssertion    = newError(KindValidation, "unknown assertion id")
	ErrAssertionReused     = newError(KindValidation, "assertion id already bound to a task")
	ErrBpsOutOfRange       = newError(KindValidation, "basis points out of range")
	ErrInvalidConfig       = newError(KindValidation, "invalid configuration")
	ErrInsufficientBalance = newError(KindValidation, "insufficient token balance")
	ErrEvidenceNotFound    = newError(KindValidation, "evidence not found")
	ErrEvidenceCorrupted   = newError(KindValidation, "evidence content does not match its uri")
	ErrInvalidEvidence     = newError(KindValidation, "evidence must be non-empty and within the size limit")
	ErrInvalidWallet       = newError(KindValidation, "invalid wallet definition")
	ErrOracleRejected      = newError(KindValidation, "arbitration oracle rejected the assertion")

	// External errors
	ErrOracleUnavailable = newError(KindExternal, "arbitration oracle unavailable")
	ErrEvidenceStore     = newError(KindExternal, "evidence store failure")
)
