package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind classifies every failure returned by the ledger.
type ErrorKind string

const (
	KindNotFound               ErrorKind = "NOT_FOUND"
	KindForbidden              ErrorKind = "FORBIDDEN"
	KindPolicyViolation        ErrorKind = "POLICY_VIOLATION"
	KindAlreadyDecided         ErrorKind = "ALREADY_DECIDED"
	KindInsufficientFunds      ErrorKind = "INSUFFICIENT_FUNDS"
	KindPartialTransferFailure ErrorKind = "PARTIAL_TRANSFER_FAILURE"
	KindStoreUnavailable       ErrorKind = "STORE_UNAVAILABLE"
	KindValidation             ErrorKind = "VALIDATION"
)

// Retryable reports whether a caller may retry the same request.
func (k ErrorKind) Retryable() bool {
	return k == KindStoreUnavailable
}

// Reason details a policy violation.
type Reason string

const (
	ReasonApprovalNotRequired Reason = "approval_not_required"
	ReasonInvalidState        Reason = "invalid_state"
	ReasonOutOfScope          Reason = "out_of_scope"
	ReasonRoleNotAllowed      Reason = "role_not_allowed"
	ReasonHighValueRole       Reason = "high_value_role_required"
	ReasonSelfApproval        Reason = "self_approval"
	ReasonAccountInactive     Reason = "account_inactive"
	ReasonTransferIncomplete  Reason = "transfer_incomplete"
	ReasonCompensated         Reason = "compensated"
)

// Error is the typed failure returned by ledger operations.
type Error struct {
	Kind   ErrorKind
	Reason Reason
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := "ledger: " + string(e.Kind)
	if e.Reason != "" {
		msg += " (" + string(e.Reason) + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, and by reason when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

var (
	// ErrNotFound matches any NotFound failure.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrForbidden matches any scope violation.
	ErrForbidden = &Error{Kind: KindForbidden}
	// ErrPolicyViolation matches any policy refusal.
	ErrPolicyViolation = &Error{Kind: KindPolicyViolation}
	// ErrAlreadyDecided matches idempotency conflicts.
	ErrAlreadyDecided = &Error{Kind: KindAlreadyDecided}
	// ErrInsufficientFunds matches funds check failures.
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	// ErrPartialTransferFailure matches compensated transfer failures.
	ErrPartialTransferFailure = &Error{Kind: KindPartialTransferFailure}
	// ErrStoreUnavailable matches transient infrastructure failures.
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable}
	// ErrValidation matches malformed input.
	ErrValidation = &Error{Kind: KindValidation}
	// ErrAccountInactive is returned by stores when a guard requires an active account.
	ErrAccountInactive = &Error{Kind: KindPolicyViolation, Reason: ReasonAccountInactive}
)

func newError(kind ErrorKind, reason Reason, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *Error {
	return newError(KindNotFound, "", format, args...)
}

func forbidden(format string, args ...any) *Error {
	return newError(KindForbidden, ReasonOutOfScope, format, args...)
}

func invalid(format string, args ...any) *Error {
	return newError(KindValidation, "", format, args...)
}

// KindOf classifies err. Errors that carry no ledger kind come from the
// store or the transport and are treated as StoreUnavailable.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	return KindStoreUnavailable
}

// ReasonOf returns the policy reason carried by err, if any.
func ReasonOf(err error) Reason {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Reason
	}
	return ""
}

// storeError wraps infrastructure failures so callers can tell them apart
// from deterministic refusals.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var lerr *Error
	if errors.As(err, &lerr) {
		return err
	}
	detail := op
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		detail = op + " interrupted"
	case errors.As(err, &pgErr):
		detail = op + " (" + pgErr.Code + ")"
	}
	return &Error{Kind: KindStoreUnavailable, Detail: detail, Err: err}
}
