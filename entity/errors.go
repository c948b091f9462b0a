package entity

import (
	"errors"
	"fmt"
)

// Kind categorizes engine failures; synchronous endpoints report it as the
// rejection reason.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindGateway       Kind = "external_dependency"
	KindInternal      Kind = "internal"
)

type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind and reason so wrapped copies still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Reason == t.Reason
}

// Wrap attaches a cause to a sentinel without losing its identity.
func (e *Error) Wrap(err error) *Error {
	return &Error{Kind: e.Kind, Reason: e.Reason, Err: err}
}

func newError(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Validation(format string, args ...any) *Error {
	return newError(KindValidation, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) *Error {
	return newError(KindConflict, fmt.Sprintf(format, args...))
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Reason: "internal error", Err: err}
}

var (
	ErrPotNotFound     = newError(KindNotFound, "pot not found")
	ErrEntryNotFound   = newError(KindNotFound, "entry not found")
	ErrDraftNotFound   = newError(KindNotFound, "pot draft not found")
	ErrSessionNotFound = newError(KindNotFound, "checkout session not found")
	ErrNoSubscription  = newError(KindNotFound, "no subscription found for that email")

	ErrPotClosed      = newError(KindConflict, "pot is not open")
	ErrPotEnded       = newError(KindConflict, "pot has ended")
	ErrDuplicateName  = newError(KindConflict, "duplicate name")
	ErrDuplicateEmail = newError(KindConflict, "duplicate email")
	ErrAlreadyPaid    = newError(KindConflict, "entry already paid")
	ErrPotExists      = newError(KindConflict, "pot already exists")
	ErrRelocating     = newError(KindConflict, "entry is being relocated")
	ErrPotFull        = newError(KindConflict, "pot is full")
	ErrPotQuota       = newError(KindConflict, "monthly pot allowance used")

	ErrIneligible       = newError(KindValidation, "ineligible skill")
	ErrNotOnRoster      = newError(KindValidation, "email not on pot roster")
	ErrMethodDisabled   = newError(KindValidation, "payment method disabled")
	ErrAmountTooSmall   = newError(KindValidation, "amount below gateway minimum")
	ErrInvalidSignature = newError(KindValidation, "invalid signature")
	ErrMalformedEvent   = newError(KindValidation, "malformed event")
	ErrUnknownPlan      = newError(KindValidation, "invalid price_id")
	ErrInactivePlan     = newError(KindValidation, "subscription not active")

	ErrUnauthorized = newError(KindAuthorization, "credential mismatch")

	ErrPartialMove = newError(KindInternal, "entry copied but origin not removed")

	ErrGatewayUnavailable = newError(KindGateway, "payment gateway unreachable")
	ErrGatewayConfig      = newError(KindGateway, "payment gateway misconfigured")
	ErrGatewayRejected    = newError(KindGateway, "payment gateway error")
)

// KindOf reports the category of err; uncategorized errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
