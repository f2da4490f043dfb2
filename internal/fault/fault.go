// Package fault defines the typed domain-error taxonomy. Expected domain
// conditions are returned as *Error values carrying a stable reason code so
// callers branch on kind, never on message text. Infrastructure failures
// (store unavailable, transaction conflict exhaustion) stay plain wrapped
// errors and pass through untouched.
package fault

import (
	"errors"
	"fmt"
)

// Kind buckets reason codes for transport-level mapping.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindPreconditionFailed Kind = "precondition_failed"
	KindResourceExhausted  Kind = "resource_exhausted"
	KindExpired            Kind = "expired"
)

// Code is a stable, user-visible reason code.
type Code string

const (
	CodeNodeNotFound        Code = "NodeNotFound"
	CodeReservationNotFound Code = "ReservationNotFound"

	CodeNameAlreadyExists          Code = "NameAlreadyExists"
	CodeAlreadyInMaintenance       Code = "AlreadyInMaintenance"
	CodeAlreadyDecommissioned      Code = "AlreadyDecommissioned"
	CodeReservationClaimed         Code = "ReservationClaimed"
	CodeReservationAlreadyReleased Code = "ReservationAlreadyReleased"

	CodeNodeUnavailable       Code = "NodeUnavailable"
	CodeNodeDecommissioned    Code = "NodeDecommissioned"
	CodeNotInMaintenance      Code = "NotInMaintenance"
	CodeReservationNotClaimed Code = "ReservationNotClaimed"
	CodeCapacityDataMissing   Code = "CapacityDataMissing"

	CodeInsufficientCPU    Code = "InsufficientCpu"
	CodeInsufficientMemory Code = "InsufficientMemory"
	CodeInsufficientDisk   Code = "InsufficientDisk"

	CodeReservationExpired Code = "ReservationExpired"
)

// Error is a typed domain condition.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a domain error with a formatted message.
func New(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(code Code, format string, args ...any) *Error {
	return New(KindNotFound, code, format, args...)
}

func Conflict(code Code, format string, args ...any) *Error {
	return New(KindConflict, code, format, args...)
}

func Precondition(code Code, format string, args ...any) *Error {
	return New(KindPreconditionFailed, code, format, args...)
}

func Exhausted(code Code, format string, args ...any) *Error {
	return New(KindResourceExhausted, code, format, args...)
}

func Expired(code Code, format string, args ...any) *Error {
	return New(KindExpired, code, format, args...)
}

// As extracts a domain error if err carries one.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsCode reports whether err is a domain error with the given reason code.
func IsCode(err error, code Code) bool {
	fe, ok := As(err)
	return ok && fe.Code == code
}
