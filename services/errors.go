package services

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the HTTP layer can map it without reading
// message text.
type Kind string

const (
	KindNotFound         Kind = "NOT_FOUND"
	KindRoomNotFound     Kind = "ROOM_NOT_FOUND"
	KindRoomUnavailable  Kind = "ROOM_UNAVAILABLE"
	KindRoomInUse        Kind = "ROOM_IN_USE"
	KindNoPatientInRoom  Kind = "NO_PATIENT_IN_ROOM"
	KindAlreadyAdmitted  Kind = "ALREADY_ADMITTED"
	KindDuplicatePatient Kind = "DUPLICATE_PATIENT"
	KindDuplicateRoom    Kind = "DUPLICATE_ROOM"
	KindDuplicateUser    Kind = "DUPLICATE_USER"
	KindMissingFields    Kind = "MISSING_FIELDS"
	KindInvalidInput     Kind = "INVALID_INPUT"
	KindUnauthorized     Kind = "UNAUTHORIZED"
	KindForbidden        Kind = "FORBIDDEN"
	KindContention       Kind = "CONTENTION"
	KindInternal         Kind = "INTERNAL"
)

// Error is the typed failure returned by the ledger, the coordinator and
// the auth service.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s] %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s [%s] %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrRoomInUse)
// works regardless of Op and Message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether the caller may safely repeat the operation.
func (e *Error) Retryable() bool { return e.Kind == KindContention }

var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrRoomNotFound     = &Error{Kind: KindRoomNotFound}
	ErrRoomUnavailable  = &Error{Kind: KindRoomUnavailable}
	ErrRoomInUse        = &Error{Kind: KindRoomInUse}
	ErrNoPatientInRoom  = &Error{Kind: KindNoPatientInRoom}
	ErrAlreadyAdmitted  = &Error{Kind: KindAlreadyAdmitted}
	ErrDuplicatePatient = &Error{Kind: KindDuplicatePatient}
	ErrDuplicateRoom    = &Error{Kind: KindDuplicateRoom}
	ErrMissingFields    = &Error{Kind: KindMissingFields}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrContention       = &Error{Kind: KindContention}
)

func newError(kind Kind, op Op, message string, err error) *Error {
	return &Error{Kind: kind, Op: string(op), Message: message, Err: err}
}

// KindOf returns the Kind carried by err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
