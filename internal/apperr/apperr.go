// Package apperr defines the failure taxonomy of the check-in pipeline and
// its mapping to transport status codes.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is a machine-readable failure category.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindGeoData        Kind = "geo_data"
	KindTokenMismatch  Kind = "token_mismatch"
	KindOutOfRange     Kind = "out_of_range"
	KindConflict       Kind = "conflict"
	KindLedgerWrite    Kind = "ledger_write"
	KindConfiguration  Kind = "configuration"
	KindInternal       Kind = "internal"
)

// Error is a pipeline failure. Message is safe to show to end users; Err is
// the diagnostic cause and is only ever logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Distance is set for KindOutOfRange.
	Distance *int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Authentication(message string) *Error {
	return New(KindAuthentication, message)
}

func Validation(message string) *Error {
	return New(KindValidation, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

func GeoData(message string, err error) *Error {
	return Wrap(KindGeoData, message, err)
}

func TokenMismatch() *Error {
	return New(KindTokenMismatch, "Invalid QR code for this event")
}

// OutOfRange reports a reported position further than the geofence allows.
func OutOfRange(distance int) *Error {
	d := distance
	return &Error{
		Kind:     KindOutOfRange,
		Message:  "You are too far from the event location",
		Distance: &d,
	}
}

func Conflict(message string) *Error {
	return New(KindConflict, message)
}

func LedgerWrite(err error) *Error {
	return Wrap(KindLedgerWrite, "Check-in recorded, but the reward could not be issued", err)
}

func Configuration(message string, err error) *Error {
	return Wrap(KindConfiguration, message, err)
}

func Internal(err error) *Error {
	return Wrap(KindInternal, "Something went wrong, please try again", err)
}

// KindOf extracts the kind from any error. Errors that are not *Error are
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// From returns err as *Error, wrapping unknown errors as KindInternal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// HTTPStatus maps a kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindValidation, KindGeoData:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindTokenMismatch, KindOutOfRange:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindLedgerWrite, KindConfiguration, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
