// Package apperr defines the discriminated error taxonomy that every
// fallible core operation returns, per the Error-as-value design note: no
// component drives control flow by inspecting err.Error() strings.
package apperr

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind is one member of the closed error taxonomy.
type Kind string

const (
	KindInvalidAmount      Kind = "INVALID_AMOUNT"
	KindUnknownTicker      Kind = "UNKNOWN_TICKER"
	KindUnknownUser        Kind = "UNKNOWN_USER"
	KindUnknownOrder       Kind = "UNKNOWN_ORDER"
	KindInsufficient       Kind = "INSUFFICIENT"
	KindIllegalState       Kind = "ILLEGAL_STATE"
	KindUnauthenticated    Kind = "UNAUTHENTICATED"
	KindForbidden          Kind = "FORBIDDEN"
	KindDuplicate          Kind = "DUPLICATE"
	KindInvariantViolation Kind = "INVARIANT_VIOLATION"
	KindTransient          Kind = "TRANSIENT"
)

// Error is a taxonomy member with a human-readable message.
type Error struct {
	Kind    Kind
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

// New builds an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind that carries an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	ae, ok := err.(*Error)
	return ok && ae.Kind == kind
}

// KindOf extracts the Kind of err, if it is an *Error.
func KindOf(err error) (Kind, bool) {
	ae, ok := err.(*Error)
	if !ok {
		return "", false
	}
	return ae.Kind, true
}

// HTTPStatus maps a Kind to the HTTP status §7 assigns it. Kinds whose HTTP
// status is surface-dependent (Insufficient is 400 on one route, 422 on
// another) return the more common of the two; callers may override.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidAmount:
		return 422
	case KindUnknownTicker, KindUnknownUser, KindUnknownOrder:
		return 404
	case KindInsufficient:
		return 400
	case KindIllegalState:
		return 400
	case KindUnauthenticated:
		return 401
	case KindForbidden:
		return 403
	case KindDuplicate:
		return 409
	case KindInvariantViolation, KindTransient:
		return 500
	default:
		return 500
	}
}

// body is the wire shape of an error response (spec.md §7).
type body struct {
	Error string `json:"error"`
	Kind  Kind   `json:"kind,omitempty"`
}

// WriteHTTP writes err to w as a JSON error body with the status its Kind
// maps to. Errors that are not a *Error are reported as an opaque 500,
// since an untyped error reaching the HTTP boundary is itself a bug.
func WriteHTTP(w http.ResponseWriter, err error) {
	kind, ok := KindOf(err)
	status := http.StatusInternalServerError
	msg := "internal server error"
	if ok {
		status = HTTPStatus(kind)
		msg = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body{Error: msg, Kind: kind})
}
