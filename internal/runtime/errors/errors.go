// Package errors defines the typed error taxonomy shared by all mbus
// transports and the HTTP status translation built on top of it.
//
// The taxonomy is flat: one Error struct discriminated by Kind. Kinds
// split into three groups with different wire behavior:
//
//   - KindValidation: malformed caller arguments. Raised synchronously,
//     never transmitted.
//   - the response-error family (KindInvalidMessage, KindUnauthorized,
//     KindForbidden, KindNotFound, KindResponseProcessing): application
//     outcomes with a defined HTTP status mapping.
//   - KindRequest: the call never reached the remote side (dial
//     failure, timeout, malformed response). Not status-coded.
package errors

import (
	sterrors "errors"
	"fmt"
)

// Kind classifies an Error. The zero value means "not one of ours".
type Kind string

const (
	// KindValidation marks malformed caller arguments: empty routing
	// key, unsupported listener method, out-of-range options. Local
	// only; a validation error never crosses the wire.
	KindValidation Kind = "validation"

	// KindInvalidMessage marks a payload the remote handler rejected.
	// Maps to HTTP 400.
	KindInvalidMessage Kind = "invalid_message"

	// KindUnauthorized maps to HTTP 401.
	KindUnauthorized Kind = "unauthorized"

	// KindForbidden maps to HTTP 403.
	KindForbidden Kind = "forbidden"

	// KindNotFound marks a missing resource or an unmatched route.
	// Maps to HTTP 404.
	KindNotFound Kind = "not_found"

	// KindResponseProcessing marks a reply that arrived but could not
	// be classified: any failed status outside the mapped set.
	KindResponseProcessing Kind = "response_processing"

	// KindRequest marks a transport-level failure: the request was
	// never answered with a status code at all.
	KindRequest Kind = "request"
)

// Error is the canonical error value exchanged between mbus transports
// and their callers.
//
// Message is the human-readable text and is what ends up in the
// "message" field of a wire response. Details optionally carries a
// structured body to serve instead of a synthesized one. Body holds the
// raw wire response on client-side reconstructed errors so callers can
// inspect what the remote actually sent. Cause is the wrapped
// underlying error for errors.Is / errors.As chains.
//
// The WithX helpers return shallow copies, so Error values can be
// shared safely.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Body    []byte
	Cause   error
}

// E constructs a new Error of the given kind.
func E(k Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg}
}

// Ef constructs a new Error with a formatted message.
func Ef(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Error renders as "<kind>: <message>".
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Cause }

// WithDetail returns a shallow copy of e with one extra key/value in
// Details. The map is always copied.
func (e *Error) WithDetail(k string, v any) *Error {
	cp := *e
	m := make(map[string]any, len(cp.Details)+1)
	for k0, v0 := range cp.Details {
		m[k0] = v0
	}
	m[k] = v
	cp.Details = m
	return &cp
}

// WithDetails returns a shallow copy of e with kv merged into Details,
// kv winning on key conflicts.
func (e *Error) WithDetails(kv map[string]any) *Error {
	if len(kv) == 0 {
		return e
	}
	cp := *e
	m := make(map[string]any, len(cp.Details)+len(kv))
	for k0, v0 := range cp.Details {
		m[k0] = v0
	}
	for k, v := range kv {
		m[k] = v
	}
	cp.Details = m
	return &cp
}

// WithBody returns a shallow copy of e carrying the raw wire body.
func (e *Error) WithBody(body []byte) *Error {
	cp := *e
	cp.Body = body
	return &cp
}

// WithCause returns a shallow copy of e with the underlying cause
// attached. A nil err returns e unchanged.
func (e *Error) WithCause(err error) *Error {
	if err == nil {
		return e
	}
	cp := *e
	cp.Cause = err
	return &cp
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if sterrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or "" when err is not an Error.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsInvalidMessage reports whether err is an invalid-message error.
func IsInvalidMessage(err error) bool { return KindOf(err) == KindInvalidMessage }

// IsUnauthorized reports whether err is an unauthorized error.
func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }

// IsForbidden reports whether err is a forbidden error.
func IsForbidden(err error) bool { return KindOf(err) == KindForbidden }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsResponseProcessing reports whether err is a response-processing
// error.
func IsResponseProcessing(err error) bool { return KindOf(err) == KindResponseProcessing }

// IsRequestError reports whether err is a transport-level request
// error.
func IsRequestError(err error) bool { return KindOf(err) == KindRequest }

// IsResponseError reports whether err belongs to the response-error
// family: the status-coded, application-level kinds. Publish absorbs
// exactly this family.
func IsResponseError(err error) bool {
	switch KindOf(err) {
	case KindInvalidMessage, KindUnauthorized, KindForbidden, KindNotFound, KindResponseProcessing:
		return true
	}
	return false
}
