package errors

import (
	"fmt"
	"net/http"

	"github.com/pmghq/mbus/internal/runtime/jsoncodec"
)

// HTTPStatus resolves the status code for serving err over HTTP.
// Only the response-error family has dedicated codes; everything else,
// including unrecognized error types, resolves to 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidMessage:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// FromStatus reconstructs the typed error for a failed wire status on
// the calling side. The mapped statuses invert HTTPStatus; any other
// status becomes a response-processing error. msg is the remote's
// message text and body the raw response body, kept for caller
// inspection.
func FromStatus(status int, msg string, body []byte) *Error {
	var k Kind
	switch status {
	case http.StatusBadRequest:
		k = KindInvalidMessage
	case http.StatusUnauthorized:
		k = KindUnauthorized
	case http.StatusForbidden:
		k = KindForbidden
	case http.StatusNotFound:
		k = KindNotFound
	default:
		k = KindResponseProcessing
	}
	e := E(k, msg)
	e.Body = body
	return e
}

// FromStatusBody reconstitutes the typed error behind a failed wire
// status when only the raw response body is at hand: the body's
// message text when present, the standard status text otherwise.
func FromStatusBody(status int, body []byte) *Error {
	message := ""
	var parsed map[string]any
	if err := jsoncodec.Unmarshal(body, &parsed); err == nil {
		if msg, ok := parsed["message"].(string); ok {
			message = msg
		}
	}
	if message == "" {
		message = http.StatusText(status)
	}
	if message == "" {
		message = fmt.Sprintf("unexpected status %d", status)
	}
	return FromStatus(status, message, body)
}

// ResponseBody builds the JSON-ready body for serving err. When the
// error carries structured Details, those are served with a "message"
// field ensured; otherwise a body with only "message" is synthesized.
// Nothing beyond the message text leaks for unrecognized error types.
func ResponseBody(err error) map[string]any {
	e, ok := AsError(err)
	if !ok {
		return map[string]any{"message": err.Error()}
	}
	if len(e.Details) == 0 {
		return map[string]any{"message": e.Message}
	}
	body := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		body[k] = v
	}
	if _, present := body["message"]; !present {
		body["message"] = e.Message
	}
	return body
}
