package errors

import sterrors "errors"

var (
	ErrBusRequired          = sterrors.New("mbus: bus is required")
	ErrConfigRequired       = sterrors.New("mbus: config is required")
	ErrTransportRequired    = sterrors.New("mbus: transport is required")
	ErrHandlerRequired      = sterrors.New("mbus: listener handler is required")
	ErrRoutingKeyRequired   = sterrors.New("mbus: routing key is required")
	ErrPayloadTypeRequired  = sterrors.New("mbus: typed handler payload type is required")
	ErrPayloadPointerNeeded = sterrors.New("mbus: typed handler payload type must be a pointer")
)

// ConfigValidationError wraps the accumulated validation failures of a
// config so callers can detect them as a class.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "mbus: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err, passing nil through unchanged.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
