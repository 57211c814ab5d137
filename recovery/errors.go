package recovery

import "errors"

var (
	// ErrInvalidConfiguration is returned for a Config that fails validation.
	ErrInvalidConfiguration = errors.New("invalid recovery configuration")

	// ErrManagerClosed is returned by operations on a closed Manager.
	ErrManagerClosed = errors.New("recovery manager closed")

	// ErrPanic wraps a value recovered from a panicking guarded function.
	ErrPanic = errors.New("recovered panic")
)
