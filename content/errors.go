package content

import "errors"

var (
	// ErrInvalidLevel is returned for levels outside preview..technical
	ErrInvalidLevel = errors.New("invalid content level")

	// ErrInvalidConfiguration is returned when invalid configuration is provided
	ErrInvalidConfiguration = errors.New("invalid content configuration")

	// ErrInvalidPosition is returned for non-positive or non-finite zoom scales
	ErrInvalidPosition = errors.New("invalid canvas position")

	// ErrManagerClosed is returned when operations are attempted on a closed manager
	ErrManagerClosed = errors.New("content manager has been closed")
)
