package scroll

import "errors"

var (
	// ErrInvalidConfiguration is returned when invalid configuration is provided
	ErrInvalidConfiguration = errors.New("invalid scroll configuration")

	// ErrCoordinatorClosed is returned when operations are attempted on a closed coordinator
	ErrCoordinatorClosed = errors.New("scroll coordinator has been closed")
)
