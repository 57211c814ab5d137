package monitoring

import "errors"

var (
	// ErrInvalidQualityLevel is returned for levels outside highest..minimal
	ErrInvalidQualityLevel = errors.New("invalid quality level")

	// ErrInvalidConfiguration is returned when invalid configuration is provided
	ErrInvalidConfiguration = errors.New("invalid monitoring configuration")

	// ErrProbeUnsupported is returned by probes the platform cannot back
	ErrProbeUnsupported = errors.New("probe not supported on this platform")

	// ErrServiceClosed is returned when operations are attempted on a closed service
	ErrServiceClosed = errors.New("monitoring service has been closed")
)
