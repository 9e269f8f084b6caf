package runconfig

import "errors"

// Sentinel errors for the runconfig package.
var (
	// ErrUnknownType is returned for a configuration type outside Types().
	ErrUnknownType = errors.New("unknown configuration type")

	// ErrInvalidConfig is returned when a configuration fails validation.
	ErrInvalidConfig = errors.New("invalid run configuration")

	// ErrNotRunConfiguration is returned when an XML document has no
	// <configuration> element.
	ErrNotRunConfiguration = errors.New("not an IntelliJ run configuration")
)
