package sandbox

import "errors"

var (
	// ErrMissingCredential is returned before any remote call when the
	// runtime has no credential configured.
	ErrMissingCredential = errors.New("sandbox credential is not configured")

	// ErrUnsupportedEnvironment is returned for tags outside the closed
	// environment set. It indicates a programming error upstream.
	ErrUnsupportedEnvironment = errors.New("unsupported sandbox environment")

	// ErrCommandFailed is returned when a remote command exits non-zero.
	ErrCommandFailed = errors.New("sandbox command failed")

	// ErrCommandTimeout is returned when a remote command exceeds its
	// allotted time.
	ErrCommandTimeout = errors.New("sandbox command timed out")

	// ErrPortInUse is returned when a host port is already held by another
	// sandbox of the same runtime.
	ErrPortInUse = errors.New("sandbox port is in use")
)
