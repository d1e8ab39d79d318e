package host

import "errors"

// Sentinel errors returned by the host.
var (
	// ErrProviderNotFound is returned when no provider is registered for a key's type.
	ErrProviderNotFound = errors.New("task provider not found")

	// ErrTaskNotFound is returned when the provider has no task with the key's ID.
	ErrTaskNotFound = errors.New("task not found")

	// ErrHostClosed is returned after Close.
	ErrHostClosed = errors.New("host closed")
)
