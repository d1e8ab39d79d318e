package project

import (
	"errors"
	"fmt"
)

// Standard errors returned by the project package.
var (
	// ErrNoMatchingTask indicates a command found no task in the active environment.
	ErrNoMatchingTask = errors.New("no matching task")

	// ErrUnknownCommand indicates a command name outside the fixed set.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrTaskNotFound indicates no registered task has the requested ID.
	ErrTaskNotFound = errors.New("task not found")

	// ErrUnknownEnv indicates an environment the project does not define.
	ErrUnknownEnv = errors.New("unknown environment")

	// ErrManagerDisposed indicates the manager was disposed.
	ErrManagerDisposed = errors.New("manager disposed")
)

// RefreshError records a failed registry rebuild. The manager stays usable
// and the next refresh may succeed.
type RefreshError struct {
	// Session is the session token at the time of the failure.
	Session uint64
	// Err is the underlying discovery error.
	Err error
}

// Error implements the error interface.
func (e *RefreshError) Error() string {
	return fmt.Sprintf("refreshing tasks (session %d): %v", e.Session, e.Err)
}

// Unwrap returns the underlying error.
func (e *RefreshError) Unwrap() error {
	return e.Err
}
