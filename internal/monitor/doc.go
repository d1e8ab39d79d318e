// Package monitor implements serial monitor coexistence.
//
// A serial monitor holds the port open, so uploads and tests that need the
// same port fail while it runs. The Controller closes conflicting monitors
// before such a task is dispatched and reopens them after the task succeeds.
//
// The controller owns one state record:
//
//	active  the task most recently started through Begin
//	queue   executions terminated on active's behalf, awaiting resume
//
// Begin replaces active and clears the queue (abandon and replace).
// SuspendConflicts fills the queue; ResumeSuspended drains it last in,
// first out, after the configured settle delay, but only when active ended
// with exit code zero. A failed run leaves the queue in place until the next
// Begin discards it.
package monitor
