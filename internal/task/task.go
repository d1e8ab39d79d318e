// Package task defines the project task model shared by the task manager,
// the monitor coexistence controller and the execution host.
//
// A ProjectTask is a declarative description of a PlatformIO action (build,
// upload, monitor, test, clean, ...) with an ordered CLI argument list and an
// optional environment scope. Tasks are immutable once built by the project
// observer; helpers that need different arguments return a copy.
//
// # Identity
//
// Two task references are the same task when their argument lists are equal
// element by element. Names and IDs are not part of identity:
//
//	task.Equal(a, b) // order-sensitive argument comparison
//
// # Dispatch keys
//
// The host never receives a task value. Executions are requested by a
// serializable composite key made of the provider type and the task ID:
//
//	key := t.Key() // "PlatformIO: Upload (uno)"
package task

import (
	"errors"
	"slices"
	"strings"
)

// ProviderType is the fixed identifier under which project tasks are
// registered with the execution host.
const ProviderType = "PlatformIO"

// keySeparator joins provider type and task ID in a dispatch key.
const keySeparator = ": "

// ErrInvalidKey is returned when a dispatch key cannot be parsed.
var ErrInvalidKey = errors.New("invalid task key")

// ProjectTask describes a runnable project action.
type ProjectTask struct {
	// ID is an opaque identifier, unique within a registry build.
	ID string `json:"id"`

	// Name is the display name ("Build", "Upload", ...).
	Name string `json:"name"`

	// CoreEnv is the build environment the task is scoped to.
	// Empty for project-wide tasks.
	CoreEnv string `json:"coreEnv,omitempty"`

	// Description is a human-readable description.
	Description string `json:"description,omitempty"`

	// Args is the ordered PlatformIO CLI argument list.
	Args []string `json:"args"`

	IsBuild bool `json:"isBuild,omitempty"`
	IsClean bool `json:"isClean,omitempty"`
	IsTest  bool `json:"isTest,omitempty"`
}

// Key returns the composite dispatch key "<ProviderType>: <ID>".
func (t *ProjectTask) Key() string {
	return MakeKey(ProviderType, t.ID)
}

// Title returns the name qualified by environment, as shown in task pickers.
func (t *ProjectTask) Title() string {
	if t.CoreEnv == "" {
		return t.Name
	}
	return t.Name + " (" + t.CoreEnv + ")"
}

// HasArg reports whether arg appears anywhere in the argument list.
func (t *ProjectTask) HasArg(arg string) bool {
	if t == nil {
		return false
	}
	return slices.Contains(t.Args, arg)
}

// WithArgs returns a copy of the task carrying args.
func (t *ProjectTask) WithArgs(args []string) *ProjectTask {
	c := *t
	c.Args = slices.Clone(args)
	return &c
}

// Clone returns a deep copy of the task.
func (t *ProjectTask) Clone() *ProjectTask {
	if t == nil {
		return nil
	}
	return t.WithArgs(t.Args)
}

// IsUploadAndMonitor reports whether the task both uploads and then opens a
// monitor on the same port.
func (t *ProjectTask) IsUploadAndMonitor() bool {
	return t.HasArg("upload") && t.HasArg("monitor")
}

// MakeKey builds a dispatch key from a provider type and a task ID.
func MakeKey(providerType, id string) string {
	return providerType + keySeparator + id
}

// ParseKey splits a dispatch key into provider type and task ID.
func ParseKey(key string) (providerType, id string, err error) {
	providerType, id, ok := strings.Cut(key, keySeparator)
	if !ok || providerType == "" || id == "" {
		return "", "", ErrInvalidKey
	}
	return providerType, id, nil
}
