// Package host is the task execution host.
//
// Task providers register under a provider type. Executions are requested by
// the composite key "<providerType>: <taskId>" and the host resolves the key
// against the provider's current task list, so no task value ever crosses
// the boundary. Each execution is a supervised child process running in its
// own process group.
//
// Lifecycle notifications are published on an integration.EventBus:
//
//	integration.EventTaskStarted  payload *host.Execution
//	integration.EventTaskEnded    payload task.ProcessEnded
//
// OnProcessEnded is a typed shortcut for the latter.
package host
