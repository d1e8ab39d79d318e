// Package integration provides the host-facing plumbing shared by the task
// manager and its collaborators.
//
// # Components
//
//   - Debouncer: coalesces bursts of triggers into one callback after a quiet
//     period, holding at most one pending timer
//   - Timer: a cancellable one-shot timer value
//   - Disposables: a set of registrations torn down together, in reverse order
//   - EventBus: publish-subscribe hub for task lifecycle, monitor, refresh and
//     port events; subscriptions return Disposable handles
//   - Cache: TTL cache for discovery results
//
// # Registration lifecycle
//
// Every host-side registration (task provider, view, status item, event
// subscription) is represented by a Disposable. Owners collect them in a
// Disposables set and call DisposeAll before rebuilding:
//
//	var regs integration.Disposables
//	regs.DisposeAll()
//	regs.Add(host.RegisterProvider(task.ProviderType, provider))
//	regs.Add(bus.Subscribe(integration.EventTaskEnded, onEnded))
//
// # Subpackages
//
//   - process: child process supervision
//   - host: the task execution host backed by the PlatformIO CLI
package integration
