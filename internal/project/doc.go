// Package project manages the PlatformIO tasks of one project.
//
// Manager ties the pieces together:
//
//   - a debounced refresh that rebuilds the task registry and re-registers
//     the task provider, the task view, the process-ended subscription and
//     the port status item, disposing the previous set first
//   - a session token bumped on every forced refresh so views can discard
//     renders started before the cache was invalidated
//   - RunTask, which makes a task active, lets the monitor controller close
//     conflicting serial monitors and dispatches the task to the host by key
//   - command dispatch, which resolves a fixed command name to the first task
//     of that name in the active environment
//
// A typical wiring:
//
//	obs := pio.NewObserver(dir, pio.CLI{Path: cfg.PIO().Path})
//	h := host.New(host.WithCommand(cfg.PIO().Path), host.WithDir(dir))
//	sel := serial.New(store, dir)
//	m := project.NewManager(dir, obs, h, sel, cfg)
//	defer m.Dispose()
//	if err := m.Refresh(ctx, false); err != nil { ... }
//	err = m.ExecuteCommand(ctx, project.CommandUpload)
package project
