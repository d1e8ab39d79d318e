package project

import (
	"context"
	"fmt"

	"github.com/dshills/piotask/internal/pio"
	"github.com/dshills/piotask/internal/task"
)

// Command names accepted by ExecuteCommand.
const (
	CommandBuild            = "build"
	CommandUpload           = "upload"
	CommandMonitor          = "monitor"
	CommandUploadAndMonitor = "uploadAndMonitor"
	CommandTest             = "test"
	CommandClean            = "clean"
)

var commandTasks = map[string]string{
	CommandBuild:            pio.TaskBuild,
	CommandUpload:           pio.TaskUpload,
	CommandMonitor:          pio.TaskMonitor,
	CommandUploadAndMonitor: pio.TaskUploadAndMonitor,
	CommandTest:             pio.TaskTest,
	CommandClean:            pio.TaskClean,
}

// Commands returns the accepted command names.
func Commands() []string {
	return []string{
		CommandBuild, CommandUpload, CommandMonitor,
		CommandUploadAndMonitor, CommandTest, CommandClean,
	}
}

// ExecuteCommand runs the first registered task named after the command
// in the active environment. The environment's tasks are loaded first if
// needed. When nothing matches the user is notified and ErrNoMatchingTask
// is returned.
func (m *Manager) ExecuteCommand(ctx context.Context, name string) error {
	taskName, ok := commandTasks[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	env, err := m.observer.GetActiveEnvName(ctx)
	if err != nil {
		return fmt.Errorf("resolving active environment: %w", err)
	}
	if err := m.ensureEnvLoaded(ctx, env); err != nil {
		return err
	}

	if t := FindTask(m.Tasks(), taskName, env); t != nil {
		return m.RunTask(ctx, t)
	}

	msg := fmt.Sprintf("No %q task found", taskName)
	if env != "" {
		msg += fmt.Sprintf(" for environment %q", env)
	}
	m.workbench.Notify(LevelWarning, msg)
	m.log.Warn("command matched no task", "command", name, "env", env)
	return fmt.Errorf("%w: %s in %q", ErrNoMatchingTask, taskName, env)
}

// ensureEnvLoaded loads env and rebuilds the registry synchronously, so a
// command can run an environment task nobody expanded yet.
func (m *Manager) ensureEnvLoaded(ctx context.Context, env string) error {
	if env == "" {
		return nil
	}
	if _, ok := m.observer.GetLoadedEnvTasks(env); ok {
		m.markExpanded(env)
		return nil
	}
	if err := m.observer.LoadEnvTasks(ctx, env); err != nil {
		return fmt.Errorf("loading tasks of %s: %w", env, err)
	}
	m.markExpanded(env)
	return m.Refresh(ctx, false)
}

// FindTask returns the first task with the given name and environment.
func FindTask(tasks []*task.ProjectTask, name, env string) *task.ProjectTask {
	for _, t := range tasks {
		if t.Name == name && t.CoreEnv == env {
			return t
		}
	}
	return nil
}
