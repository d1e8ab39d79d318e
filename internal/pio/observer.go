package pio

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/dshills/piotask/internal/integration"
	"github.com/dshills/piotask/internal/logging"
	"github.com/dshills/piotask/internal/task"
)

// Target is a platform target reported by `pio run --list-targets`.
type Target struct {
	Name        string
	Title       string
	Description string
	Group       string
}

// projectConfig is the subset of platformio.ini the observer needs.
type projectConfig struct {
	envs        []string
	defaultEnvs []string
}

// Observer discovers environments and tasks of one PlatformIO project.
//
// Results are cached until ResetCache. Observer is safe for concurrent use.
type Observer struct {
	dir    string
	runner Runner
	log    *slog.Logger

	configs  *integration.Cache[string, projectConfig]
	envTasks *integration.Cache[string, []*task.ProjectTask]

	mu        sync.RWMutex
	activeEnv string
}

// ObserverOption configures an Observer.
type ObserverOption func(*Observer)

// WithObserverLogger sets the logger.
func WithObserverLogger(log *slog.Logger) ObserverOption {
	return func(o *Observer) {
		o.log = logging.Component(log, "pio")
	}
}

// NewObserver creates an observer for the project in dir.
func NewObserver(dir string, runner Runner, opts ...ObserverOption) *Observer {
	o := &Observer{
		dir:      dir,
		runner:   runner,
		log:      logging.Component(nil, "pio"),
		configs:  integration.NewCache[string, projectConfig](0),
		envTasks: integration.NewCache[string, []*task.ProjectTask](0),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProjectDir returns the project directory.
func (o *Observer) ProjectDir() string {
	return o.dir
}

// GetProjectEnvs returns the environment names in platformio.ini order.
func (o *Observer) GetProjectEnvs(ctx context.Context) ([]string, error) {
	cfg, err := o.config(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(cfg.envs), nil
}

// GetDefaultTasks returns the project-wide tasks.
func (o *Observer) GetDefaultTasks() []*task.ProjectTask {
	return DefaultTasks()
}

// GetLoadedEnvTasks returns the tasks of env if they were loaded.
func (o *Observer) GetLoadedEnvTasks(env string) ([]*task.ProjectTask, bool) {
	return o.envTasks.Get(env)
}

// LoadEnvTasks loads the tasks of env. A failure to list platform targets
// falls back to the generic catalogue.
func (o *Observer) LoadEnvTasks(ctx context.Context, env string) error {
	_, err := o.envTasks.GetOrSet(env, func() ([]*task.ProjectTask, error) {
		targets, err := o.listTargets(ctx, env)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			o.log.Warn("listing platform targets failed", "env", env, "error", err)
		}
		return EnvTasks(env, targets), nil
	})
	return err
}

// GetActiveEnvName returns the explicitly selected environment, else the
// first default environment, else the first environment. It returns "" for
// a project without environments.
func (o *Observer) GetActiveEnvName(ctx context.Context) (string, error) {
	cfg, err := o.config(ctx)
	if err != nil {
		return "", err
	}

	o.mu.RLock()
	selected := o.activeEnv
	o.mu.RUnlock()

	if selected != "" && slices.Contains(cfg.envs, selected) {
		return selected, nil
	}
	for _, env := range cfg.defaultEnvs {
		if slices.Contains(cfg.envs, env) {
			return env, nil
		}
	}
	if len(cfg.envs) > 0 {
		return cfg.envs[0], nil
	}
	return "", nil
}

// SetActiveEnv selects the active environment. An empty name restores the
// default choice.
func (o *Observer) SetActiveEnv(name string) {
	o.mu.Lock()
	o.activeEnv = name
	o.mu.Unlock()
}

// ResetCache drops the cached project configuration and environment tasks.
func (o *Observer) ResetCache() {
	o.configs.Clear()
	o.envTasks.Clear()
}

func (o *Observer) config(ctx context.Context) (projectConfig, error) {
	return o.configs.GetOrSet(o.dir, func() (projectConfig, error) {
		out, err := o.runner.Run(ctx, o.dir, "project", "config", "--json-output")
		if err != nil {
			return projectConfig{}, fmt.Errorf("reading project config: %w", err)
		}
		return parseProjectConfig(out)
	})
}

func (o *Observer) listTargets(ctx context.Context, env string) ([]Target, error) {
	out, err := o.runner.Run(ctx, o.dir, "run", "--list-targets", "--environment", env, "--json-output")
	if err != nil {
		return nil, err
	}
	return parseTargets(out)
}

// parseProjectConfig reads `pio project config --json-output`, a list of
// [section, [[option, value], ...]] pairs.
func parseProjectConfig(data []byte) (projectConfig, error) {
	if !gjson.ValidBytes(data) {
		return projectConfig{}, fmt.Errorf("reading project config: invalid JSON output")
	}

	var cfg projectConfig
	gjson.ParseBytes(data).ForEach(func(_, section gjson.Result) bool {
		name := section.Get("0").String()
		switch {
		case strings.HasPrefix(name, "env:"):
			cfg.envs = append(cfg.envs, strings.TrimPrefix(name, "env:"))
		case name == "platformio":
			section.Get("1").ForEach(func(_, opt gjson.Result) bool {
				if opt.Get("0").String() == "default_envs" {
					cfg.defaultEnvs = stringList(opt.Get("1"))
				}
				return true
			})
		}
		return true
	})
	return cfg, nil
}

// stringList accepts a JSON list or a comma separated string.
func stringList(v gjson.Result) []string {
	var out []string
	if v.IsArray() {
		for _, item := range v.Array() {
			if s := strings.TrimSpace(item.String()); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	for _, s := range strings.Split(v.String(), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseTargets(data []byte) ([]Target, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("listing targets: invalid JSON output")
	}
	var targets []Target
	gjson.ParseBytes(data).ForEach(func(_, item gjson.Result) bool {
		targets = append(targets, Target{
			Name:        item.Get("name").String(),
			Title:       item.Get("title").String(),
			Description: item.Get("description").String(),
			Group:       item.Get("group").String(),
		})
		return true
	})
	return targets, nil
}
