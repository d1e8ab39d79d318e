package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dshills/piotask/internal/config"
	"github.com/dshills/piotask/internal/integration"
	"github.com/dshills/piotask/internal/integration/host"
	"github.com/dshills/piotask/internal/logging"
	"github.com/dshills/piotask/internal/observability"
	"github.com/dshills/piotask/internal/pio"
	"github.com/dshills/piotask/internal/project"
	"github.com/dshills/piotask/internal/serial"
	"github.com/dshills/piotask/internal/state"
)

// app wires the components of one project.
type app struct {
	dir       string
	cfg       *config.Config
	log       *slog.Logger
	bus       *integration.EventBus
	registry  *prometheus.Registry
	runner    pio.Runner
	observer  *pio.Observer
	host      *host.Host
	selector  *serial.Selector
	workbench project.Workbench
	manager   *project.Manager
	cfgSub    integration.Disposable
}

// appOption adjusts the wiring before the manager is created.
type appOption func(*appSetup)

type appSetup struct {
	workbench func(bus *integration.EventBus, log *slog.Logger) project.Workbench
	output    io.Writer
}

func withWorkbench(fn func(bus *integration.EventBus, log *slog.Logger) project.Workbench) appOption {
	return func(s *appSetup) {
		s.workbench = fn
	}
}

func withTaskOutput(w io.Writer) appOption {
	return func(s *appSetup) {
		s.output = w
	}
}

func newApp(opts *globalOptions, appOpts ...appOption) (*app, error) {
	setup := appSetup{output: os.Stdout}
	for _, opt := range appOpts {
		opt(&setup)
	}

	dir, err := filepath.Abs(opts.projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolving project directory: %w", err)
	}

	paths := config.DefaultPaths(dir)
	if opts.configFile != "" {
		paths = []string{opts.configFile, filepath.Join(dir, config.ProjectFileName)}
	}
	cfg := config.New(paths...)
	if opts.logLevel != "" {
		if err := cfg.Set("logging.level", opts.logLevel); err != nil {
			return nil, err
		}
	}
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	lc := cfg.Logging()
	log := logging.New(logging.Options{Level: lc.Level, Format: lc.Format})

	statePath, err := state.DefaultPath()
	if err != nil {
		return nil, err
	}

	a := &app{
		dir:      dir,
		cfg:      cfg,
		log:      log,
		bus:      integration.NewEventBus(),
		registry: prometheus.NewRegistry(),
		runner:   pio.CLI{Path: cfg.PIO().Path},
	}
	a.observer = pio.NewObserver(dir, a.runner, pio.WithObserverLogger(log))
	a.host = host.New(
		host.WithCommand(cfg.PIO().Path),
		host.WithDir(dir),
		host.WithOutput(setup.output),
		host.WithEventBus(a.bus),
		host.WithLogger(log),
	)
	a.selector = serial.New(state.NewFileStore(statePath), dir,
		serial.WithLogger(log),
		serial.WithEventBus(a.bus),
	)

	a.workbench = project.NopWorkbench{}
	if setup.workbench != nil {
		a.workbench = setup.workbench(a.bus, log)
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.manager = project.NewManager(dir, a.observer, a.host, a.selector, cfg,
		project.WithLogger(log),
		project.WithWorkbench(a.workbench),
		project.WithMetrics(observability.NewMetrics(a.registry)),
		project.WithEventBus(a.bus),
		project.WithRefreshDelay(cfg.Tasks().RefreshDelay),
	)

	a.cfgSub = cfg.OnChange(func() {
		a.log.Info("configuration reloaded")
		a.bus.Publish(integration.EventConfigReloaded, cfg.Paths())
		a.manager.RequestRefresh()
	})
	return a, nil
}

// portLister lists serial ports through the configured pio.
func (a *app) portLister() pio.PortLister {
	return pio.PortLister{Runner: a.runner, Dir: a.dir}
}

// watch follows configuration and platformio.ini changes until ctx ends.
func (a *app) watch(ctx context.Context) error {
	if err := a.cfg.Watch(ctx, func(err error) {
		a.log.Warn("configuration reload failed", "error", err)
	}); err != nil {
		return err
	}
	return a.manager.WatchProject(ctx)
}

func (a *app) close() {
	a.cfgSub.Dispose()
	a.manager.Dispose()
	if err := a.host.Close(); err != nil {
		a.log.Warn("closing host", "error", err)
	}
	a.bus.Close()
}
