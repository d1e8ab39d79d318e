package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/piotask/internal/integration"
	"github.com/dshills/piotask/internal/project"
	"github.com/dshills/piotask/internal/server"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the project's tasks over HTTP",
		Long: `Serve the task registry, command dispatch, serial port selection and a
websocket event stream for IDE front-ends. The registry is rebuilt when
platformio.ini or the configuration changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var wb *server.Workbench
			a, err := newApp(opts, withWorkbench(func(bus *integration.EventBus, log *slog.Logger) project.Workbench {
				wb = server.NewWorkbench(bus, log)
				return wb
			}))
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.watch(ctx); err != nil {
				return err
			}
			// A failed first refresh is reported on /healthz; the watcher or
			// POST /v1/refresh retries it.
			_ = a.manager.Refresh(ctx, false)
			if env, err := a.observer.GetActiveEnvName(ctx); err == nil && env != "" {
				if err := a.manager.LoadEnvTasks(ctx, env); err != nil {
					a.log.Warn("loading active environment failed", "env", env, "error", err)
				}
			}

			if addr == "" {
				addr = a.cfg.Server().Addr
			}
			srv := server.New(a.manager, wb, a.bus,
				server.WithLogger(a.log),
				server.WithPortLister(a.portLister()),
				server.WithGatherer(a.registry),
			)
			return srv.ListenAndServe(ctx, addr, shutdownTimeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from [server] addr)")
	return cmd
}
