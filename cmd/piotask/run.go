package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/piotask/internal/integration"
	"github.com/dshills/piotask/internal/integration/host"
	"github.com/dshills/piotask/internal/project"
)

func newRunCmd(opts *globalOptions) *cobra.Command {
	var env string

	cmd := &cobra.Command{
		Use:   "run <task-id>",
		Short: "Run a task by ID",
		Long: `Run a task by the ID shown by "piotask tasks", for example
"Upload" or "Upload (esp32)". Exits with the task's exit code.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAndWait(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				if env == "" {
					env = envFromID(args[0])
				}
				if err := loadEnvs(ctx, a, nonEmpty(env)); err != nil {
					return err
				}
				if err := a.manager.Refresh(ctx, false); err != nil {
					return err
				}
				return a.manager.RunTaskByID(ctx, args[0])
			})
		},
	}
	cmd.Flags().StringVarP(&env, "env", "e", "", "environment whose tasks to load (default: taken from the ID)")
	return cmd
}

func newExecCmd(opts *globalOptions) *cobra.Command {
	var env string

	cmd := &cobra.Command{
		Use:       "exec <command>",
		Short:     "Run a command in the active environment",
		Long:      "Run build, upload, monitor, uploadAndMonitor, test or clean for the active environment.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: project.Commands(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAndWait(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				if env = strings.TrimSpace(env); env != "" {
					if err := a.manager.SetActiveEnv(ctx, env); err != nil {
						return err
					}
				}
				if err := a.manager.Refresh(ctx, false); err != nil {
					return err
				}
				return a.manager.ExecuteCommand(ctx, args[0])
			})
		},
	}
	cmd.Flags().StringVarP(&env, "env", "e", "", "environment to run the command in (default: the active environment)")
	return cmd
}

// envFromID returns the environment of an ID such as "Upload (esp32)".
func envFromID(id string) string {
	i := strings.LastIndex(id, " (")
	if i < 0 || !strings.HasSuffix(id, ")") {
		return ""
	}
	return id[i+2 : len(id)-1]
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// runAndWait dispatches through start, waits for the started process to
// end and for suspended monitors to be reopened, and turns a non-zero
// exit code into an exitError. An interrupt terminates the process.
func runAndWait(parent context.Context, opts *globalOptions, start func(context.Context, *app) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(opts, withWorkbench(func(_ *integration.EventBus, _ *slog.Logger) project.Workbench {
		return cliWorkbench{}
	}))
	if err != nil {
		return err
	}
	defer a.close()

	// The first execution started after dispatch is the requested one;
	// monitors are only reopened once it has ended.
	started := make(chan *host.Execution, 1)
	sub := a.bus.Subscribe(integration.EventTaskStarted, func(ev integration.Event) {
		if e, ok := ev.Payload.(*host.Execution); ok {
			select {
			case started <- e:
			default:
			}
		}
	})
	defer sub.Dispose()

	if err := start(ctx, a); err != nil {
		return err
	}

	var exec *host.Execution
	select {
	case exec = <-started:
	default:
		return fmt.Errorf("no process was started")
	}

	select {
	case <-exec.Done():
	case <-ctx.Done():
		_ = exec.Terminate()
		<-exec.Done()
		return ctx.Err()
	}

	if err := a.manager.Controller().WaitIdle(ctx); err != nil {
		return err
	}
	if code := exec.ExitCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// cliWorkbench prints notifications to stderr.
type cliWorkbench struct {
	project.NopWorkbench
}

func (cliWorkbench) Notify(level, message string) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", level, message)
}
