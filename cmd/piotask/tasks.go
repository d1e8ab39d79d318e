package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/piotask/internal/task"
)

func newTasksCmd(opts *globalOptions) *cobra.Command {
	var envs []string
	var all bool

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List project tasks",
		Long: `List the project-wide tasks followed by the tasks of every loaded
environment. The active environment is always loaded; use --env or --all
to load more.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if all {
				known, err := a.observer.GetProjectEnvs(ctx)
				if err != nil {
					return err
				}
				envs = known
			}
			if active, err := a.observer.GetActiveEnvName(ctx); err == nil && active != "" {
				envs = append([]string{active}, envs...)
			}
			if err := loadEnvs(ctx, a, envs); err != nil {
				return err
			}
			if err := a.manager.Refresh(ctx, false); err != nil {
				return err
			}
			return printTasks(cmd.OutOrStdout(), a.manager.Tasks())
		},
	}
	cmd.Flags().StringSliceVarP(&envs, "env", "e", nil, "also load the tasks of these environments")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "load the tasks of every environment")
	return cmd
}

func loadEnvs(ctx context.Context, a *app, envs []string) error {
	for _, env := range envs {
		if _, ok := a.observer.GetLoadedEnvTasks(env); ok {
			continue
		}
		if err := a.observer.LoadEnvTasks(ctx, env); err != nil {
			return fmt.Errorf("loading tasks of %s: %w", env, err)
		}
	}
	return nil
}

func printTasks(w io.Writer, tasks []*task.ProjectTask) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tENV\tCOMMAND")
	for _, t := range tasks {
		env := t.CoreEnv
		if env == "" {
			env = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\tpio %s\n", t.ID, env, strings.Join(t.Args, " "))
	}
	return tw.Flush()
}
