package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/piotask/internal/prompt"
	"github.com/dshills/piotask/internal/serial"
)

func newPortCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "port",
		Short: "Show or change the serial port override",
		Long: `Show or change the serial port used for upload, monitor and test.
Without an override ("Auto") PlatformIO detects the port itself. The
override is remembered per project.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showPort(cmd, opts)
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the current override",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return showPort(cmd, opts)
			},
		},
		&cobra.Command{
			Use:   "set <port>",
			Short: "Set the override",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return switchPort(cmd, opts, args[0])
			},
		},
		&cobra.Command{
			Use:   "auto",
			Short: "Clear the override",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return switchPort(cmd, opts, "")
			},
		},
		&cobra.Command{
			Use:   "pick",
			Short: "Choose the override interactively",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := newApp(opts)
				if err != nil {
					return err
				}
				defer a.close()

				term := prompt.Terminal{In: cmd.InOrStdin(), Out: cmd.OutOrStdout()}
				changed, err := a.selector.Pick(cmd.Context(), a.portLister(), term)
				if err != nil {
					return err
				}
				if changed {
					fmt.Fprintf(cmd.OutOrStdout(), "Serial port: %s\n", a.selector.Label())
				}
				return nil
			},
		},
	)
	return cmd
}

func showPort(cmd *cobra.Command, opts *globalOptions) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.close()

	port := a.selector.Port()
	if port == "" {
		fmt.Fprintln(cmd.OutOrStdout(), serial.AutoLabel)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), port)
	return nil
}

func switchPort(cmd *cobra.Command, opts *globalOptions, port string) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.selector.SwitchPort(strings.TrimSpace(port)); err != nil {
		return fmt.Errorf("saving serial port: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serial port: %s\n", a.selector.Label())
	return nil
}

func newPortsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List connected serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			ports, err := a.portLister().ListPorts(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PORT\tDESCRIPTION\tHWID")
			for _, p := range ports {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Port, p.Description, p.HWID)
			}
			return tw.Flush()
		},
	}
}
