package main

import (
	"context"
	"fmt"
	"os/user"
	"strings"

	"prodsched/internal/app"

	"github.com/spf13/cobra"
)

var (
	runFrom string
	runTo   string
)

var runCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Execute a job once, now, and record it as MANUAL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			var from, to *string
			if cmd.Flags().Changed("from") {
				from = &runFrom
			}
			if cmd.Flags().Changed("to") {
				to = &runTo
			}
			if err := a.Admin().ExecuteManually(ctx, args[0], from, to); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s finished\n", args[0])
			return nil
		})
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List implementation keys a definition may reference",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			for _, k := range a.Registry().Keys() {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		})
	},
}

func init() {
	runCmd.Flags().StringVar(&runFrom, "from", "", "range start, YYYY-MM-DD (default today)")
	runCmd.Flags().StringVar(&runTo, "to", "", "range end, YYYY-MM-DD (default today)")
}

func currentActor() string {
	if u, err := user.Current(); err == nil && strings.TrimSpace(u.Username) != "" {
		return u.Username
	}
	return "cli"
}
