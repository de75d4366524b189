// Command prodsched runs the production job scheduler and administers its
// job definitions and execution history.
package main

import (
	"context"
	"fmt"
	"os"

	"prodsched/internal/app"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var version = "dev"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "prodsched",
	Short:         "Database-driven cron scheduler for production interchange jobs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")

	rootCmd.AddCommand(serveCmd, runCmd, jobsCmd, historyCmd, keysCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		for _, h := range errors.GetAllHints(err) {
			fmt.Fprintln(os.Stderr, "hint:", h)
		}
		os.Exit(1)
	}
}

// withApp builds the services without starting the daemon loops.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := app.NewApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(ctx, a)
}
