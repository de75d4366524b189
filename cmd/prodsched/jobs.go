package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"prodsched/internal/admin"
	"prodsched/internal/app"
	"prodsched/internal/storage"
	"prodsched/internal/task/trigger"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage job definitions",
}

var jobFlags struct {
	id, name, desc, cron, key, actor string
	enabled                          bool
}

func init() {
	jobsCmd.AddCommand(jobsListCmd, jobsAddCmd, jobsUpdateCmd, jobsEnableCmd, jobsDisableCmd, jobsRmCmd)

	for _, c := range []*cobra.Command{jobsAddCmd, jobsUpdateCmd} {
		f := c.Flags()
		f.StringVar(&jobFlags.name, "name", "", "display name")
		f.StringVar(&jobFlags.desc, "desc", "", "description")
		f.StringVar(&jobFlags.cron, "cron", "", "6-field cron expression (sec min hour dom month dow)")
		f.StringVar(&jobFlags.key, "key", "", "implementation key (see `prodsched keys`)")
		f.BoolVar(&jobFlags.enabled, "enabled", false, "arm the job")
	}
	jobsAddCmd.Flags().StringVar(&jobFlags.id, "id", "", "job id (default: generated uuid)")
	_ = jobsAddCmd.MarkFlagRequired("name")
	_ = jobsAddCmd.MarkFlagRequired("cron")
	_ = jobsAddCmd.MarkFlagRequired("key")
	jobsCmd.PersistentFlags().StringVar(&jobFlags.actor, "actor", currentActor(), "recorded as created_by/updated_by")
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List job definitions with their next fire",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			defs, err := a.Admin().ListJobs(ctx)
			if err != nil {
				return err
			}
			if len(defs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No job definitions.")
				return nil
			}
			printJobs(cmd.OutOrStdout(), defs, a)
			return nil
		})
	},
}

func printJobs(out io.Writer, defs []storage.JobDefinition, a *app.App) {
	loc := a.Scheduler().Location()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCRON\tKEY\tENABLED\tNEXT")
	for _, d := range defs {
		next := "-"
		if t, err := trigger.Parse(d.CronExpr); err == nil && d.Enabled {
			next = t.Next(time.Now().In(loc)).Format("2006-01-02 15:04:05 MST")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n", d.ID, d.Name, d.CronExpr, d.ImplKey, d.Enabled, next)
	}
	_ = tw.Flush()
}

var jobsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a job definition",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			def, err := a.Admin().CreateJob(ctx, admin.JobInput{
				ID:          jobFlags.id,
				Name:        jobFlags.name,
				Description: jobFlags.desc,
				CronExpr:    jobFlags.cron,
				ImplKey:     jobFlags.key,
				Enabled:     jobFlags.enabled,
				Actor:       jobFlags.actor,
			})
			if err != nil {
				return err
			}
			return saved(cmd, "created", def)
		})
	},
}

var jobsUpdateCmd = &cobra.Command{
	Use:   "update <job-id>",
	Short: "Change fields of a job definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := admin.JobPatch{Actor: jobFlags.actor}
		f := cmd.Flags()
		if f.Changed("name") {
			p.Name = &jobFlags.name
		}
		if f.Changed("desc") {
			p.Description = &jobFlags.desc
		}
		if f.Changed("cron") {
			p.CronExpr = &jobFlags.cron
		}
		if f.Changed("key") {
			p.ImplKey = &jobFlags.key
		}
		if f.Changed("enabled") {
			p.Enabled = &jobFlags.enabled
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			def, err := a.Admin().UpdateJob(ctx, args[0], p)
			if err != nil {
				return err
			}
			return saved(cmd, "updated", def)
		})
	},
}

func toggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: use + " a job definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				def, err := a.Admin().SetEnabled(ctx, args[0], enabled, jobFlags.actor)
				if err != nil {
					return err
				}
				return saved(cmd, use+"d", def)
			})
		},
	}
}

var (
	jobsEnableCmd  = toggleCmd("enable", true)
	jobsDisableCmd = toggleCmd("disable", false)
)

var jobsRmCmd = &cobra.Command{
	Use:     "rm <job-id>",
	Aliases: []string{"remove", "delete"},
	Short:   "Delete a job definition (history is kept)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Admin().DeleteJob(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s deleted\n", args[0])
			fmt.Fprintln(cmd.OutOrStdout(), "send SIGHUP to a running daemon to apply")
			return nil
		})
	},
}

func saved(cmd *cobra.Command, verb string, def storage.JobDefinition) error {
	fmt.Fprintf(cmd.OutOrStdout(), "job %s %s (enabled=%t)\n", def.ID, verb, def.Enabled)
	fmt.Fprintln(cmd.OutOrStdout(), "send SIGHUP to a running daemon to apply")
	return nil
}
