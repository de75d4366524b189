package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"prodsched/internal/app"
	"prodsched/internal/history"
	"prodsched/internal/storage"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and prune execution history",
}

var histFlags struct {
	job, status, trigger, since, until string
	limit, offset                      int
	olderThan                          time.Duration
	detail                             bool
}

func init() {
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyPruneCmd)

	f := historyListCmd.Flags()
	f.StringVar(&histFlags.job, "job", "", "filter by job id")
	f.StringVar(&histFlags.status, "status", "", "RUNNING, SUCCESS or FAILED")
	f.StringVar(&histFlags.trigger, "trigger", "", "SCHEDULED or MANUAL")
	f.StringVar(&histFlags.since, "since", "", "started at or after (YYYY-MM-DD or RFC3339)")
	f.StringVar(&histFlags.until, "until", "", "started before (YYYY-MM-DD or RFC3339)")
	f.IntVar(&histFlags.limit, "limit", storage.DefaultListLimit, "page size")
	f.IntVar(&histFlags.offset, "offset", 0, "page offset")

	historyShowCmd.Flags().BoolVar(&histFlags.detail, "detail", false, "print the full error detail")
	historyPruneCmd.Flags().DurationVar(&histFlags.olderThan, "older-than", 0, "retention (default: history.retention)")
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			loc := a.Scheduler().Location()
			f, err := listFilter(loc)
			if err != nil {
				return err
			}
			page, err := a.History().List(ctx, f)
			if err != nil {
				return err
			}
			printPage(cmd.OutOrStdout(), page, loc)
			return nil
		})
	},
}

func listFilter(loc *time.Location) (history.Filter, error) {
	f := history.Filter{JobID: histFlags.job, Limit: histFlags.limit, Offset: histFlags.offset}
	var err error
	if histFlags.status != "" {
		if f.Status, err = history.ParseStatus(histFlags.status); err != nil {
			return f, err
		}
	}
	if histFlags.trigger != "" {
		if f.Trigger, err = history.ParseTrigger(histFlags.trigger); err != nil {
			return f, err
		}
	}
	if f.Since, err = parseTimeFlag("since", histFlags.since, loc); err != nil {
		return f, err
	}
	if f.Until, err = parseTimeFlag("until", histFlags.until, loc); err != nil {
		return f, err
	}
	return f, nil
}

func parseTimeFlag(name, raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.Newf("--%s: want YYYY-MM-DD or RFC3339, got %q", name, raw)
	}
	return t, nil
}

func printPage(out io.Writer, page history.Page, loc *time.Location) {
	if len(page.Items) == 0 {
		fmt.Fprintln(out, "No executions.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tJOB\tTRIGGER\tSTATUS\tSTARTED\tDURATION\tERROR")
	for _, r := range page.Items {
		dur := "-"
		if r.Status.Terminal() {
			dur = (time.Duration(r.DurationMs) * time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.JobID, r.Trigger, r.Status,
			r.StartedAt.In(loc).Format("2006-01-02 15:04:05"), dur, clip(r.ErrorSummary, 80))
	}
	_ = tw.Flush()
	more := ""
	if page.HasMore() {
		more = " (more: --offset " + strconv.Itoa(page.Offset+len(page.Items)) + ")"
	}
	fmt.Fprintf(out, "%d of %d%s\n", len(page.Items), page.Total, more)
}

var historyShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Show one execution record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			r, err := a.History().Get(ctx, args[0])
			if err != nil {
				return err
			}
			loc := a.Scheduler().Location()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:       %s\njob:      %s (%s)\ntrigger:  %s\nstatus:   %s\nstarted:  %s\n",
				r.ID, r.JobID, r.JobName, r.Trigger, r.Status, r.StartedAt.In(loc).Format(time.RFC3339))
			if r.EndedAt != nil {
				fmt.Fprintf(out, "ended:    %s\nduration: %s\n", r.EndedAt.In(loc).Format(time.RFC3339), time.Duration(r.DurationMs)*time.Millisecond)
			}
			if r.ErrorSummary != "" {
				fmt.Fprintf(out, "error:    %s\n", r.ErrorSummary)
			}
			if histFlags.detail && r.ErrorDetail != "" {
				fmt.Fprintf(out, "\n%s\n", r.ErrorDetail)
			}
			return nil
		})
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished executions older than the retention",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			retention := histFlags.olderThan
			if retention <= 0 {
				retention = a.Config().Retention()
			}
			n, err := a.History().Prune(ctx, retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d executions older than %s\n", n, retention)
			return nil
		})
	},
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
