package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/kchartio/kchart/internal/di/providers"
	"github.com/kchartio/kchart/internal/domain"
	"github.com/kchartio/kchart/internal/scheduler"
	"github.com/kchartio/kchart/internal/service"
)

func (a *app) backfillCommand() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "backfill <slug>",
		Short: "Walk a chart's history backwards, fetching missing hours",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			sched := do.MustInvoke[*providers.SchedulerHandle](a.injector)
			hours, err := sched.Backfill(ctx, args[0], steps)
			for _, h := range hours {
				fmt.Fprintln(cmd.OutOrStdout(), domain.HourKey(h))
			}
			return err
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1, "number of missing hours to fetch")
	return cmd
}

func (a *app) tasksCommand() *cobra.Command {
	var (
		statuses []string
		chart    string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List scheduler tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := scheduler.ParseStatuses(statuses)
			if err != nil {
				return err
			}
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			sched := do.MustInvoke[*providers.SchedulerHandle](a.injector)
			tasks, err := sched.Tasks(cmd.Context(), filter, chart, limit)
			if err != nil {
				return err
			}
			return writeTasks(cmd, tasks)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&statuses, "status", nil, "filter by status; 'failed' selects every failed task")
	f.StringVar(&chart, "chart", "", "filter by chart slug")
	f.IntVar(&limit, "limit", 50, "maximum number of tasks")
	return cmd
}

func writeTasks(cmd *cobra.Command, tasks []*domain.FetchTask) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tCHART\tHOUR\tFAMILY\tSTATUS\tATTEMPTS\tUPDATED\tLAST ERROR")
	for _, t := range tasks {
		chart := t.ChartSlug
		if chart == "" {
			chart = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			t.ID, t.Kind, chart, domain.HourKey(t.Hour), t.Family, t.Status,
			t.Attempts, t.MaxRetries+1, t.UpdatedAt.Local().Format(time.DateTime), t.LastError)
	}
	return w.Flush()
}

func (a *app) reindexCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the catalog search index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			search := do.MustInvoke[*service.SearchService](a.injector)
			if err := search.ReindexAll(cmd.Context()); err != nil {
				return err
			}
			count, err := search.DocumentCount()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents\n", count)
			return nil
		},
	}
}
