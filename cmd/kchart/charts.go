package main

import (
	"fmt"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/kchartio/kchart/internal/di/providers"
	"github.com/kchartio/kchart/internal/domain"
	"github.com/kchartio/kchart/internal/service"
)

func (a *app) updateCommand() *cobra.Command {
	var (
		hourFlag  string
		force     bool
		aggregate bool
		dryRun    bool
		queue     bool
	)

	cmd := &cobra.Command{
		Use:   "update <slug>",
		Short: "Fetch and ingest one chart",
		Long: "Fetch a vendor chart for the live hour, or --hour for services that keep history, " +
			"resolve its songs and store the rankings. With --queue the fetch goes through the " +
			"task queue and retry policy instead.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hour, err := parseHour(hourFlag)
			if err != nil {
				return err
			}
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			slug := args[0]

			if queue {
				sched := do.MustInvoke[*providers.SchedulerHandle](a.injector)
				target := domain.TruncateHour(time.Now())
				if hour != nil {
					target = *hour
				}
				batch, err := sched.EnqueueChart(ctx, slug, target, domain.TaskFamilyManual, force)
				if err != nil {
					return err
				}
				if _, err := sched.RunPending(ctx); err != nil {
					return err
				}
				tasks, err := sched.Tasks(ctx, nil, slug, len(batch.Tasks)+1)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), tasks)
			}

			charts := do.MustInvoke[*service.ChartService](a.injector)
			result, err := charts.Update(ctx, slug, service.UpdateOptions{Hour: hour, Force: force, DryRun: dryRun})
			if err != nil {
				return err
			}
			if aggregate && !dryRun {
				aggregates := do.MustInvoke[*service.AggregateService](a.injector)
				agg, err := aggregates.Aggregate(ctx, result.Hour, true)
				if err != nil {
					return fmt.Errorf("aggregate %s: %w", domain.HourKey(result.Hour), err)
				}
				if agg == nil {
					a.logger().WithChart(slug).WithHour(result.Hour).Warn("no charts to aggregate")
				}
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	f := cmd.Flags()
	f.StringVar(&hourFlag, "hour", "", "hour to fetch as YYYYMMDDHH in Asia/Seoul time (default live)")
	f.BoolVar(&force, "force", false, "re-ingest even when the stored chart is complete")
	f.BoolVar(&aggregate, "aggregate", false, "regenerate the aggregate for the fetched hour")
	f.BoolVar(&dryRun, "dry-run", false, "fetch and print raw rows without resolving or writing")
	f.BoolVar(&queue, "queue", false, "run the fetch as a queued task with retries")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "queue")
	return cmd
}

func (a *app) refreshCommand() *cobra.Command {
	var (
		dryRun bool
		queue  bool
	)

	cmd := &cobra.Command{
		Use:   "refresh <slug>...",
		Short: "Refetch incomplete charts and regenerate their aggregates",
		Long: "Refetch every stored hour of the given charts that holds fewer than a full chart. " +
			"With --queue each hour becomes a forced fetch task that retries and rebuilds its " +
			"aggregate through the scheduler.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if queue {
				sched := do.MustInvoke[*providers.SchedulerHandle](a.injector)
				queued := make(map[string]int, len(args))
				for _, slug := range args {
					n, err := sched.EnqueueRefetch(ctx, slug)
					if err != nil {
						return fmt.Errorf("refresh %s: %w", slug, err)
					}
					queued[slug] = n
				}
				ran, err := sched.RunPending(ctx)
				if err != nil {
					return err
				}
				a.logger().WithField("tasks", ran).Info("refresh tasks finished")
				return printJSON(cmd.OutOrStdout(), queued)
			}

			charts := do.MustInvoke[*service.ChartService](a.injector)
			results := make([]*service.RefreshResult, 0, len(args))
			for _, slug := range args {
				res, err := charts.Refresh(ctx, slug, service.RefreshOptions{DryRun: dryRun})
				if err != nil {
					return fmt.Errorf("refresh %s: %w", slug, err)
				}
				if len(res.Failed) > 0 {
					a.logger().WithChart(slug).Warn("some hours could not be refetched", "failed", len(res.Failed))
				}
				results = append(results, res)
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "fetch incomplete hours without writing or aggregating")
	cmd.Flags().BoolVar(&queue, "queue", false, "queue forced refetch tasks and run them with retries")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "queue")
	return cmd
}

func (a *app) aggregateCommand() *cobra.Command {
	var (
		hourFlag   string
		regenerate bool
	)

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Compute the weighted aggregate chart for an hour",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hour, err := parseHour(hourFlag)
			if err != nil {
				return err
			}
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			target := domain.TruncateHour(time.Now())
			if hour != nil {
				target = *hour
			}

			aggregates := do.MustInvoke[*service.AggregateService](a.injector)
			agg, err := aggregates.Aggregate(ctx, target, regenerate)
			if err != nil {
				return err
			}
			if agg == nil {
				a.logger().WithHour(target).Warn("no charts to aggregate")
				return nil
			}
			if err := aggregates.MakeDurable(ctx, target); err != nil {
				return err
			}
			snap, err := aggregates.Snapshot(ctx, target)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}

	cmd.Flags().StringVar(&hourFlag, "hour", "", "hour as YYYYMMDDHH in Asia/Seoul time (default current hour)")
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "recompute even when the aggregate exists")
	return cmd
}
