package main

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run classification jobs on a cron schedule",
		Long: `Create and run a classification job for the selected items on every
tick of the given cron expression. Runs until interrupted. A tick is skipped
when the previous run for the same selection is still in flight.`,
		RunE: runSchedule,
	}
	addJobFlags(cmd)
	cmd.Flags().String("cron", "@hourly", "cron expression for job creation")
	return cmd
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	kind, err := kindFromFlags(cmd)
	if err != nil {
		return err
	}
	org, _ := cmd.Flags().GetString("org")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	spec, _ := cmd.Flags().GetString("cron")

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	manager, adapter := buildManager(store)
	defer adapter.Close()

	ctx := cmd.Context()
	filters := jobFiltersFromFlags(cmd)
	cfg := jobConfigFromFlags(cmd)

	running := make(chan struct{}, 1)
	scheduler := cron.New()
	_, err = scheduler.AddFunc(spec, func() {
		select {
		case running <- struct{}{}:
			defer func() { <-running }()
		default:
			slog.Warn("previous scheduled run still in flight, skipping tick")
			return
		}

		job, err := manager.CreateJob(ctx, org, currentUser(), kind, filters, cfg, batchSize)
		if err != nil {
			slog.Error("failed to create scheduled job", "error", err)
			return
		}
		if job.TotalItems == 0 {
			slog.Info("no eligible items, nothing to do", "job_id", job.ID)
			return
		}
		slog.Info("scheduled job starting", "job_id", job.ID, "items", job.TotalItems)
		if err := manager.ProcessJob(ctx, job.ID); err != nil {
			slog.Error("scheduled job run failed", "job_id", job.ID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	slog.Info("scheduler started", "cron", spec, "org", org, "kind", kind)
	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	return nil
}
