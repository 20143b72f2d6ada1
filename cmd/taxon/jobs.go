package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oselz/taxon/internal/model"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage classification jobs",
	}

	cmd.AddCommand(jobsCreateCmd())
	cmd.AddCommand(jobsRunCmd())
	cmd.AddCommand(jobsPauseCmd())
	cmd.AddCommand(jobsResumeCmd())
	cmd.AddCommand(jobsCancelCmd())
	cmd.AddCommand(jobsStatusCmd())
	cmd.AddCommand(jobsListCmd())

	return cmd
}

func jobsCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a classification job without running it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := kindFromFlags(cmd)
			if err != nil {
				return err
			}
			org, _ := cmd.Flags().GetString("org")
			batchSize, _ := cmd.Flags().GetInt("batch-size")

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			manager, adapter := buildManager(store)
			defer adapter.Close()

			job, err := manager.CreateJob(cmd.Context(), org, currentUser(), kind,
				jobFiltersFromFlags(cmd), jobConfigFromFlags(cmd), batchSize)
			if err != nil {
				return err
			}

			fmt.Printf("Created job %s (%d items)\n", job.ID, job.TotalItems)
			return nil
		},
	}
	addJobFlags(cmd)
	return cmd
}

func jobsRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run a queued job to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			manager, adapter := buildManager(store)
			defer adapter.Close()

			return manager.ProcessJob(cmd.Context(), args[0])
		},
	}
}

func jobsPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <job-id>",
		Short: "Pause a running job at its next batch boundary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			manager, adapter := buildManager(store)
			defer adapter.Close()

			if err := manager.PauseJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			slog.Info("Pause requested", "job_id", args[0])
			return nil
		},
	}
}

func jobsResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Resume a paused job from its saved offset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			manager, adapter := buildManager(store)
			defer adapter.Close()

			// Re-queue, then drive in the foreground so the process
			// lives as long as the job does.
			ctx := cmd.Context()
			ok, err := store.UpdateJobStatus(ctx, args[0],
				[]model.JobStatus{model.JobPaused}, model.JobQueued)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("job %s is not paused", args[0])
			}
			return manager.ProcessJob(ctx, args[0])
		},
	}
}

func jobsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			manager, adapter := buildManager(store)
			defer adapter.Close()

			if err := manager.CancelJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			slog.Info("Job cancelled", "job_id", args[0])
			return nil
		},
	}
}

func jobsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's progress and performance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			manager, adapter := buildManager(store)
			defer adapter.Close()

			report, err := manager.GetJobStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJobStatus(report)
			return nil
		},
	}
}

func jobsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			org, _ := cmd.Flags().GetString("org")
			limit, _ := cmd.Flags().GetInt("limit")

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			manager, adapter := buildManager(store)
			defer adapter.Close()

			jobs, err := manager.GetRecentJobs(cmd.Context(), org, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tSTATUS\tPROGRESS\tCREATED")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
					j.ID, j.Kind, j.Status,
					j.ProcessedItems, j.TotalItems,
					j.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("org", "", "organization ID (required)")
	cmd.Flags().Int("limit", 20, "maximum jobs to list")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func printJobStatus(report *model.JobStatusReport) {
	j := report.Job
	fmt.Printf("Job %s (%s)\n", j.ID, j.Kind)
	fmt.Printf("  Status:     %s\n", j.Status)
	fmt.Printf("  Progress:   %d/%d (%.1f%%)\n",
		report.Progress.ProcessedItems, report.Progress.TotalItems,
		report.Progress.PercentComplete)
	fmt.Printf("  Successful: %d  Failed: %d  Skipped: %d\n",
		j.Successful, j.Failed, j.Skipped)
	if report.Progress.ETASeconds > 0 {
		fmt.Printf("  ETA:        %s\n", time.Duration(report.Progress.ETASeconds)*time.Second)
	}
	if report.Performance.CompletedBatches > 0 {
		fmt.Printf("  Throughput: %.1f items/s over %d batches (~%d tokens)\n",
			report.Performance.ItemsPerSecond,
			report.Performance.CompletedBatches,
			report.Performance.TotalEstimatedTokens)
	}
	for provider, n := range report.Performance.BatchesByProvider {
		fmt.Printf("  Provider:   %s (%d batches)\n", provider, n)
	}
	if len(report.RecentErrors) > 0 {
		fmt.Println("  Recent errors:")
		for _, e := range report.RecentErrors {
			fmt.Printf("    batch %d at %s: %s\n",
				e.BatchNumber, e.OccurredAt.Format(time.RFC3339), e.Message)
		}
	}
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "cli"
}
