package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// pollInterval is how often the foreground classify command refreshes the
// progress bar from storage.
const pollInterval = 500 * time.Millisecond

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Create and run a classification job in the foreground",
		Long: `Create a classification job for the selected items and run it to
completion, showing live progress. Interrupting the run pauses the job; it
can be resumed later with "taxon jobs resume".`,
		RunE: runClassify,
	}
	addJobFlags(cmd)
	return cmd
}

func runClassify(cmd *cobra.Command, _ []string) error {
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

	if err := store.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	manager, adapter := buildManager(store)
	defer adapter.Close()

	ctx := cmd.Context()
	job, err := manager.CreateJob(ctx, org, currentUser(), kind,
		jobFiltersFromFlags(cmd), jobConfigFromFlags(cmd), batchSize)
	if err != nil {
		return err
	}
	if job.TotalItems == 0 {
		fmt.Println("No eligible items to classify.")
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- manager.ProcessJob(ctx, job.ID)
	}()

	bar := progressbar.NewOptions(job.TotalItems,
		progressbar.OptionSetDescription(fmt.Sprintf("classifying (%s)", kind)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionClearOnFinish(),
	)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var runErr error
poll:
	for {
		select {
		case runErr = <-done:
			break poll
		case <-ticker.C:
			current, err := store.GetJob(ctx, job.ID)
			if err != nil {
				continue
			}
			_ = bar.Set(current.ProcessedItems)
		}
	}
	_ = bar.Finish()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	// Final report from a fresh context; the run context may be cancelled.
	report, err := manager.GetJobStatus(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		return err
	}
	printJobStatus(report)
	return nil
}
