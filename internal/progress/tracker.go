// Package progress records per-batch progress rows and derives live job
// metrics from them. Rows are observational only; job control flow never
// reads them back.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oselz/taxon/internal/common"
	"github.com/oselz/taxon/internal/model"
	"github.com/oselz/taxon/internal/service"
)

// errorSummaryLimit caps how many recent batch errors a status report shows.
const errorSummaryLimit = 10

// Tracker writes batch progress rows and computes derived job metrics.
type Tracker struct {
	storage service.Storage
	logger  *slog.Logger
	now     func() time.Time
}

// NewTracker creates a progress tracker.
func NewTracker(storage service.Storage) *Tracker {
	return &Tracker{
		storage: storage,
		logger:  common.ComponentLogger("progress"),
		now:     time.Now,
	}
}

// StartBatch records that a batch is beginning and returns its row ID.
func (t *Tracker) StartBatch(ctx context.Context, jobID string, batchNumber, offset, size, itemCount int) (int64, error) {
	id, err := t.storage.CreateBatchProgress(ctx, &model.BatchProgress{
		JobID:        jobID,
		BatchNumber:  batchNumber,
		BatchOffset:  offset,
		BatchSize:    size,
		ItemsInBatch: itemCount,
		StartedAt:    t.now(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record batch start: %w", err)
	}
	return id, nil
}

// FinishBatch completes a batch row with the settled counts. A completed row
// is immutable; repeat calls for the same ID are no-ops at the storage layer.
func (t *Tracker) FinishBatch(ctx context.Context, id int64, result *model.BatchResult, provider string) error {
	completed := t.now()
	err := t.storage.CompleteBatchProgress(ctx, id, &model.BatchProgress{
		CompletedAt:     &completed,
		ProviderUsed:    provider,
		SuccessfulCount: result.Successful,
		FailedCount:     result.Failed,
		SkippedCount:    result.Skipped + result.PendingReview,
		DurationMS:      result.DurationMS,
		EstimatedTokens: result.EstimatedTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to record batch completion: %w", err)
	}
	return nil
}

// FailBatch marks a batch row failed with the given message.
func (t *Tracker) FailBatch(ctx context.Context, id int64, message string) error {
	if err := t.storage.FailBatchProgress(ctx, id, message); err != nil {
		return fmt.Errorf("failed to record batch failure: %w", err)
	}
	return nil
}

// GetProgress derives the live progress view for a job: percent complete and
// an ETA extrapolated from the average completed-batch duration.
func (t *Tracker) GetProgress(ctx context.Context, job *model.Job) (*model.JobProgress, error) {
	progress := &model.JobProgress{
		ProcessedItems: job.ProcessedItems,
		TotalItems:     job.TotalItems,
	}
	if job.TotalItems > 0 {
		progress.PercentComplete = float64(job.ProcessedItems) / float64(job.TotalItems) * 100
	}

	rows, err := t.storage.ListBatchProgress(ctx, job.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch progress: %w", err)
	}

	var (
		totalDuration time.Duration
		totalItems    int
		completed     int
	)
	for _, row := range rows {
		if row.CompletedAt == nil || row.ErrorMessage != "" {
			continue
		}
		completed++
		totalDuration += time.Duration(row.DurationMS) * time.Millisecond
		totalItems += row.ItemsInBatch
	}
	if completed == 0 || totalItems == 0 {
		return progress, nil
	}

	progress.AvgBatchDuration = totalDuration / time.Duration(completed)
	remaining := job.TotalItems - job.ProcessedItems
	if remaining > 0 {
		perItem := totalDuration / time.Duration(totalItems)
		progress.ETASeconds = int64((perItem * time.Duration(remaining)).Seconds())
	}
	return progress, nil
}

// GetPerformanceMetrics summarizes throughput across a job's completed
// batches.
func (t *Tracker) GetPerformanceMetrics(ctx context.Context, jobID string) (*model.PerformanceMetrics, error) {
	rows, err := t.storage.ListBatchProgress(ctx, jobID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch progress: %w", err)
	}

	metrics := &model.PerformanceMetrics{
		BatchesByProvider: make(map[string]int),
	}
	var (
		totalDurationMS int64
		totalItems      int
	)
	for _, row := range rows {
		if row.CompletedAt == nil || row.ErrorMessage != "" {
			continue
		}
		metrics.CompletedBatches++
		metrics.TotalEstimatedTokens += row.EstimatedTokens
		totalDurationMS += row.DurationMS
		totalItems += row.ItemsInBatch
		if row.ProviderUsed != "" {
			metrics.BatchesByProvider[row.ProviderUsed]++
		}
	}
	if metrics.CompletedBatches > 0 {
		metrics.AvgBatchDurationMS = totalDurationMS / int64(metrics.CompletedBatches)
	}
	if totalDurationMS > 0 {
		metrics.ItemsPerSecond = float64(totalItems) / (float64(totalDurationMS) / 1000)
	}
	return metrics, nil
}

// GetErrorSummary returns the most recent batch errors for a job, newest
// first.
func (t *Tracker) GetErrorSummary(ctx context.Context, jobID string) ([]model.BatchError, error) {
	rows, err := t.storage.ListBatchProgress(ctx, jobID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch progress: %w", err)
	}

	var summary []model.BatchError
	for _, row := range rows {
		if row.ErrorMessage == "" {
			continue
		}
		occurred := row.StartedAt
		if row.CompletedAt != nil {
			occurred = *row.CompletedAt
		}
		summary = append(summary, model.BatchError{
			OccurredAt:  occurred,
			Message:     row.ErrorMessage,
			BatchNumber: row.BatchNumber,
		})
		if len(summary) == errorSummaryLimit {
			break
		}
	}
	return summary, nil
}
