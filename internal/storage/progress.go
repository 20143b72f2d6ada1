package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/oselz/taxon/internal/model"
)

// CreateBatchProgress inserts the started row for a batch and returns its ID.
func (s *SQLiteStorage) CreateBatchProgress(ctx context.Context, bp *model.BatchProgress) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateBatchProgress(bp); err != nil {
		return 0, err
	}
	return s.createBatchProgressTx(ctx, s.db, bp)
}

func (s *SQLiteStorage) createBatchProgressTx(ctx context.Context, q queryable, bp *model.BatchProgress) (int64, error) {
	startedAt := bp.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO batch_progress (job_id, batch_number, batch_offset, batch_size, items_in_batch, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, bp.JobID, bp.BatchNumber, bp.BatchOffset, bp.BatchSize, bp.ItemsInBatch, startedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to create batch progress: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read batch progress id: %w", err)
	}
	return id, nil
}

// CompleteBatchProgress fills in the numeric fields for a finished batch.
// Completed rows are immutable: a second call is a no-op.
func (s *SQLiteStorage) CompleteBatchProgress(ctx context.Context, id int64, bp *model.BatchProgress) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if bp == nil {
		return fmt.Errorf("%w: batch progress", ErrNilParameter)
	}
	return s.completeBatchProgressTx(ctx, s.db, id, bp)
}

func (s *SQLiteStorage) completeBatchProgressTx(ctx context.Context, q queryable, id int64, bp *model.BatchProgress) error {
	_, err := q.ExecContext(ctx, `
		UPDATE batch_progress
		SET successful_count = ?, failed_count = ?, skipped_count = ?,
		    duration_ms = ?, estimated_tokens = ?, provider_used = ?,
		    completed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND completed_at IS NULL
	`, bp.SuccessfulCount, bp.FailedCount, bp.SkippedCount,
		bp.DurationMS, bp.EstimatedTokens, bp.ProviderUsed, id)
	if err != nil {
		return fmt.Errorf("failed to complete batch progress: %w", err)
	}
	return nil
}

// FailBatchProgress closes a batch row with an error message.
func (s *SQLiteStorage) FailBatchProgress(ctx context.Context, id int64, message string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.failBatchProgressTx(ctx, s.db, id, message)
}

func (s *SQLiteStorage) failBatchProgressTx(ctx context.Context, q queryable, id int64, message string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE batch_progress
		SET error_message = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND completed_at IS NULL
	`, message, id)
	if err != nil {
		return fmt.Errorf("failed to fail batch progress: %w", err)
	}
	return nil
}

// ListBatchProgress returns a job's batch rows, newest first.
func (s *SQLiteStorage) ListBatchProgress(ctx context.Context, jobID string, limit int) ([]model.BatchProgress, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(jobID, "jobID"); err != nil {
		return nil, err
	}
	return s.listBatchProgressTx(ctx, s.db, jobID, limit)
}

func (s *SQLiteStorage) listBatchProgressTx(ctx context.Context, q queryable, jobID string, limit int) ([]model.BatchProgress, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, job_id, batch_number, batch_offset, batch_size,
		       items_in_batch, successful_count, failed_count, skipped_count,
		       duration_ms, estimated_tokens, COALESCE(provider_used, ''),
		       started_at, completed_at, COALESCE(error_message, '')
		FROM batch_progress
		WHERE job_id = ?
		ORDER BY batch_number DESC
		LIMIT ?
	`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch progress: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var batches []model.BatchProgress
	for rows.Next() {
		var bp model.BatchProgress
		if err := rows.Scan(
			&bp.ID, &bp.JobID, &bp.BatchNumber, &bp.BatchOffset, &bp.BatchSize,
			&bp.ItemsInBatch, &bp.SuccessfulCount, &bp.FailedCount, &bp.SkippedCount,
			&bp.DurationMS, &bp.EstimatedTokens, &bp.ProviderUsed,
			&bp.StartedAt, &bp.CompletedAt, &bp.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan batch progress: %w", err)
		}
		batches = append(batches, bp)
	}
	return batches, rows.Err()
}
