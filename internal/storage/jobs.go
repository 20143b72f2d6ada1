package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oselz/taxon/internal/common"
	"github.com/oselz/taxon/internal/model"
)

// CreateJob persists a new job row.
func (s *SQLiteStorage) CreateJob(ctx context.Context, job *model.Job) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateJob(job); err != nil {
		return err
	}
	return s.createJobTx(ctx, s.db, job)
}

func (s *SQLiteStorage) createJobTx(ctx context.Context, q queryable, job *model.Job) error {
	filters, err := json.Marshal(job.Filters)
	if err != nil {
		return fmt.Errorf("failed to marshal job filters: %w", err)
	}
	config, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal job config: %w", err)
	}

	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO jobs (id, org_id, kind, status, filters, config,
		                  total_items, batch_size, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.OrgID, string(job.Kind), string(job.Status),
		string(filters), string(config), job.TotalItems, job.BatchSize,
		job.CreatedBy, createdAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob loads a job by ID. Returns common.ErrNotFound if it does not exist.
func (s *SQLiteStorage) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(jobID, "jobID"); err != nil {
		return nil, err
	}
	return s.getJobTx(ctx, s.db, jobID)
}

const jobColumns = `id, org_id, kind, status, filters, config,
	total_items, processed_items, successful, failed, skipped,
	current_offset, batch_size, error_count, COALESCE(error_message, ''),
	COALESCE(created_by, ''), created_at, started_at, paused_at,
	cancelled_at, completed_at`

func scanJob(scan func(...any) error) (*model.Job, error) {
	var job model.Job
	var kind, status, filters, config string

	err := scan(
		&job.ID, &job.OrgID, &kind, &status, &filters, &config,
		&job.TotalItems, &job.ProcessedItems, &job.Successful, &job.Failed,
		&job.Skipped, &job.CurrentOffset, &job.BatchSize, &job.ErrorCount,
		&job.ErrorMessage, &job.CreatedBy, &job.CreatedAt, &job.StartedAt,
		&job.PausedAt, &job.CancelledAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Kind = model.ItemKind(kind)
	job.Status = model.JobStatus(status)
	if err := json.Unmarshal([]byte(filters), &job.Filters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job filters: %w", err)
	}
	if err := json.Unmarshal([]byte(config), &job.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job config: %w", err)
	}
	return &job, nil
}

func (s *SQLiteStorage) getJobTx(ctx context.Context, q queryable, jobID string) (*model.Job, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)

	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// UpdateJobStatus performs a guarded status transition. It returns true if
// the row changed, false if the guard did not hold (an idempotent no-op).
func (s *SQLiteStorage) UpdateJobStatus(ctx context.Context, jobID string, from []model.JobStatus, to model.JobStatus) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(jobID, "jobID"); err != nil {
		return false, err
	}
	if len(from) == 0 {
		return false, fmt.Errorf("%w: from statuses", ErrEmptySlice)
	}
	return s.updateJobStatusTx(ctx, s.db, jobID, from, to)
}

func (s *SQLiteStorage) updateJobStatusTx(ctx context.Context, q queryable, jobID string, from []model.JobStatus, to model.JobStatus) (bool, error) {
	var stamp string
	switch to {
	case model.JobPaused:
		stamp = ", paused_at = CURRENT_TIMESTAMP"
	case model.JobCancelled:
		stamp = ", cancelled_at = CURRENT_TIMESTAMP"
	case model.JobCompleted:
		stamp = ", completed_at = CURRENT_TIMESTAMP"
	}

	placeholders := strings.Repeat("?,", len(from))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(from)+2)
	args = append(args, string(to), jobID)
	for _, f := range from {
		args = append(args, string(f))
	}

	result, err := q.ExecContext(ctx, `
		UPDATE jobs SET status = ?`+stamp+`
		WHERE id = ? AND status IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update job status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check job status update: %w", err)
	}
	return affected > 0, nil
}

// SetJobStartedAt stamps started_at exactly once; resume never overwrites it.
func (s *SQLiteStorage) SetJobStartedAt(ctx context.Context, jobID string, startedAt time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(jobID, "jobID"); err != nil {
		return err
	}
	return s.setJobStartedAtTx(ctx, s.db, jobID, startedAt)
}

func (s *SQLiteStorage) setJobStartedAtTx(ctx context.Context, q queryable, jobID string, startedAt time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE jobs SET started_at = ?
		WHERE id = ? AND started_at IS NULL
	`, startedAt, jobID)
	if err != nil {
		return fmt.Errorf("failed to set job start time: %w", err)
	}
	return nil
}

// UpdateJobProgress adds batch deltas to the running counters and records
// the new offset.
func (s *SQLiteStorage) UpdateJobProgress(ctx context.Context, jobID string, processed, successful, failed, skipped, offset int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(jobID, "jobID"); err != nil {
		return err
	}
	return s.updateJobProgressTx(ctx, s.db, jobID, processed, successful, failed, skipped, offset)
}

func (s *SQLiteStorage) updateJobProgressTx(ctx context.Context, q queryable, jobID string, processed, successful, failed, skipped, offset int) error {
	_, err := q.ExecContext(ctx, `
		UPDATE jobs
		SET processed_items = processed_items + ?,
		    successful = successful + ?,
		    failed = failed + ?,
		    skipped = skipped + ?,
		    current_offset = ?
		WHERE id = ?
	`, processed, successful, failed, skipped, offset, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// IncrementJobErrorCount bumps the error counter, retains the latest error
// message, and returns the new count.
func (s *SQLiteStorage) IncrementJobErrorCount(ctx context.Context, jobID, message string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(jobID, "jobID"); err != nil {
		return 0, err
	}
	return s.incrementJobErrorCountTx(ctx, s.db, jobID, message)
}

func (s *SQLiteStorage) incrementJobErrorCountTx(ctx context.Context, q queryable, jobID, message string) (int, error) {
	_, err := q.ExecContext(ctx, `
		UPDATE jobs
		SET error_count = error_count + 1, error_message = ?
		WHERE id = ?
	`, message, jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to increment job error count: %w", err)
	}

	var count int
	err = q.QueryRowContext(ctx, `SELECT error_count FROM jobs WHERE id = ?`, jobID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("job %s: %w", jobID, common.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read job error count: %w", err)
	}
	return count, nil
}

// CompleteJob transitions a still-running job to completed.
func (s *SQLiteStorage) CompleteJob(ctx context.Context, jobID string, completedAt time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(jobID, "jobID"); err != nil {
		return err
	}
	return s.completeJobTx(ctx, s.db, jobID, completedAt)
}

func (s *SQLiteStorage) completeJobTx(ctx context.Context, q queryable, jobID string, completedAt time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(model.JobCompleted), completedAt, jobID, string(model.JobRunning))
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// FailJob marks a job failed, retaining the final error message.
func (s *SQLiteStorage) FailJob(ctx context.Context, jobID, message string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(jobID, "jobID"); err != nil {
		return err
	}
	return s.failJobTx(ctx, s.db, jobID, message)
}

func (s *SQLiteStorage) failJobTx(ctx context.Context, q queryable, jobID, message string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_message = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, string(model.JobFailed), message, jobID)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

// ListRecentJobs returns an org's newest jobs.
func (s *SQLiteStorage) ListRecentJobs(ctx context.Context, orgID string, limit int) ([]model.Job, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(orgID, "orgID"); err != nil {
		return nil, err
	}
	return s.listRecentJobsTx(ctx, s.db, orgID, limit)
}

func (s *SQLiteStorage) listRecentJobsTx(ctx context.Context, q queryable, orgID string, limit int) ([]model.Job, error) {
	if limit < 1 {
		limit = 10
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE org_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
