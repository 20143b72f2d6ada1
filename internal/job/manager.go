// Package job owns the resumable classification job lifecycle: creation,
// the batch-by-batch drive loop, and cooperative pause, resume, and cancel.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oselz/taxon/internal/aiconfig"
	"github.com/oselz/taxon/internal/common"
	"github.com/oselz/taxon/internal/model"
	"github.com/oselz/taxon/internal/service"
)

const (
	// maxBatchSize caps how many items one batch may carry.
	maxBatchSize = 100
	// defaultBatchSize is used when a job is created without one.
	defaultBatchSize = 50
)

// Engine produces and persists classification decisions for one batch.
// Implemented by engine.ClassificationEngine.
type Engine interface {
	CategorizeBatch(ctx context.Context, items []model.EnrichedItem, jobCfg model.JobConfig, orgID, jobID string) (*model.BatchResult, error)
	TagBatch(ctx context.Context, items []model.EnrichedItem, jobCfg model.JobConfig, orgID, jobID string) (*model.BatchResult, error)
	ApplyResults(ctx context.Context, decided *model.BatchResult, kind model.ItemKind) (*model.BatchResult, error)
	OperationalDefaults(ctx context.Context, orgID string) aiconfig.Operational
}

// Tracker records per-batch progress and derives job metrics.
// Implemented by progress.Tracker.
type Tracker interface {
	StartBatch(ctx context.Context, jobID string, batchNumber, offset, size, itemCount int) (int64, error)
	FinishBatch(ctx context.Context, id int64, result *model.BatchResult, provider string) error
	FailBatch(ctx context.Context, id int64, message string) error
	GetProgress(ctx context.Context, job *model.Job) (*model.JobProgress, error)
	GetPerformanceMetrics(ctx context.Context, jobID string) (*model.PerformanceMetrics, error)
	GetErrorSummary(ctx context.Context, jobID string) ([]model.BatchError, error)
}

// Manager drives classification jobs. One manager may run many jobs
// concurrently, but each job runs in at most one drive loop at a time.
type Manager struct {
	storage service.Storage
	engine  Engine
	tracker Tracker
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	active map[string]bool
}

// NewManager creates a job manager.
func NewManager(storage service.Storage, engine Engine, tracker Tracker) *Manager {
	return &Manager{
		storage: storage,
		engine:  engine,
		tracker: tracker,
		logger:  common.ComponentLogger("job"),
		now:     time.Now,
		active:  make(map[string]bool),
	}
}

// CreateJob counts the eligible items and persists a new queued job.
func (m *Manager) CreateJob(ctx context.Context, orgID, createdBy string, kind model.ItemKind, filters model.JobFilters, cfg model.JobConfig, batchSize int) (*model.Job, error) {
	total, err := m.storage.CountEligibleItems(ctx, orgID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to count eligible items: %w", err)
	}
	if cfg.ItemLimit > 0 && total > cfg.ItemLimit {
		total = cfg.ItemLimit
	}
	// The org's resolved max_items caps a job regardless of what the caller
	// asked for.
	if max := m.engine.OperationalDefaults(ctx, orgID).MaxItems; max > 0 && total > max {
		m.logger.Info("capping job at configured max items",
			"org_id", orgID,
			"eligible", total,
			"max_items", max)
		total = max
	}

	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}

	job := &model.Job{
		ID:         uuid.NewString(),
		OrgID:      orgID,
		CreatedBy:  createdBy,
		Kind:       kind,
		Status:     model.JobQueued,
		Filters:    filters,
		Config:     cfg,
		TotalItems: total,
		BatchSize:  batchSize,
		CreatedAt:  m.now(),
	}
	if err := m.storage.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	m.logger.Info("job created",
		"job_id", job.ID,
		"org_id", orgID,
		"kind", kind,
		"total_items", total,
		"batch_size", batchSize)
	return job, nil
}

// ProcessJob runs a queued or paused job's drive loop until the job
// completes, fails its error budget, or an external transition stops it at a
// batch boundary. A paused job continues from its persisted offset. A second
// concurrent call for the same job returns ErrJobAlreadyRunning.
func (m *Manager) ProcessJob(ctx context.Context, jobID string) error {
	if !m.acquire(jobID) {
		return fmt.Errorf("job %s: %w", jobID, common.ErrJobAlreadyRunning)
	}
	defer m.release(jobID)

	ok, err := m.storage.UpdateJobStatus(ctx, jobID, []model.JobStatus{model.JobQueued, model.JobPaused}, model.JobRunning)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, common.ErrInvalidJobState)
	}
	// Stamped only on the first run; resume keeps the original start time.
	if err := m.storage.SetJobStartedAt(ctx, jobID, m.now()); err != nil {
		return fmt.Errorf("failed to stamp job start: %w", err)
	}

	return m.drive(ctx, jobID)
}

// drive is the batch loop. Job state is re-read every iteration so pause and
// cancel requests take effect at the next batch boundary.
func (m *Manager) drive(ctx context.Context, jobID string) error {
	batchNumber := 1
	var defaults *aiconfig.Operational
	for {
		if ctx.Err() != nil {
			m.park(ctx, jobID)
			return ctx.Err()
		}

		job, err := m.storage.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to reload job: %w", err)
		}
		switch job.Status {
		case model.JobCancelled:
			m.logger.Info("job cancelled, stopping", "job_id", jobID)
			return nil
		case model.JobPaused:
			m.logger.Info("job paused, stopping", "job_id", jobID)
			return nil
		case model.JobFailed:
			m.logger.Info("job failed, stopping", "job_id", jobID)
			return nil
		case model.JobRunning:
		default:
			return fmt.Errorf("job %s in state %s: %w", jobID, job.Status, common.ErrInvalidJobState)
		}

		if job.CurrentOffset >= job.TotalItems {
			break
		}

		if defaults == nil {
			d := m.engine.OperationalDefaults(ctx, job.OrgID)
			defaults = &d
		}

		limit := job.BatchSize
		if remaining := job.TotalItems - job.CurrentOffset; remaining < limit {
			limit = remaining
		}
		ids, err := m.storage.FetchItemIDs(ctx, job.OrgID, job.Filters, limit, job.CurrentOffset)
		if err != nil {
			if stop := m.recordBatchError(ctx, job, 0, fmt.Sprintf("failed to fetch items: %v", err)); stop {
				return nil
			}
			continue
		}
		if len(ids) == 0 {
			break
		}

		if err := m.runBatch(ctx, job, batchNumber, ids); err != nil {
			if ctx.Err() != nil {
				m.park(ctx, jobID)
			}
			return err
		}
		batchNumber++

		// The job config wins when set; otherwise the org's resolved
		// batch_delay_ms paces the loop.
		delay := time.Duration(job.Config.BatchDelayMS) * time.Millisecond
		if delay <= 0 {
			delay = defaults.BatchDelay
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
	}

	if err := m.storage.CompleteJob(ctx, jobID, m.now()); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	m.logger.Info("job completed", "job_id", jobID)
	return nil
}

// park moves a running job to paused on shutdown so a later run can resume
// it. The write must survive the cancelled run context.
func (m *Manager) park(ctx context.Context, jobID string) {
	parkCtx := context.WithoutCancel(ctx)
	if _, err := m.storage.UpdateJobStatus(parkCtx, jobID, []model.JobStatus{model.JobRunning}, model.JobPaused); err != nil {
		m.logger.Warn("failed to pause job on shutdown", "job_id", jobID, "error", err)
	} else {
		m.logger.Info("job parked for shutdown", "job_id", jobID)
	}
}

// runBatch processes one batch and records its outcome. Batch failures are
// charged against the job's error budget; the offset still advances so a
// poison batch cannot wedge the job.
func (m *Manager) runBatch(ctx context.Context, job *model.Job, batchNumber int, ids []string) error {
	progressID, err := m.tracker.StartBatch(ctx, job.ID, batchNumber, job.CurrentOffset, job.BatchSize, len(ids))
	if err != nil {
		m.logger.Warn("failed to record batch start", "job_id", job.ID, "error", err)
	}

	// Bookkeeping writes must land even when shutdown cancels the run
	// context mid-batch; otherwise finished work would be re-done on resume.
	bookCtx := context.WithoutCancel(ctx)

	result, err := m.executeBatch(ctx, job, ids)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-batch is not a batch failure; the caller parks
			// the job without charging the error budget.
			return ctx.Err()
		}
		if progressID != 0 {
			if failErr := m.tracker.FailBatch(ctx, progressID, err.Error()); failErr != nil {
				m.logger.Warn("failed to record batch failure", "job_id", job.ID, "error", failErr)
			}
		}
		m.recordBatchError(ctx, job, len(ids), err.Error())
		return nil
	}

	if progressID != 0 {
		provider := dominantProvider(result)
		if err := m.tracker.FinishBatch(bookCtx, progressID, result, provider); err != nil {
			m.logger.Warn("failed to record batch completion", "job_id", job.ID, "error", err)
		}
	}

	newOffset := job.CurrentOffset + len(ids)
	err = m.storage.UpdateJobProgress(bookCtx, job.ID,
		result.ItemsProcessed,
		result.Successful,
		result.Failed,
		result.Skipped+result.PendingReview,
		newOffset)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}

	m.logger.Info("batch finished",
		"job_id", job.ID,
		"batch", batchNumber,
		"items", result.ItemsProcessed,
		"successful", result.Successful,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"pending_review", result.PendingReview,
		"duration_ms", result.DurationMS)
	return nil
}

// executeBatch marks the items, generates decisions, and applies them.
func (m *Manager) executeBatch(ctx context.Context, job *model.Job, ids []string) (*model.BatchResult, error) {
	if err := m.storage.MarkProcessing(ctx, ids); err != nil {
		return nil, fmt.Errorf("failed to mark items processing: %w", err)
	}
	items, err := m.storage.EnrichItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to enrich items: %w", err)
	}

	var decided *model.BatchResult
	if job.Kind == model.KindTag {
		decided, err = m.engine.TagBatch(ctx, items, job.Config, job.OrgID, job.ID)
	} else {
		decided, err = m.engine.CategorizeBatch(ctx, items, job.Config, job.OrgID, job.ID)
	}
	if err != nil {
		return nil, err
	}

	return m.engine.ApplyResults(ctx, decided, job.Kind)
}

// recordBatchError charges one failure against the job's error budget,
// failing the job once the budget is spent. The offset advances regardless.
// Returns true when the job was failed and the loop must stop.
func (m *Manager) recordBatchError(ctx context.Context, job *model.Job, batchLen int, message string) bool {
	count, err := m.storage.IncrementJobErrorCount(ctx, job.ID, message)
	if err != nil {
		m.logger.Warn("failed to record job error", "job_id", job.ID, "error", err)
		count = job.ErrorCount + 1
	}

	maxRetries := job.Config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = model.DefaultJobConfig().MaxRetries
	}
	if count >= maxRetries {
		if err := m.storage.FailJob(ctx, job.ID, message); err != nil {
			m.logger.Warn("failed to fail job", "job_id", job.ID, "error", err)
		}
		m.logger.Warn("job failed, error budget exhausted",
			"job_id", job.ID,
			"errors", count,
			"last_error", message)
		return true
	}

	advance := batchLen
	if advance == 0 {
		advance = job.BatchSize
	}
	newOffset := job.CurrentOffset + advance
	if err := m.storage.UpdateJobProgress(ctx, job.ID, advance, 0, advance, 0, newOffset); err != nil {
		m.logger.Warn("failed to advance past failed batch", "job_id", job.ID, "error", err)
	}
	job.CurrentOffset = newOffset
	m.logger.Warn("batch failed, advancing",
		"job_id", job.ID,
		"errors", count,
		"error", message)
	return false
}

// PauseJob requests a pause; the drive loop honors it at the next batch
// boundary.
func (m *Manager) PauseJob(ctx context.Context, jobID string) error {
	ok, err := m.storage.UpdateJobStatus(ctx, jobID, []model.JobStatus{model.JobRunning}, model.JobPaused)
	if err != nil {
		return fmt.Errorf("failed to pause job: %w", err)
	}
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, common.ErrInvalidJobState)
	}
	m.logger.Info("job pause requested", "job_id", jobID)
	return nil
}

// ResumeJob re-queues a paused job and restarts its drive loop in the
// background. The restarted loop continues from the persisted offset.
func (m *Manager) ResumeJob(ctx context.Context, jobID string) error {
	ok, err := m.storage.UpdateJobStatus(ctx, jobID, []model.JobStatus{model.JobPaused}, model.JobQueued)
	if err != nil {
		return fmt.Errorf("failed to resume job: %w", err)
	}
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, common.ErrInvalidJobState)
	}

	go func() {
		// Outlive the request that triggered the resume.
		runCtx := context.WithoutCancel(ctx)
		if err := m.ProcessJob(runCtx, jobID); err != nil {
			m.logger.Error("resumed job run ended with error", "job_id", jobID, "error", err)
		}
	}()

	m.logger.Info("job resumed", "job_id", jobID)
	return nil
}

// CancelJob cancels a job in any non-terminal state. A running drive loop
// observes the cancellation at its next batch boundary.
func (m *Manager) CancelJob(ctx context.Context, jobID string) error {
	from := []model.JobStatus{model.JobQueued, model.JobRunning, model.JobPaused}
	ok, err := m.storage.UpdateJobStatus(ctx, jobID, from, model.JobCancelled)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, common.ErrInvalidJobState)
	}
	m.logger.Info("job cancelled", "job_id", jobID)
	return nil
}

// GetJobStatus joins the job row with tracker-derived metrics.
func (m *Manager) GetJobStatus(ctx context.Context, jobID string) (*model.JobStatusReport, error) {
	job, err := m.storage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	progress, err := m.tracker.GetProgress(ctx, job)
	if err != nil {
		return nil, err
	}
	metrics, err := m.tracker.GetPerformanceMetrics(ctx, jobID)
	if err != nil {
		return nil, err
	}
	errors, err := m.tracker.GetErrorSummary(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.JobStatusReport{
		Job:          *job,
		Progress:     *progress,
		Performance:  *metrics,
		RecentErrors: errors,
	}, nil
}

// GetRecentJobs lists an org's most recently created jobs.
func (m *Manager) GetRecentJobs(ctx context.Context, orgID string, limit int) ([]model.Job, error) {
	return m.storage.ListRecentJobs(ctx, orgID, limit)
}

func (m *Manager) acquire(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[jobID] {
		return false
	}
	m.active[jobID] = true
	return true
}

func (m *Manager) release(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, jobID)
}

// dominantProvider picks the provider that produced the most completed
// results in a batch, for the progress row.
func dominantProvider(result *model.BatchResult) string {
	counts := make(map[string]int)
	for _, r := range result.Results {
		if r.Provider != "" {
			counts[r.Provider]++
		}
	}
	best := ""
	for provider, n := range counts {
		if best == "" || n > counts[best] {
			best = provider
		}
	}
	return best
}
