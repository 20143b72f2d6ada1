package job

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oselz/taxon/internal/aiconfig"
	"github.com/oselz/taxon/internal/common"
	"github.com/oselz/taxon/internal/model"
	"github.com/oselz/taxon/internal/storage"
)

const testOrg = "org-1"

// fakeEngine scripts per-batch outcomes. The hook runs once per batch with
// the batch index (starting at 1) and may trigger manager calls mid-batch.
type fakeEngine struct {
	hook     func(batch int, items []model.EnrichedItem) (*model.BatchResult, error)
	defaults aiconfig.Operational
	batches  int
}

func (f *fakeEngine) CategorizeBatch(_ context.Context, items []model.EnrichedItem, _ model.JobConfig, _, _ string) (*model.BatchResult, error) {
	f.batches++
	if f.hook != nil {
		return f.hook(f.batches, items)
	}
	return completedResult(items), nil
}

func (f *fakeEngine) TagBatch(ctx context.Context, items []model.EnrichedItem, cfg model.JobConfig, orgID, jobID string) (*model.BatchResult, error) {
	return f.CategorizeBatch(ctx, items, cfg, orgID, jobID)
}

func (f *fakeEngine) ApplyResults(_ context.Context, decided *model.BatchResult, _ model.ItemKind) (*model.BatchResult, error) {
	return decided, nil
}

func (f *fakeEngine) OperationalDefaults(context.Context, string) aiconfig.Operational {
	return f.defaults
}

func completedResult(items []model.EnrichedItem) *model.BatchResult {
	result := &model.BatchResult{ItemsProcessed: len(items)}
	for _, item := range items {
		result.Results = append(result.Results, model.ClassificationResult{
			ItemID:     item.ID,
			Status:     model.ResultCompleted,
			Provider:   "anthropic",
			Confidence: 0.9,
		})
		result.Successful++
	}
	return result
}

// fakeTracker records batch bookkeeping calls and serves scripted metrics.
type fakeTracker struct {
	started  int
	finished int
	failed   int
	progress model.JobProgress
	metrics  model.PerformanceMetrics
	errors   []model.BatchError
}

func (f *fakeTracker) StartBatch(context.Context, string, int, int, int, int) (int64, error) {
	f.started++
	return int64(f.started), nil
}

func (f *fakeTracker) FinishBatch(context.Context, int64, *model.BatchResult, string) error {
	f.finished++
	return nil
}

func (f *fakeTracker) FailBatch(context.Context, int64, string) error {
	f.failed++
	return nil
}

func (f *fakeTracker) GetProgress(context.Context, *model.Job) (*model.JobProgress, error) {
	return &f.progress, nil
}

func (f *fakeTracker) GetPerformanceMetrics(context.Context, string) (*model.PerformanceMetrics, error) {
	return &f.metrics, nil
}

func (f *fakeTracker) GetErrorSummary(context.Context, string) ([]model.BatchError, error) {
	return f.errors, nil
}

func newTestManager(t *testing.T, engine Engine, tracker Tracker) (*Manager, *storage.SQLiteStorage) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	return NewManager(store, engine, tracker), store
}

func seedManagerItems(t *testing.T, store *storage.SQLiteStorage, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		require.NoError(t, store.SeedItem(context.Background(), testOrg, &model.EnrichedItem{
			ID:   fmt.Sprintf("item-%03d", i),
			Name: "Widget",
		}))
	}
}

func fastJobConfig() model.JobConfig {
	cfg := model.DefaultJobConfig()
	cfg.BatchDelayMS = 0
	return cfg
}

func createManagerJob(t *testing.T, m *Manager, cfg model.JobConfig, batchSize int) *model.Job {
	t.Helper()
	job, err := m.CreateJob(context.Background(), testOrg, "tester", model.KindCategory, model.JobFilters{}, cfg, batchSize)
	require.NoError(t, err)
	return job
}

func TestCreateJobCountsAndClamps(t *testing.T) {
	m, store := newTestManager(t, &fakeEngine{}, &fakeTracker{})
	seedManagerItems(t, store, 10)

	t.Run("counts eligible items", func(t *testing.T) {
		job := createManagerJob(t, m, fastJobConfig(), 25)
		assert.Equal(t, 10, job.TotalItems)
		assert.Equal(t, 25, job.BatchSize)
		assert.Equal(t, model.JobQueued, job.Status)
	})

	t.Run("item limit caps the total", func(t *testing.T) {
		cfg := fastJobConfig()
		cfg.ItemLimit = 4
		job := createManagerJob(t, m, cfg, 25)
		assert.Equal(t, 4, job.TotalItems)
	})

	t.Run("batch size defaults and clamps", func(t *testing.T) {
		job := createManagerJob(t, m, fastJobConfig(), 0)
		assert.Equal(t, defaultBatchSize, job.BatchSize)

		job = createManagerJob(t, m, fastJobConfig(), 500)
		assert.Equal(t, maxBatchSize, job.BatchSize)
	})
}

func TestCreateJobCapsAtResolvedMaxItems(t *testing.T) {
	engine := &fakeEngine{defaults: aiconfig.Operational{MaxItems: 6}}
	m, store := newTestManager(t, engine, &fakeTracker{})
	seedManagerItems(t, store, 10)

	job := createManagerJob(t, m, fastJobConfig(), 4)
	assert.Equal(t, 6, job.TotalItems)

	// An explicit tighter item limit still wins.
	cfg := fastJobConfig()
	cfg.ItemLimit = 3
	job = createManagerJob(t, m, cfg, 4)
	assert.Equal(t, 3, job.TotalItems)
}

func TestDriveFallsBackToResolvedBatchDelay(t *testing.T) {
	engine := &fakeEngine{defaults: aiconfig.Operational{BatchDelay: 25 * time.Millisecond}}
	m, store := newTestManager(t, engine, &fakeTracker{})
	seedManagerItems(t, store, 8)
	ctx := context.Background()

	// BatchDelayMS is unset, so the resolved default paces the loop.
	job := createManagerJob(t, m, fastJobConfig(), 4)

	start := time.Now()
	require.NoError(t, m.ProcessJob(ctx, job.ID))
	elapsed := time.Since(start)

	final, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, final.Status)
	assert.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
}

func TestProcessJobRunsToCompletion(t *testing.T) {
	tracker := &fakeTracker{}
	m, store := newTestManager(t, &fakeEngine{}, tracker)
	seedManagerItems(t, store, 10)
	ctx := context.Background()

	job := createManagerJob(t, m, fastJobConfig(), 4)
	require.NoError(t, m.ProcessJob(ctx, job.ID))

	final, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, final.Status)
	assert.Equal(t, 10, final.ProcessedItems)
	assert.Equal(t, 10, final.Successful)
	assert.Equal(t, 10, final.CurrentOffset)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.CompletedAt)

	// 4 + 4 + 2 items across three batches.
	assert.Equal(t, 3, tracker.started)
	assert.Equal(t, 3, tracker.finished)
}

func TestProcessJobRejectsConcurrentRun(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	engine := &fakeEngine{hook: func(_ int, items []model.EnrichedItem) (*model.BatchResult, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return completedResult(items), nil
	}}
	m, store := newTestManager(t, engine, &fakeTracker{})
	seedManagerItems(t, store, 4)

	job := createManagerJob(t, m, fastJobConfig(), 4)

	done := make(chan error, 1)
	go func() { done <- m.ProcessJob(context.Background(), job.ID) }()
	<-entered

	err := m.ProcessJob(context.Background(), job.ID)
	assert.ErrorIs(t, err, common.ErrJobAlreadyRunning)

	close(release)
	require.NoError(t, <-done)
}

func TestProcessJobRejectsTerminalState(t *testing.T) {
	m, store := newTestManager(t, &fakeEngine{}, &fakeTracker{})
	seedManagerItems(t, store, 4)
	ctx := context.Background()

	job := createManagerJob(t, m, fastJobConfig(), 4)
	require.NoError(t, m.CancelJob(ctx, job.ID))

	err := m.ProcessJob(ctx, job.ID)
	assert.ErrorIs(t, err, common.ErrInvalidJobState)
}

func TestProcessJobRestartsPausedJob(t *testing.T) {
	engine := &fakeEngine{}
	m, store := newTestManager(t, engine, &fakeTracker{})
	seedManagerItems(t, store, 8)
	ctx := context.Background()

	job := createManagerJob(t, m, fastJobConfig(), 4)

	// A prior run processed the first batch and was parked.
	_, err := store.UpdateJobStatus(ctx, job.ID, []model.JobStatus{model.JobQueued}, model.JobRunning)
	require.NoError(t, err)
	require.NoError(t, store.UpdateJobProgress(ctx, job.ID, 4, 4, 0, 0, 4))
	_, err = store.UpdateJobStatus(ctx, job.ID, []model.JobStatus{model.JobRunning}, model.JobPaused)
	require.NoError(t, err)

	// ProcessJob on the paused job picks up where the last run stopped.
	require.NoError(t, m.ProcessJob(ctx, job.ID))

	final, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, final.Status)
	assert.Equal(t, 8, final.CurrentOffset)
	assert.Equal(t, 8, final.ProcessedItems)
	// Only the remaining four items were processed in this run.
	assert.Equal(t, 1, engine.batches)
}

func TestPauseStopsAtBatchBoundary(t *testing.T) {
	engine := &fakeEngine{}
	m, store := newTestManager(t, engine, &fakeTracker{})
	seedManagerItems(t, store, 8)
	ctx := context.Background()

	job := createManagerJob(t, m, fastJobConfig(), 4)
	engine.hook = func(batch int, items []model.EnrichedItem) (*model.BatchResult, error) {
		if batch == 1 {
			// Request the pause mid-batch; the current batch still settles.
			if err := m.PauseJob(context.Background(), job.ID); err != nil {
				return nil, err
			}
		}
		return completedResult(items), nil
	}

	require.NoError(t, m.ProcessJob(ctx, job.ID))

	paused, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPaused, paused.Status)
	// The in-flight batch committed before the loop stopped.
	assert.Equal(t, 4, paused.CurrentOffset)
	assert.Equal(t, 4, paused.ProcessedItems)
	assert.Equal(t, 1, engine.batches)
}

func TestResumeContinuesFromOffset(t *testing.T) {
	engine := &fakeEngine{}
	m, store := newTestManager(t, engine, &fakeTracker{})
	seedManagerItems(t, store, 8)
	ctx := context.Background()

	job := createManagerJob(t, m, fastJobConfig(), 4)

	// Simulate a prior half-finished run.
	_, err := store.UpdateJobStatus(ctx, job.ID, []model.JobStatus{model.JobQueued}, model.JobRunning)
	require.NoError(t, err)
	require.NoError(t, store.UpdateJobProgress(ctx, job.ID, 4, 4, 0, 0, 4))
	_, err = store.UpdateJobStatus(ctx, job.ID, []model.JobStatus{model.JobRunning}, model.JobPaused)
	require.NoError(t, err)

	require.NoError(t, m.ResumeJob(ctx, job.ID))

	// The resumed loop runs in the background; poll until it lands.
	deadline := time.After(2 * time.Second)
	for {
		final, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		if final.Status == model.JobCompleted {
			assert.Equal(t, 8, final.CurrentOffset)
			assert.Equal(t, 8, final.ProcessedItems)
			// Only the remaining four items were re-processed.
			assert.Equal(t, 1, engine.batches)
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job stuck in state %s", final.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestResumeRequiresPausedState(t *testing.T) {
	m, store := newTestManager(t, &fakeEngine{}, &fakeTracker{})
	seedManagerItems(t, store, 4)

	job := createManagerJob(t, m, fastJobConfig(), 4)
	err := m.ResumeJob(context.Background(), job.ID)
	assert.ErrorIs(t, err, common.ErrInvalidJobState)
}

func TestCancelStopsAtBatchBoundary(t *testing.T) {
	engine := &fakeEngine{}
	m, store := newTestManager(t, engine, &fakeTracker{})
	seedManagerItems(t, store, 8)
	ctx := context.Background()

	job := createManagerJob(t, m, fastJobConfig(), 4)
	engine.hook = func(batch int, items []model.EnrichedItem) (*model.BatchResult, error) {
		if batch == 1 {
			if err := m.CancelJob(context.Background(), job.ID); err != nil {
				return nil, err
			}
		}
		return completedResult(items), nil
	}

	require.NoError(t, m.ProcessJob(ctx, job.ID))

	cancelled, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, cancelled.Status)
	assert.Equal(t, 4, cancelled.CurrentOffset)
	assert.Equal(t, 1, engine.batches)
}

func TestShutdownParksRunningJob(t *testing.T) {
	runCtx, cancel := context.WithCancel(context.Background())
	engine := &fakeEngine{}
	m, store := newTestManager(t, engine, &fakeTracker{})
	seedManagerItems(t, store, 8)

	job := createManagerJob(t, m, fastJobConfig(), 4)
	engine.hook = func(batch int, items []model.EnrichedItem) (*model.BatchResult, error) {
		if batch == 1 {
			cancel()
		}
		return completedResult(items), nil
	}

	err := m.ProcessJob(runCtx, job.ID)
	assert.ErrorIs(t, err, context.Canceled)

	parked, getErr := store.GetJob(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.JobPaused, parked.Status)
}

func TestErrorBudgetFailsJob(t *testing.T) {
	tracker := &fakeTracker{}
	engine := &fakeEngine{hook: func(int, []model.EnrichedItem) (*model.BatchResult, error) {
		return nil, errors.New("provider meltdown")
	}}
	m, store := newTestManager(t, engine, tracker)
	seedManagerItems(t, store, 12)
	ctx := context.Background()

	cfg := fastJobConfig()
	cfg.MaxRetries = 2
	job := createManagerJob(t, m, cfg, 4)

	require.NoError(t, m.ProcessJob(ctx, job.ID))

	failed, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, failed.Status)
	assert.Equal(t, 2, failed.ErrorCount)
	assert.Equal(t, "provider meltdown", failed.ErrorMessage)
	// First failure advanced past its batch; the second spent the budget.
	assert.Equal(t, 4, failed.CurrentOffset)
	assert.Equal(t, 2, tracker.failed)
}

func TestFailedBatchAdvancesOffset(t *testing.T) {
	engine := &fakeEngine{hook: func(batch int, items []model.EnrichedItem) (*model.BatchResult, error) {
		if batch == 1 {
			return nil, errors.New("transient meltdown")
		}
		return completedResult(items), nil
	}}
	m, store := newTestManager(t, engine, &fakeTracker{})
	seedManagerItems(t, store, 8)
	ctx := context.Background()

	job := createManagerJob(t, m, fastJobConfig(), 4)
	require.NoError(t, m.ProcessJob(ctx, job.ID))

	final, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, final.Status)
	assert.Equal(t, 8, final.CurrentOffset)
	// The poison batch counts as failed items, the second as successes.
	assert.Equal(t, 4, final.Failed)
	assert.Equal(t, 4, final.Successful)
	assert.Equal(t, 1, final.ErrorCount)
}

func TestGetJobStatusJoinsMetrics(t *testing.T) {
	tracker := &fakeTracker{
		progress: model.JobProgress{ProcessedItems: 50, TotalItems: 100, PercentComplete: 50},
		metrics:  model.PerformanceMetrics{CompletedBatches: 2, ItemsPerSecond: 12.5},
		errors:   []model.BatchError{{BatchNumber: 3, Message: "boom"}},
	}
	m, store := newTestManager(t, &fakeEngine{}, tracker)
	seedManagerItems(t, store, 4)
	ctx := context.Background()

	job := createManagerJob(t, m, fastJobConfig(), 4)

	report, err := m.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, report.Job.ID)
	assert.InDelta(t, 50.0, report.Progress.PercentComplete, 0.0001)
	assert.Equal(t, 2, report.Performance.CompletedBatches)
	require.Len(t, report.RecentErrors, 1)
	assert.Equal(t, "boom", report.RecentErrors[0].Message)
}

func TestGetRecentJobs(t *testing.T) {
	m, store := newTestManager(t, &fakeEngine{}, &fakeTracker{})
	seedManagerItems(t, store, 4)
	ctx := context.Background()

	first := createManagerJob(t, m, fastJobConfig(), 4)
	second := createManagerJob(t, m, fastJobConfig(), 4)

	jobs, err := m.GetRecentJobs(ctx, testOrg, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	ids := []string{jobs[0].ID, jobs[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
}
