package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oselz/taxon/internal/aiconfig"
	"github.com/oselz/taxon/internal/common"
	"github.com/oselz/taxon/internal/model"
)

const (
	// minStartBuffer is the least time that must remain before the
	// deadline for a new task to be worth starting.
	minStartBuffer = 3 * time.Second
	// deadlineFloor is the minimum overall deadline regardless of
	// configuration.
	deadlineFloor = 60 * time.Second
	// defaultCallTimeout bounds one provider call when none is configured.
	defaultCallTimeout = 30 * time.Second
	// defaultMaxBatches caps how many batches one run may dispatch.
	defaultMaxBatches = 10
)

// Caller performs one provider call for one batch. Implemented by
// llm.Adapter; tests substitute fakes.
type Caller interface {
	Call(ctx context.Context, provider aiconfig.ProviderConfig, items []model.EnrichedItem, targets []model.TargetValue, kind model.ItemKind, timeout time.Duration, allowSubstitution bool) ([]model.Suggestion, error)
}

// Options tunes one ProcessBatches run.
type Options struct {
	Kind                   model.ItemKind
	BatchSize              int
	MaxBatches             int
	CallTimeout            time.Duration
	OverallTimeout         time.Duration
	FailFastOnFirstTimeout bool
	AllowModelSubstitution bool
}

// runMetrics counts per-run outcomes for the completion log line.
type runMetrics struct {
	dispatched int
	succeeded  int
	timedOut   int
	rateLimits int
	errored    int
	skipped    int
	merged     int
}

// Dispatcher fans batches out across providers.
type Dispatcher struct {
	caller Caller
	logger *slog.Logger
	now    func() time.Time
}

// NewDispatcher creates a dispatcher around a provider caller.
func NewDispatcher(caller Caller) *Dispatcher {
	return &Dispatcher{
		caller: caller,
		logger: common.ComponentLogger("batch"),
		now:    time.Now,
	}
}

// ProcessBatches produces the best available suggestion per item within a
// global deadline.
//
// Batches are round-robin-assigned across providers still considered
// available. A provider that times out is blacklisted for the remainder of
// the run when fail-fast is enabled. All task errors are absorbed; an empty
// map is a valid outcome when every provider failed or no providers are
// configured.
func (d *Dispatcher) ProcessBatches(ctx context.Context, providers []aiconfig.ProviderConfig, items []model.EnrichedItem, targets []model.TargetValue, opts Options) map[string]model.Suggestion {
	results := make(map[string]model.Suggestion)
	if len(items) == 0 {
		return results
	}

	enabled := make([]aiconfig.ProviderConfig, 0, len(providers))
	for _, p := range providers {
		if p.Enabled && p.APIKey != "" {
			enabled = append(enabled, p)
		}
	}
	if len(enabled) == 0 {
		d.logger.Warn("no enabled providers, returning empty results")
		return results
	}

	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	maxBatches := opts.MaxBatches
	if maxBatches <= 0 {
		maxBatches = defaultMaxBatches
	}

	deadline := d.now().Add(overallBudget(opts.OverallTimeout, callTimeout))

	size := effectiveBatchSize(items, targets, enabled, opts.BatchSize)
	batches := splitBatches(items, size)
	if len(batches) > maxBatches {
		d.logger.Warn("dropping excess batches",
			"total", len(batches),
			"max", maxBatches)
		batches = batches[:maxBatches]
	}

	var (
		mu          sync.Mutex
		wg          sync.WaitGroup
		metrics     runMetrics
		unavailable = make(map[string]bool)
	)

	next := 0
	for batchIndex, batchItems := range batches {
		remaining := time.Until(deadline)
		if remaining < minStartBuffer {
			mu.Lock()
			metrics.skipped += len(batches) - batchIndex
			mu.Unlock()
			d.logger.Warn("deadline too close to start more batches",
				"remaining", remaining,
				"batches_left", len(batches)-batchIndex)
			break
		}

		provider, ok := d.pickProvider(enabled, unavailable, &mu, &next)
		if !ok {
			mu.Lock()
			metrics.skipped += len(batches) - batchIndex
			mu.Unlock()
			d.logger.Warn("all providers unavailable, abandoning remaining batches",
				"batches_left", len(batches)-batchIndex)
			break
		}

		taskTimeout := callTimeout
		if remaining < taskTimeout {
			taskTimeout = remaining
		}

		mu.Lock()
		metrics.dispatched++
		mu.Unlock()

		wg.Add(1)
		go func(provider aiconfig.ProviderConfig, batchItems []model.EnrichedItem, batchIndex int, timeout time.Duration) {
			defer wg.Done()

			suggestions, err := d.caller.Call(ctx, provider, batchItems, targets, opts.Kind, timeout, opts.AllowModelSubstitution)
			if err != nil {
				d.recordFailure(provider, batchIndex, err, opts.FailFastOnFirstTimeout, unavailable, &metrics, &mu)
				return
			}

			mu.Lock()
			metrics.succeeded++
			for _, s := range suggestions {
				existing, exists := results[s.ItemID]
				if !exists || s.Confidence > existing.Confidence {
					results[s.ItemID] = s
					metrics.merged++
				}
			}
			mu.Unlock()
		}(provider, batchItems, batchIndex, taskTimeout)
	}

	wg.Wait()

	d.logger.Info("batch run settled",
		"items", len(items),
		"batch_size", size,
		"batches_dispatched", metrics.dispatched,
		"batches_succeeded", metrics.succeeded,
		"batches_timed_out", metrics.timedOut,
		"batches_rate_limited", metrics.rateLimits,
		"batches_errored", metrics.errored,
		"batches_skipped", metrics.skipped,
		"suggestions", len(results))

	return results
}

// pickProvider round-robins over providers, skipping blacklisted ones.
func (d *Dispatcher) pickProvider(providers []aiconfig.ProviderConfig, unavailable map[string]bool, mu *sync.Mutex, next *int) (aiconfig.ProviderConfig, bool) {
	mu.Lock()
	defer mu.Unlock()

	for attempts := 0; attempts < len(providers); attempts++ {
		p := providers[*next%len(providers)]
		*next++
		if !unavailable[p.Name] {
			return p, true
		}
	}
	return aiconfig.ProviderConfig{}, false
}

// recordFailure absorbs a task error, blacklisting the provider on timeout
// when fail-fast is enabled. Errors never cancel other in-flight tasks.
func (d *Dispatcher) recordFailure(provider aiconfig.ProviderConfig, batchIndex int, err error, failFast bool, unavailable map[string]bool, metrics *runMetrics, mu *sync.Mutex) {
	mu.Lock()
	defer mu.Unlock()

	switch {
	case errors.Is(err, common.ErrProviderTimeout):
		metrics.timedOut++
		if failFast && !unavailable[provider.Name] {
			unavailable[provider.Name] = true
			d.logger.Warn("provider timed out, unavailable for the rest of this run",
				"provider", provider.Name,
				"batch", batchIndex)
			return
		}
	case errors.Is(err, common.ErrRateLimit):
		metrics.rateLimits++
	default:
		metrics.errored++
	}

	d.logger.Warn("batch task failed",
		"provider", provider.Name,
		"batch", batchIndex,
		"error", err)
}

// overallBudget is at least twice the per-call timeout and never below the
// floor, so one slow provider retry window cannot consume the whole run.
func overallBudget(overall, call time.Duration) time.Duration {
	budget := overall
	if floor := 2 * call; budget < floor {
		budget = floor
	}
	if budget < deadlineFloor {
		budget = deadlineFloor
	}
	return budget
}
