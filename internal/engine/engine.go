// Package engine is the classification core. It turns a batch of enriched
// items plus resolved provider configuration into per-item classification
// decisions, and applies those decisions to storage.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/oselz/taxon/internal/aiconfig"
	"github.com/oselz/taxon/internal/batch"
	"github.com/oselz/taxon/internal/common"
	"github.com/oselz/taxon/internal/model"
	"github.com/oselz/taxon/internal/service"
)

// Batcher dispatches one run of provider calls and returns the best
// suggestion per item. Implemented by batch.Dispatcher.
type Batcher interface {
	ProcessBatches(ctx context.Context, providers []aiconfig.ProviderConfig, items []model.EnrichedItem, targets []model.TargetValue, opts batch.Options) map[string]model.Suggestion
}

// ConfigResolver produces normalized per-org service configuration.
// Implemented by aiconfig.Resolver.
type ConfigResolver interface {
	Resolve(ctx context.Context, orgID string) (*aiconfig.ServiceConfig, error)
}

// Config holds tunables for the classification engine.
type Config struct {
	// TargetCacheTTL bounds how long a loaded taxonomy list is reused
	// before re-reading storage.
	TargetCacheTTL time.Duration
	// RetryOpts governs retries around storage writes.
	RetryOpts service.RetryOptions
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		TargetCacheTTL: 5 * time.Minute,
		RetryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// ClassificationEngine coordinates suggestion generation and rule
// application for one batch at a time. It holds no per-job state; the same
// engine serves concurrent jobs.
type ClassificationEngine struct {
	storage  service.Storage
	resolver ConfigResolver
	batcher  Batcher
	targets  *targetCache
	logger   *slog.Logger
	config   Config
}

// New creates a classification engine with default configuration.
func New(storage service.Storage, resolver ConfigResolver, batcher Batcher) *ClassificationEngine {
	return NewWithConfig(storage, resolver, batcher, DefaultConfig())
}

// NewWithConfig creates a classification engine with custom configuration.
func NewWithConfig(storage service.Storage, resolver ConfigResolver, batcher Batcher, config Config) *ClassificationEngine {
	if config.TargetCacheTTL <= 0 {
		config.TargetCacheTTL = 5 * time.Minute
	}
	return &ClassificationEngine{
		storage:  storage,
		resolver: resolver,
		batcher:  batcher,
		targets:  newTargetCache(config.TargetCacheTTL),
		logger:   common.ComponentLogger("engine"),
		config:   config,
	}
}

// InvalidateTargets drops any cached taxonomy for the org so the next batch
// re-reads storage. Call after taxonomy edits.
func (e *ClassificationEngine) InvalidateTargets(orgID string, kind model.ItemKind) {
	e.targets.Invalidate(orgID, kind)
}

// loadTargets returns the taxonomy list for an org and kind, served from the
// cache when fresh.
func (e *ClassificationEngine) loadTargets(ctx context.Context, orgID string, kind model.ItemKind) ([]model.TargetValue, error) {
	if cached, ok := e.targets.Get(orgID, kind); ok {
		return cached, nil
	}
	targets, err := e.storage.LoadTargetValues(ctx, orgID, kind)
	if err != nil {
		return nil, err
	}
	e.targets.Put(orgID, kind, targets)
	return targets, nil
}

// OperationalDefaults exposes the org's resolved run tuning to the job
// layer. A missing or unusable configuration degrades to the built-in
// defaults so job bookkeeping never depends on a resolvable document.
func (e *ClassificationEngine) OperationalDefaults(ctx context.Context, orgID string) aiconfig.Operational {
	cfg, err := e.resolver.Resolve(ctx, orgID)
	if err != nil {
		if !common.IsConfigError(err) {
			e.logger.Warn("failed to resolve operational defaults",
				"org_id", orgID,
				"error", err)
		}
		return aiconfig.DefaultOperational()
	}
	return cfg.Defaults
}

// dispatchOptions translates resolved operational defaults into one batch
// run's options.
func dispatchOptions(kind model.ItemKind, defaults aiconfig.Operational) batch.Options {
	return batch.Options{
		Kind:                   kind,
		BatchSize:              defaults.BatchSize,
		MaxBatches:             defaults.MaxBatches,
		CallTimeout:            defaults.Timeout,
		OverallTimeout:         defaults.OverallTimeout,
		FailFastOnFirstTimeout: defaults.FailFastOnFirstTimeout,
		AllowModelSubstitution: defaults.AllowModelSubstitution,
	}
}
