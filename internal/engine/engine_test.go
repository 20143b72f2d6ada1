package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oselz/taxon/internal/aiconfig"
	"github.com/oselz/taxon/internal/batch"
	"github.com/oselz/taxon/internal/common"
	"github.com/oselz/taxon/internal/model"
	"github.com/oselz/taxon/internal/storage"
)

const testOrg = "org-1"

// fakeBatcher returns a scripted suggestion map and records the options of
// the last run.
type fakeBatcher struct {
	suggestions map[string]model.Suggestion
	lastOpts    batch.Options
	calls       int
}

func (f *fakeBatcher) ProcessBatches(_ context.Context, _ []aiconfig.ProviderConfig, _ []model.EnrichedItem, _ []model.TargetValue, opts batch.Options) map[string]model.Suggestion {
	f.calls++
	f.lastOpts = opts
	if f.suggestions == nil {
		return map[string]model.Suggestion{}
	}
	return f.suggestions
}

// fakeResolver returns a fixed configuration or error.
type fakeResolver struct {
	cfg *aiconfig.ServiceConfig
	err error
}

func (f *fakeResolver) Resolve(context.Context, string) (*aiconfig.ServiceConfig, error) {
	return f.cfg, f.err
}

func workingResolver() *fakeResolver {
	return &fakeResolver{cfg: &aiconfig.ServiceConfig{
		Providers: []aiconfig.ProviderConfig{
			{Name: "anthropic", APIKey: "sk", Model: "claude-3-5-haiku-latest", Enabled: true},
		},
		Defaults: aiconfig.Operational{
			Timeout:        30 * time.Second,
			OverallTimeout: 60 * time.Second,
			BatchSize:      50,
			MaxBatches:     10,
		},
	}}
}

func newTestEngine(t *testing.T, batcher Batcher, resolver ConfigResolver) (*ClassificationEngine, *storage.SQLiteStorage) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))

	return New(store, resolver, batcher), store
}

func seedEngineItem(t *testing.T, store *storage.SQLiteStorage, id string, prior *float64, categoryID *string) {
	t.Helper()
	require.NoError(t, store.SeedItem(context.Background(), testOrg, &model.EnrichedItem{
		ID:                 id,
		Name:               "Widget " + id,
		CategoryID:         categoryID,
		PreviousConfidence: prior,
	}))
}

func seedEngineTarget(t *testing.T, store *storage.SQLiteStorage, kind model.ItemKind, id, name string) {
	t.Helper()
	require.NoError(t, store.SeedTarget(context.Background(), testOrg, kind, model.TargetValue{
		ID: id, Name: name, Path: name,
	}))
}

func strPtr(s string) *string { return &s }

func TestCategorizeBatchForwardsResolvedDefaults(t *testing.T) {
	batcher := &fakeBatcher{}
	resolver := workingResolver()
	resolver.cfg.Defaults.AllowModelSubstitution = true
	resolver.cfg.Defaults.FailFastOnFirstTimeout = true
	engine, store := newTestEngine(t, batcher, resolver)
	ctx := context.Background()

	seedEngineItem(t, store, "item-1", nil, nil)
	items, err := store.EnrichItems(ctx, []string{"item-1"})
	require.NoError(t, err)

	_, err = engine.CategorizeBatch(ctx, items, model.DefaultJobConfig(), testOrg, "job-1")
	require.NoError(t, err)

	require.Equal(t, 1, batcher.calls)
	assert.Equal(t, 50, batcher.lastOpts.BatchSize)
	assert.Equal(t, 30*time.Second, batcher.lastOpts.CallTimeout)
	assert.True(t, batcher.lastOpts.AllowModelSubstitution)
	assert.True(t, batcher.lastOpts.FailFastOnFirstTimeout)
}

func TestOperationalDefaults(t *testing.T) {
	t.Run("serves the resolved tuning", func(t *testing.T) {
		resolver := workingResolver()
		resolver.cfg.Defaults.MaxItems = 250
		engine, _ := newTestEngine(t, &fakeBatcher{}, resolver)

		defaults := engine.OperationalDefaults(context.Background(), testOrg)
		assert.Equal(t, 250, defaults.MaxItems)
	})

	t.Run("degrades to built-ins without a config", func(t *testing.T) {
		engine, _ := newTestEngine(t, &fakeBatcher{}, &fakeResolver{err: common.ErrMissingConfig})

		defaults := engine.OperationalDefaults(context.Background(), testOrg)
		assert.Equal(t, aiconfig.DefaultOperational(), defaults)
	})
}

func TestCategorizeBatchAppliesConfidentSuggestion(t *testing.T) {
	batcher := &fakeBatcher{suggestions: map[string]model.Suggestion{
		"item-1": {ItemID: "item-1", TargetID: strPtr("cat-1"), Confidence: 0.92, Provider: "anthropic", Reasoning: "clear match"},
	}}
	engine, store := newTestEngine(t, batcher, workingResolver())
	ctx := context.Background()

	seedEngineItem(t, store, "item-1", nil, nil)
	seedEngineTarget(t, store, model.KindCategory, "cat-1", "Fasteners")

	items, err := store.EnrichItems(ctx, []string{"item-1"})
	require.NoError(t, err)

	decided, err := engine.CategorizeBatch(ctx, items, model.DefaultJobConfig(), testOrg, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, decided.Successful)
	assert.Equal(t, 150, decided.EstimatedTokens)
	require.Len(t, decided.Results, 1)
	assert.Equal(t, model.ResultCompleted, decided.Results[0].Status)
	assert.Equal(t, "Fasteners", decided.Results[0].TargetName)

	final, err := engine.ApplyResults(ctx, decided, model.KindCategory)
	require.NoError(t, err)
	assert.Equal(t, 1, final.Successful)

	item, err := store.GetItem(ctx, "item-1")
	require.NoError(t, err)
	require.NotNil(t, item.CategoryID)
	assert.Equal(t, "cat-1", *item.CategoryID)
}

func TestCategorizeBatchSkipsLowConfidence(t *testing.T) {
	batcher := &fakeBatcher{suggestions: map[string]model.Suggestion{
		"item-1": {ItemID: "item-1", TargetID: strPtr("cat-1"), Confidence: 0.5, Provider: "anthropic"},
	}}
	engine, store := newTestEngine(t, batcher, workingResolver())
	ctx := context.Background()

	seedEngineItem(t, store, "item-1", nil, nil)
	seedEngineTarget(t, store, model.KindCategory, "cat-1", "Fasteners")

	items, err := store.EnrichItems(ctx, []string{"item-1"})
	require.NoError(t, err)

	decided, err := engine.CategorizeBatch(ctx, items, model.DefaultJobConfig(), testOrg, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, decided.Skipped)
	assert.Equal(t, model.SkipLowConfidence, decided.Results[0].SkippedReason)
	assert.Equal(t, 0, decided.EstimatedTokens)
}

func TestCategorizeBatchNeverRegressesConfidence(t *testing.T) {
	prior := 0.9
	batcher := &fakeBatcher{suggestions: map[string]model.Suggestion{
		"item-1": {ItemID: "item-1", TargetID: strPtr("cat-1"), Confidence: 0.7, Provider: "anthropic"},
	}}
	engine, store := newTestEngine(t, batcher, workingResolver())
	ctx := context.Background()

	seedEngineItem(t, store, "item-1", &prior, strPtr("cat-2"))
	seedEngineTarget(t, store, model.KindCategory, "cat-1", "Fasteners")
	seedEngineTarget(t, store, model.KindCategory, "cat-2", "Seals")

	items, err := store.EnrichItems(ctx, []string{"item-1"})
	require.NoError(t, err)

	decided, err := engine.CategorizeBatch(ctx, items, model.DefaultJobConfig(), testOrg, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, decided.Skipped)
	assert.Equal(t, model.SkipAlreadyCategorized, decided.Results[0].SkippedReason)

	// The existing assignment is untouched.
	final, err := engine.ApplyResults(ctx, decided, model.KindCategory)
	require.NoError(t, err)
	assert.Equal(t, 1, final.Skipped)

	item, err := store.GetItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, "cat-2", *item.CategoryID)
	assert.InDelta(t, 0.9, *item.PreviousConfidence, 0.0001)
}

func TestCategorizeBatchRecordsProposal(t *testing.T) {
	batcher := &fakeBatcher{suggestions: map[string]model.Suggestion{
		"item-1": {ItemID: "item-1", ProposedName: strPtr("Hydraulic Hoses"), Confidence: 0.8, Provider: "anthropic"},
	}}
	engine, store := newTestEngine(t, batcher, workingResolver())
	ctx := context.Background()

	seedEngineItem(t, store, "item-1", nil, nil)

	items, err := store.EnrichItems(ctx, []string{"item-1"})
	require.NoError(t, err)

	decided, err := engine.CategorizeBatch(ctx, items, model.DefaultJobConfig(), testOrg, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, decided.PendingReview)
	assert.Equal(t, "Hydraulic Hoses", decided.Results[0].TargetName)

	count, err := store.CountProposedValues(ctx, testOrg, model.KindCategory)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCategorizeBatchNoSuggestionSkips(t *testing.T) {
	engine, store := newTestEngine(t, &fakeBatcher{}, workingResolver())
	ctx := context.Background()

	seedEngineItem(t, store, "item-1", nil, nil)
	items, err := store.EnrichItems(ctx, []string{"item-1"})
	require.NoError(t, err)

	decided, err := engine.CategorizeBatch(ctx, items, model.DefaultJobConfig(), testOrg, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, decided.Skipped)
	assert.Equal(t, model.SkipNoSuggestion, decided.Results[0].SkippedReason)
}

func TestCategorizeBatchConfigErrorDegradesToSkips(t *testing.T) {
	batcher := &fakeBatcher{}
	engine, store := newTestEngine(t, batcher, &fakeResolver{err: common.ErrMissingConfig})
	ctx := context.Background()

	seedEngineItem(t, store, "item-1", nil, nil)
	items, err := store.EnrichItems(ctx, []string{"item-1"})
	require.NoError(t, err)

	decided, err := engine.CategorizeBatch(ctx, items, model.DefaultJobConfig(), testOrg, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, decided.Skipped)
	assert.Equal(t, 0, batcher.calls)
}

func TestTagBatchAppliesPassingTags(t *testing.T) {
	batcher := &fakeBatcher{suggestions: map[string]model.Suggestion{
		"item-1": {ItemID: "item-1", Provider: "anthropic", Confidence: 0.8, Tags: []model.TagCandidate{
			{TagID: strPtr("tag-1"), Confidence: 0.9},
			{TagID: strPtr("tag-2"), Confidence: 0.8},
			{TagID: strPtr("tag-3"), Confidence: 0.4},
		}},
	}}
	engine, store := newTestEngine(t, batcher, workingResolver())
	ctx := context.Background()

	seedEngineItem(t, store, "item-1", nil, nil)
	seedEngineTarget(t, store, model.KindTag, "tag-1", "metal")
	seedEngineTarget(t, store, model.KindTag, "tag-2", "bulk")
	seedEngineTarget(t, store, model.KindTag, "tag-3", "fragile")

	items, err := store.EnrichItems(ctx, []string{"item-1"})
	require.NoError(t, err)

	decided, err := engine.TagBatch(ctx, items, model.DefaultJobConfig(), testOrg, "job-1")
	require.NoError(t, err)
	require.Equal(t, 1, decided.Successful)
	assert.ElementsMatch(t, []string{"tag-1", "tag-2"}, decided.Results[0].TagIDs)
	// Mean confidence over the accepted tags only.
	assert.InDelta(t, 0.85, decided.Results[0].Confidence, 0.0001)

	final, err := engine.ApplyResults(ctx, decided, model.KindTag)
	require.NoError(t, err)
	assert.Equal(t, 1, final.Successful)

	item, err := store.GetItem(ctx, "item-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tag-1", "tag-2"}, item.Tags)
}

func TestTagBatchAllBelowThresholdSkips(t *testing.T) {
	batcher := &fakeBatcher{suggestions: map[string]model.Suggestion{
		"item-1": {ItemID: "item-1", Provider: "anthropic", Confidence: 0.4, Tags: []model.TagCandidate{
			{TagID: strPtr("tag-1"), Confidence: 0.3},
		}},
	}}
	engine, store := newTestEngine(t, batcher, workingResolver())
	ctx := context.Background()

	seedEngineItem(t, store, "item-1", nil, nil)
	seedEngineTarget(t, store, model.KindTag, "tag-1", "metal")

	items, err := store.EnrichItems(ctx, []string{"item-1"})
	require.NoError(t, err)

	decided, err := engine.TagBatch(ctx, items, model.DefaultJobConfig(), testOrg, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, decided.Skipped)
	assert.Equal(t, model.SkipLowConfidence, decided.Results[0].SkippedReason)
}

func TestTagBatchProposalsOnlyGoToReview(t *testing.T) {
	batcher := &fakeBatcher{suggestions: map[string]model.Suggestion{
		"item-1": {ItemID: "item-1", Provider: "anthropic", Confidence: 0.8, Tags: []model.TagCandidate{
			{ProposedName: strPtr("food-grade"), Confidence: 0.85},
		}},
	}}
	engine, store := newTestEngine(t, batcher, workingResolver())
	ctx := context.Background()

	seedEngineItem(t, store, "item-1", nil, nil)

	items, err := store.EnrichItems(ctx, []string{"item-1"})
	require.NoError(t, err)

	decided, err := engine.TagBatch(ctx, items, model.DefaultJobConfig(), testOrg, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, decided.PendingReview)

	count, err := store.CountProposedValues(ctx, testOrg, model.KindTag)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestApplyResultsDemotesFailedWrites(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeBatcher{}, workingResolver())
	ctx := context.Background()

	// The item does not exist, so the write fails and the result is
	// demoted rather than erroring the batch.
	decided := &model.BatchResult{
		ItemsProcessed: 1,
		Successful:     1,
		Results: []model.ClassificationResult{
			{ItemID: "ghost", Status: model.ResultCompleted, TargetID: strPtr("cat-1"), Confidence: 0.9},
		},
	}

	final, err := engine.ApplyResults(ctx, decided, model.KindCategory)
	require.NoError(t, err)
	assert.Equal(t, 0, final.Successful)
	assert.Equal(t, 1, final.Failed)
	require.Len(t, final.Errors, 1)
	assert.Equal(t, "ghost", final.Errors[0].ItemID)
}

func TestTargetCacheServesAndInvalidates(t *testing.T) {
	cache := newTargetCache(time.Minute)

	_, ok := cache.Get(testOrg, model.KindCategory)
	assert.False(t, ok)

	cache.Put(testOrg, model.KindCategory, []model.TargetValue{{ID: "cat-1", Name: "Fasteners"}})
	targets, ok := cache.Get(testOrg, model.KindCategory)
	require.True(t, ok)
	assert.Len(t, targets, 1)

	// Kinds are cached independently.
	_, ok = cache.Get(testOrg, model.KindTag)
	assert.False(t, ok)

	cache.Invalidate(testOrg, model.KindCategory)
	_, ok = cache.Get(testOrg, model.KindCategory)
	assert.False(t, ok)
}

func TestTargetCacheExpires(t *testing.T) {
	cache := newTargetCache(time.Millisecond)
	cache.Put(testOrg, model.KindCategory, []model.TargetValue{{ID: "cat-1"}})

	time.Sleep(5 * time.Millisecond)
	_, ok := cache.Get(testOrg, model.KindCategory)
	assert.False(t, ok)
}
