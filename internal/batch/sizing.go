// Package batch fans classification batches out across every configured
// provider in parallel under a shared wall-clock deadline, merging results
// so the highest-confidence suggestion wins per item.
package batch

import (
	"github.com/oselz/taxon/internal/aiconfig"
	"github.com/oselz/taxon/internal/llm"
	"github.com/oselz/taxon/internal/model"
)

const (
	// sampleSize is how many items are sampled to estimate per-item cost.
	sampleSize = 10
	// contextSafetyMargin leaves headroom in the provider context window.
	contextSafetyMargin = 0.8
	// outputSafetyMargin leaves headroom in the provider output budget.
	outputSafetyMargin = 0.7
	// estimatedOutputTokensPerItem is the expected response cost per item.
	estimatedOutputTokensPerItem = 140
	// promptOverheadTokens covers instructions and formatting around the
	// item and target lists.
	promptOverheadTokens = 500
)

// OptimalBatchSize computes the largest batch one provider model can safely
// answer in a single structured call. The result is capped by the context
// window, the output token budget, the model's recommended batch size, and
// any caller-requested size. It is always at least 1.
func OptimalBatchSize(items []model.EnrichedItem, targets []model.TargetValue, limits llm.ModelLimits, requested int) int {
	if len(items) == 0 {
		return 1
	}

	sample := items
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}
	totalTokens := 0
	for i := range sample {
		totalTokens += llm.EstimateItemTokens(&sample[i])
	}
	avgItemTokens := totalTokens / len(sample)
	if avgItemTokens < 1 {
		avgItemTokens = 1
	}

	targetTokens := llm.EstimateTargetListTokens(targets)

	contextBudget := int(float64(limits.ContextWindow)*contextSafetyMargin) - targetTokens - promptOverheadTokens
	contextCap := contextBudget / avgItemTokens

	outputCap := int(float64(limits.OutputTokenLimit) * outputSafetyMargin / estimatedOutputTokensPerItem)

	size := contextCap
	if outputCap < size {
		size = outputCap
	}
	if limits.RecommendedBatchSize > 0 && limits.RecommendedBatchSize < size {
		size = limits.RecommendedBatchSize
	}
	if requested > 0 && requested < size {
		size = requested
	}
	if size < 1 {
		size = 1
	}
	return size
}

// effectiveBatchSize is the minimum optimal size across all enabled
// providers: no provider may receive a batch larger than it can answer.
func effectiveBatchSize(items []model.EnrichedItem, targets []model.TargetValue, providers []aiconfig.ProviderConfig, requested int) int {
	size := 0
	for _, p := range providers {
		cap := OptimalBatchSize(items, targets, llm.LimitsFor(p.Model), requested)
		if size == 0 || cap < size {
			size = cap
		}
	}
	if size < 1 {
		size = 1
	}
	return size
}

// splitBatches slices items into contiguous chunks of at most size.
func splitBatches(items []model.EnrichedItem, size int) [][]model.EnrichedItem {
	var batches [][]model.EnrichedItem
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}
