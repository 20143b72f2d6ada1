package llm

import (
	"strings"

	"github.com/oselz/taxon/internal/model"
)

// ModelLimits describes what a provider model can safely handle in one
// structured call. Values for unknown models are deliberately conservative.
type ModelLimits struct {
	ContextWindow        int
	OutputTokenLimit     int
	RecommendedBatchSize int
	SupportsSchema       bool
}

var modelLimits = map[string]ModelLimits{
	// Anthropic
	"claude-3-5-haiku":   {ContextWindow: 200000, OutputTokenLimit: 8192, RecommendedBatchSize: 25, SupportsSchema: true},
	"claude-3-5-sonnet":  {ContextWindow: 200000, OutputTokenLimit: 8192, RecommendedBatchSize: 30, SupportsSchema: true},
	"claude-sonnet-4":    {ContextWindow: 200000, OutputTokenLimit: 16384, RecommendedBatchSize: 40, SupportsSchema: true},
	"claude-opus-4":      {ContextWindow: 200000, OutputTokenLimit: 16384, RecommendedBatchSize: 40, SupportsSchema: true},
	// OpenAI
	"gpt-4o":      {ContextWindow: 128000, OutputTokenLimit: 16384, RecommendedBatchSize: 30, SupportsSchema: true},
	"gpt-4o-mini": {ContextWindow: 128000, OutputTokenLimit: 16384, RecommendedBatchSize: 25, SupportsSchema: true},
	"gpt-4-turbo": {ContextWindow: 128000, OutputTokenLimit: 4096, RecommendedBatchSize: 15, SupportsSchema: false},
	// Reasoning models reject schema-constrained output.
	"o1": {ContextWindow: 200000, OutputTokenLimit: 32768, RecommendedBatchSize: 20, SupportsSchema: false},
	"o3": {ContextWindow: 200000, OutputTokenLimit: 32768, RecommendedBatchSize: 20, SupportsSchema: false},
}

var defaultLimits = ModelLimits{
	ContextWindow:        32000,
	OutputTokenLimit:     4096,
	RecommendedBatchSize: 10,
	SupportsSchema:       false,
}

// LimitsFor returns the limits for a model, matching on the longest known
// prefix so dated variants resolve to their family.
func LimitsFor(model string) ModelLimits {
	model = strings.ToLower(strings.TrimSpace(model))
	best := ""
	for prefix := range modelLimits {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return defaultLimits
	}
	return modelLimits[best]
}

// CompatibleModel returns a known-good schema-capable model for a provider.
// Used only when model substitution is explicitly enabled.
func CompatibleModel(provider string) string {
	switch strings.ToLower(provider) {
	case "anthropic":
		return "claude-3-5-haiku-latest"
	case "openai":
		return "gpt-4o-mini"
	default:
		return ""
	}
}

// Rough 4-characters-per-token heuristic used for batch sizing. Accuracy is
// not required; sizing applies its own safety margins.
func estimateTokens(text string) int {
	return len(text)/4 + 1
}

// EstimateItemTokens estimates the prompt token cost of one item.
func EstimateItemTokens(item *model.EnrichedItem) int {
	var b strings.Builder
	b.WriteString(item.Name)
	b.WriteString(item.SKU)
	b.WriteString(item.Description)
	b.WriteString(item.SupplierName)
	for k, v := range item.Attributes {
		b.WriteString(k)
		b.WriteString(v)
	}
	// Field labels and formatting overhead.
	return estimateTokens(b.String()) + 24
}

// EstimateTargetListTokens estimates the prompt token cost of the target
// value list embedded in every batch prompt.
func EstimateTargetListTokens(targets []model.TargetValue) int {
	var b strings.Builder
	for _, t := range targets {
		b.WriteString(t.ID)
		b.WriteString(t.Name)
		b.WriteString(t.Path)
	}
	return estimateTokens(b.String()) + len(targets)*8
}
