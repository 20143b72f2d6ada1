package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/oselz/taxon/internal/common"
	"github.com/oselz/taxon/internal/model"
)

// CategorizeBatch classifies one batch of items against the org's category
// taxonomy and returns the per-item decisions. Provider and configuration
// failures degrade to skipped or failed results; the only returned errors
// are systemic ones the caller cannot make progress past.
func (e *ClassificationEngine) CategorizeBatch(ctx context.Context, items []model.EnrichedItem, jobCfg model.JobConfig, orgID, jobID string) (*model.BatchResult, error) {
	start := time.Now()
	result := &model.BatchResult{ItemsProcessed: len(items)}
	if len(items) == 0 {
		return result, nil
	}

	cfg, err := e.resolver.Resolve(ctx, orgID)
	if err != nil {
		if !common.IsConfigError(err) {
			return nil, fmt.Errorf("failed to resolve service config: %w", err)
		}
		e.logger.Warn("classification unavailable, skipping batch",
			"org_id", orgID,
			"job_id", jobID,
			"error", err)
		cfg = nil
	}

	targets, err := e.loadTargets(ctx, orgID, model.KindCategory)
	if err != nil {
		e.failBatch(result, items, fmt.Sprintf("failed to load categories: %v", err))
		result.DurationMS = time.Since(start).Milliseconds()
		return result, nil
	}

	suggestions := map[string]model.Suggestion{}
	if cfg != nil {
		opts := dispatchOptions(model.KindCategory, cfg.Defaults)
		suggestions = e.batcher.ProcessBatches(ctx, cfg.EnabledProviders(), items, targets, opts)
	}

	byID := targetsByID(targets)
	for i := range items {
		item := &items[i]
		var r model.ClassificationResult
		if s, ok := suggestions[item.ID]; ok {
			r = e.decideCategory(ctx, item, &s, jobCfg, byID, jobID, orgID)
		} else {
			r = skippedResult(item.ID, model.SkipNoSuggestion)
		}
		e.tally(result, r)
	}

	result.DurationMS = time.Since(start).Milliseconds()
	result.EstimatedTokens = model.EstimateTokens(result.Successful)
	return result, nil
}

// decideCategory applies the reclassification rules to one suggestion.
// Suggestions naming an unknown target flow into the proposed-value path so
// a human can review the new name instead of the item silently failing.
func (e *ClassificationEngine) decideCategory(ctx context.Context, item *model.EnrichedItem, s *model.Suggestion, jobCfg model.JobConfig, targets map[string]model.TargetValue, jobID, orgID string) model.ClassificationResult {
	if s.MatchesExisting() {
		target, known := targets[*s.TargetID]
		if known {
			apply, reason := shouldReclassify(item, s.Confidence, jobCfg.ConfidenceThreshold, jobCfg.Force)
			if !apply {
				return skippedResult(item.ID, reason)
			}
			return model.ClassificationResult{
				ItemID:     item.ID,
				Status:     model.ResultCompleted,
				TargetID:   s.TargetID,
				TargetName: target.Name,
				Confidence: s.Confidence,
				Provider:   s.Provider,
				Reasoning:  s.Reasoning,
			}
		}
		// Unknown ID but a usable name: treat as a proposal.
		if s.TargetName != nil && *s.TargetName != "" {
			return e.recordProposal(ctx, item, *s.TargetName, s, jobID, orgID, model.KindCategory)
		}
		return skippedResult(item.ID, model.SkipNoSuggestion)
	}

	if s.HasProposal() {
		return e.recordProposal(ctx, item, *s.ProposedName, s, jobID, orgID, model.KindCategory)
	}

	return skippedResult(item.ID, model.SkipNoSuggestion)
}

// recordProposal persists a proposed new taxonomy value and marks the item
// for human review.
func (e *ClassificationEngine) recordProposal(ctx context.Context, item *model.EnrichedItem, name string, s *model.Suggestion, jobID, orgID string, kind model.ItemKind) model.ClassificationResult {
	outcome, err := e.storage.RecordProposedValue(ctx, item.ID, name, s.Confidence, s.Reasoning, s.Provider, jobID, orgID, kind)
	if err != nil {
		return model.ClassificationResult{
			ItemID: item.ID,
			Status: model.ResultFailed,
			Error:  fmt.Sprintf("failed to record proposed value %q: %v", name, err),
		}
	}
	return model.ClassificationResult{
		ItemID:     item.ID,
		Status:     model.ResultPendingReview,
		TargetID:   &outcome.ProposedID,
		TargetName: name,
		Confidence: s.Confidence,
		Provider:   s.Provider,
		Reasoning:  s.Reasoning,
	}
}

func skippedResult(itemID string, reason model.SkipReason) model.ClassificationResult {
	return model.ClassificationResult{
		ItemID:        itemID,
		Status:        model.ResultSkipped,
		SkippedReason: reason,
	}
}

// failBatch marks every item in the batch failed with the same message.
func (e *ClassificationEngine) failBatch(result *model.BatchResult, items []model.EnrichedItem, message string) {
	for i := range items {
		e.tally(result, model.ClassificationResult{
			ItemID: items[i].ID,
			Status: model.ResultFailed,
			Error:  message,
		})
	}
}

// tally appends a result and updates the batch counters.
func (e *ClassificationEngine) tally(result *model.BatchResult, r model.ClassificationResult) {
	result.Results = append(result.Results, r)
	switch r.Status {
	case model.ResultCompleted:
		result.Successful++
	case model.ResultSkipped:
		result.Skipped++
	case model.ResultPendingReview:
		result.PendingReview++
	case model.ResultFailed:
		result.Failed++
		result.Errors = append(result.Errors, model.ItemError{ItemID: r.ItemID, Error: r.Error})
	}
}

func targetsByID(targets []model.TargetValue) map[string]model.TargetValue {
	byID := make(map[string]model.TargetValue, len(targets))
	for _, t := range targets {
		byID[t.ID] = t
	}
	return byID
}
