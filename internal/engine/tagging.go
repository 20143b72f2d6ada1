package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/oselz/taxon/internal/common"
	"github.com/oselz/taxon/internal/model"
)

// TagBatch runs the tagging variant: each item receives a set of tags from
// the org's tag taxonomy instead of a single category. The same dispatch and
// merge machinery is reused; only the per-item decision differs.
func (e *ClassificationEngine) TagBatch(ctx context.Context, items []model.EnrichedItem, jobCfg model.JobConfig, orgID, jobID string) (*model.BatchResult, error) {
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
		e.logger.Warn("tagging unavailable, skipping batch",
			"org_id", orgID,
			"job_id", jobID,
			"error", err)
		cfg = nil
	}

	targets, err := e.loadTargets(ctx, orgID, model.KindTag)
	if err != nil {
		e.failBatch(result, items, fmt.Sprintf("failed to load tags: %v", err))
		result.DurationMS = time.Since(start).Milliseconds()
		return result, nil
	}

	suggestions := map[string]model.Suggestion{}
	if cfg != nil {
		opts := dispatchOptions(model.KindTag, cfg.Defaults)
		suggestions = e.batcher.ProcessBatches(ctx, cfg.EnabledProviders(), items, targets, opts)
	}

	byID := targetsByID(targets)
	for i := range items {
		item := &items[i]
		var r model.ClassificationResult
		if s, ok := suggestions[item.ID]; ok {
			r = e.decideTags(ctx, item, &s, jobCfg, byID, jobID, orgID)
		} else {
			r = skippedResult(item.ID, model.SkipNoSuggestion)
		}
		e.tally(result, r)
	}

	result.DurationMS = time.Since(start).Milliseconds()
	result.EstimatedTokens = model.EstimateTokens(result.Successful)
	return result, nil
}

// decideTags filters candidate tags by the confidence threshold, splits them
// into known taxonomy tags and proposed new names, and settles the item's
// outcome. Known tags win; proposals alone put the item into review.
func (e *ClassificationEngine) decideTags(ctx context.Context, item *model.EnrichedItem, s *model.Suggestion, jobCfg model.JobConfig, targets map[string]model.TargetValue, jobID, orgID string) model.ClassificationResult {
	if len(s.Tags) == 0 {
		return skippedResult(item.ID, model.SkipNoSuggestion)
	}

	var (
		tagIDs    []string
		confSum   float64
		proposals int
		anyPassed bool
	)
	for _, candidate := range s.Tags {
		if candidate.Confidence < jobCfg.ConfidenceThreshold && !jobCfg.Force {
			continue
		}
		anyPassed = true
		if candidate.TagID != nil && *candidate.TagID != "" {
			if _, known := targets[*candidate.TagID]; known {
				tagIDs = append(tagIDs, *candidate.TagID)
				confSum += candidate.Confidence
				continue
			}
		}
		if candidate.ProposedName != nil && *candidate.ProposedName != "" {
			r := e.recordProposal(ctx, item, *candidate.ProposedName, s, jobID, orgID, model.KindTag)
			if r.Status == model.ResultFailed {
				return r
			}
			proposals++
		}
	}

	switch {
	case len(tagIDs) > 0:
		return model.ClassificationResult{
			ItemID:     item.ID,
			Status:     model.ResultCompleted,
			TagIDs:     tagIDs,
			Confidence: confSum / float64(len(tagIDs)),
			Provider:   s.Provider,
			Reasoning:  s.Reasoning,
		}
	case proposals > 0:
		return model.ClassificationResult{
			ItemID:     item.ID,
			Status:     model.ResultPendingReview,
			Confidence: s.Confidence,
			Provider:   s.Provider,
			Reasoning:  s.Reasoning,
		}
	case anyPassed:
		// Candidates passed the threshold but named nothing usable.
		return skippedResult(item.ID, model.SkipNoSuggestion)
	default:
		return skippedResult(item.ID, model.SkipLowConfidence)
	}
}
