package engine

import (
	"context"
	"fmt"

	"github.com/oselz/taxon/internal/common"
	"github.com/oselz/taxon/internal/model"
	"github.com/oselz/taxon/internal/storage"
)

// ApplyResults persists one batch's decisions and returns the finalized
// batch result. A decision whose write fails is demoted to a failed result;
// the batch itself only errors when the context is done.
//
// Pending-review items need no write here: recording the proposed value
// already flagged them.
func (e *ClassificationEngine) ApplyResults(ctx context.Context, decided *model.BatchResult, kind model.ItemKind) (*model.BatchResult, error) {
	final := &model.BatchResult{
		ItemsProcessed: decided.ItemsProcessed,
		DurationMS:     decided.DurationMS,
	}

	for _, r := range decided.Results {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("apply aborted: %w", err)
		}
		e.tally(final, e.applyOne(ctx, r, kind))
	}

	final.EstimatedTokens = model.EstimateTokens(final.Successful)
	return final, nil
}

func (e *ClassificationEngine) applyOne(ctx context.Context, r model.ClassificationResult, kind model.ItemKind) model.ClassificationResult {
	var err error
	switch r.Status {
	case model.ResultCompleted:
		err = common.WithRetry(ctx, func() error {
			if kind == model.KindTag {
				return e.storage.WriteTags(ctx, r.ItemID, r.TagIDs, r.Confidence, r.Provider, r.Reasoning)
			}
			return e.storage.WriteClassification(ctx, r.ItemID, *r.TargetID, r.Confidence, r.Provider, r.Reasoning)
		}, e.config.RetryOpts)
	case model.ResultSkipped:
		err = e.storage.WriteSkipStatus(ctx, r.ItemID, storage.ItemStatusPending, r.SkippedReason)
	case model.ResultPendingReview:
		return r
	case model.ResultFailed:
		if writeErr := e.storage.WriteItemError(ctx, r.ItemID, r.Error); writeErr != nil {
			e.logger.Warn("failed to record item error",
				"item_id", r.ItemID,
				"error", writeErr)
		}
		return r
	}

	if err != nil {
		e.logger.Warn("failed to persist classification result",
			"item_id", r.ItemID,
			"status", r.Status,
			"error", err)
		return model.ClassificationResult{
			ItemID: r.ItemID,
			Status: model.ResultFailed,
			Error:  fmt.Sprintf("failed to persist %s result: %v", r.Status, err),
		}
	}
	return r
}
