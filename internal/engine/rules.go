package engine

import "github.com/oselz/taxon/internal/model"

// shouldReclassify decides whether a suggestion may overwrite an item's
// current classification state.
//
// Force always applies. An uncategorized item accepts any suggestion at or
// above the threshold. A categorized item with a recorded confidence is only
// overwritten by a strictly higher confidence, so a tie never churns the
// assignment. A categorized item with no recorded confidence falls back to
// the threshold test.
func shouldReclassify(item *model.EnrichedItem, confidence, threshold float64, force bool) (bool, model.SkipReason) {
	if force {
		return true, ""
	}

	if !item.HasCategory() {
		if confidence >= threshold {
			return true, ""
		}
		return false, model.SkipLowConfidence
	}

	if item.PreviousConfidence != nil {
		if confidence > *item.PreviousConfidence {
			return true, ""
		}
		return false, model.SkipAlreadyCategorized
	}

	if confidence >= threshold {
		return true, ""
	}
	return false, model.SkipLowConfidence
}
