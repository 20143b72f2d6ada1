package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oselz/taxon/internal/model"
)

func TestShouldReclassify(t *testing.T) {
	catID := "cat-1"
	prior := func(c float64) *float64 { return &c }

	tests := []struct {
		name       string
		item       model.EnrichedItem
		confidence float64
		threshold  float64
		force      bool
		wantApply  bool
		wantReason model.SkipReason
	}{
		{
			name:       "uncategorized above threshold",
			item:       model.EnrichedItem{},
			confidence: 0.92, threshold: 0.7,
			wantApply: true,
		},
		{
			name:       "uncategorized at threshold",
			item:       model.EnrichedItem{},
			confidence: 0.7, threshold: 0.7,
			wantApply: true,
		},
		{
			name:       "uncategorized below threshold",
			item:       model.EnrichedItem{},
			confidence: 0.5, threshold: 0.7,
			wantApply: false, wantReason: model.SkipLowConfidence,
		},
		{
			name:       "categorized beaten by higher confidence",
			item:       model.EnrichedItem{CategoryID: &catID, PreviousConfidence: prior(0.6)},
			confidence: 0.9, threshold: 0.7,
			wantApply: true,
		},
		{
			name:       "categorized not beaten by equal confidence",
			item:       model.EnrichedItem{CategoryID: &catID, PreviousConfidence: prior(0.9)},
			confidence: 0.9, threshold: 0.7,
			wantApply: false, wantReason: model.SkipAlreadyCategorized,
		},
		{
			name:       "categorized not beaten by lower confidence",
			item:       model.EnrichedItem{CategoryID: &catID, PreviousConfidence: prior(0.9)},
			confidence: 0.7, threshold: 0.7,
			wantApply: false, wantReason: model.SkipAlreadyCategorized,
		},
		{
			name:       "categorized without prior falls back to threshold",
			item:       model.EnrichedItem{CategoryID: &catID},
			confidence: 0.8, threshold: 0.7,
			wantApply: true,
		},
		{
			name:       "categorized without prior below threshold",
			item:       model.EnrichedItem{CategoryID: &catID},
			confidence: 0.6, threshold: 0.7,
			wantApply: false, wantReason: model.SkipLowConfidence,
		},
		{
			name:       "force overrides everything",
			item:       model.EnrichedItem{CategoryID: &catID, PreviousConfidence: prior(0.99)},
			confidence: 0.1, threshold: 0.7, force: true,
			wantApply: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apply, reason := shouldReclassify(&tt.item, tt.confidence, tt.threshold, tt.force)
			assert.Equal(t, tt.wantApply, apply)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}
