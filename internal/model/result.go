package model

// ResultStatus is the per-item outcome of applying classification rules to a
// suggestion. Exactly one status holds for a given result.
type ResultStatus string

// Result status constants.
const (
	ResultCompleted     ResultStatus = "completed"
	ResultSkipped       ResultStatus = "skipped"
	ResultPendingReview ResultStatus = "pending_review"
	ResultFailed        ResultStatus = "failed"
)

// SkipReason explains why a suggestion was not applied.
type SkipReason string

// Skip reason constants.
const (
	SkipNoSuggestion       SkipReason = "no_suggestion"
	SkipLowConfidence      SkipReason = "low_confidence"
	SkipAlreadyCategorized SkipReason = "already_categorized"
)

// ClassificationResult records the decision taken for a single item.
// A completed result always carries a resolved target and confidence.
type ClassificationResult struct {
	TargetID      *string
	TargetName    string
	Provider      string
	Reasoning     string
	Error         string
	ItemID        string
	Status        ResultStatus
	SkippedReason SkipReason
	Confidence    float64
	TagIDs        []string
}

// ItemError pairs an item with the error that prevented processing it.
type ItemError struct {
	ItemID string
	Error  string
}

// BatchResult aggregates the outcome of one Classification Engine
// invocation. It is a value object: produced once, never mutated.
//
// EstimatedTokens is a rough estimate derived from the successful count,
// not measured provider usage. It must never be treated as billing-accurate.
type BatchResult struct {
	Results         []ClassificationResult
	Errors          []ItemError
	ItemsProcessed  int
	Successful      int
	Failed          int
	Skipped         int
	PendingReview   int
	DurationMS      int64
	EstimatedTokens int
}

// tokensPerSuccessfulItem is the flat per-item token estimate used for
// EstimatedTokens bookkeeping.
const tokensPerSuccessfulItem = 150

// EstimateTokens returns the token estimate for a number of successfully
// classified items.
func EstimateTokens(successful int) int {
	return successful * tokensPerSuccessfulItem
}
