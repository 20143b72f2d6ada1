package model

import "time"

// BatchProgress is one append-only row per physical chunk processed within a
// job. Created before the batch starts and completed after it finishes; once
// completed it is immutable. It feeds derived metrics only and is never read
// back into control flow.
type BatchProgress struct {
	StartedAt       time.Time
	CompletedAt     *time.Time
	JobID           string
	ProviderUsed    string
	ErrorMessage    string
	ID              int64
	BatchNumber     int
	BatchOffset     int
	BatchSize       int
	ItemsInBatch    int
	SuccessfulCount int
	FailedCount     int
	SkippedCount    int
	DurationMS      int64
	EstimatedTokens int
}

// JobProgress is the derived live view of a job's advancement.
type JobProgress struct {
	PercentComplete  float64
	ProcessedItems   int
	TotalItems       int
	ETASeconds       int64
	AvgBatchDuration time.Duration
}

// PerformanceMetrics summarizes throughput over a job's completed batches.
type PerformanceMetrics struct {
	BatchesByProvider    map[string]int
	CompletedBatches     int
	AvgBatchDurationMS   int64
	ItemsPerSecond       float64
	TotalEstimatedTokens int
}

// BatchError is one entry in a job's recent-error summary.
type BatchError struct {
	OccurredAt  time.Time
	Message     string
	BatchNumber int
}

// JobStatusReport joins live job counters with tracker-derived metrics into
// a single read model for external callers.
type JobStatusReport struct {
	Job          Job
	Progress     JobProgress
	Performance  PerformanceMetrics
	RecentErrors []BatchError
}
