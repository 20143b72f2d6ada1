package model

import "time"

// JobStatus tracks a classification job through its lifecycle.
type JobStatus string

// Job status constants.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// CanTransitionTo reports whether the state machine permits moving from s to
// next. Queued and paused are the only non-terminal resting states.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobQueued:
		return next == JobRunning || next == JobCancelled
	case JobRunning:
		return next == JobPaused || next == JobCompleted || next == JobFailed || next == JobCancelled
	case JobPaused:
		return next == JobQueued || next == JobCancelled
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobFilters selects which items belong to a job. Serialized alongside the
// job so that resume sees the same item set.
type JobFilters struct {
	SupplierID    string `json:"supplier_id,omitempty"`
	CategoryID    string `json:"category_id,omitempty"`
	Search        string `json:"search,omitempty"`
	Uncategorized bool   `json:"uncategorized,omitempty"`
}

// JobConfig carries the per-job tuning knobs.
type JobConfig struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	MaxRetries          int     `json:"max_retries"`
	BatchDelayMS        int     `json:"batch_delay_ms"`
	ItemLimit           int     `json:"item_limit,omitempty"`
	Force               bool    `json:"force,omitempty"`
}

// DefaultJobConfig returns the standard tuning used when a job is created
// without explicit overrides.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		ConfidenceThreshold: 0.7,
		MaxRetries:          3,
		BatchDelayMS:        1000,
	}
}

// Job is the unit of resumable work: a sweep over all items matching
// Filters, processed in batches of BatchSize starting at CurrentOffset.
type Job struct {
	CreatedAt      time.Time
	StartedAt      *time.Time
	PausedAt       *time.Time
	CancelledAt    *time.Time
	CompletedAt    *time.Time
	ID             string
	OrgID          string
	CreatedBy      string
	ErrorMessage   string
	Kind           ItemKind
	Status         JobStatus
	Filters        JobFilters
	Config         JobConfig
	TotalItems     int
	ProcessedItems int
	Successful     int
	Failed         int
	Skipped        int
	CurrentOffset  int
	BatchSize      int
	ErrorCount     int
}
