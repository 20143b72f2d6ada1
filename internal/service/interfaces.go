// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/oselz/taxon/internal/model"
)

// ProposalOutcome is what storage reports after recording a proposed new
// taxonomy value for an item.
type ProposalOutcome struct {
	ProposedID string
	NextStatus string
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Item operations
	CountEligibleItems(ctx context.Context, orgID string, filters model.JobFilters) (int, error)
	FetchItemIDs(ctx context.Context, orgID string, filters model.JobFilters, limit, offset int) ([]string, error)
	EnrichItems(ctx context.Context, ids []string) ([]model.EnrichedItem, error)
	MarkProcessing(ctx context.Context, ids []string) error
	WriteClassification(ctx context.Context, itemID string, targetID string, confidence float64, provider, reasoning string) error
	WriteTags(ctx context.Context, itemID string, tagIDs []string, confidence float64, provider, reasoning string) error
	WriteSkipStatus(ctx context.Context, itemID string, status string, reason model.SkipReason) error
	WriteItemError(ctx context.Context, itemID string, message string) error
	RecordProposedValue(ctx context.Context, itemID, proposedName string, confidence float64, reasoning, provider, jobID, orgID string, kind model.ItemKind) (*ProposalOutcome, error)

	// Target values
	LoadTargetValues(ctx context.Context, orgID string, kind model.ItemKind) ([]model.TargetValue, error)

	// Job operations
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, from []model.JobStatus, to model.JobStatus) (bool, error)
	SetJobStartedAt(ctx context.Context, jobID string, startedAt time.Time) error
	UpdateJobProgress(ctx context.Context, jobID string, processed, successful, failed, skipped, offset int) error
	IncrementJobErrorCount(ctx context.Context, jobID string, message string) (int, error)
	CompleteJob(ctx context.Context, jobID string, completedAt time.Time) error
	FailJob(ctx context.Context, jobID string, message string) error
	ListRecentJobs(ctx context.Context, orgID string, limit int) ([]model.Job, error)

	// Batch progress
	CreateBatchProgress(ctx context.Context, bp *model.BatchProgress) (int64, error)
	CompleteBatchProgress(ctx context.Context, id int64, bp *model.BatchProgress) error
	FailBatchProgress(ctx context.Context, id int64, message string) error
	ListBatchProgress(ctx context.Context, jobID string, limit int) ([]model.BatchProgress, error)

	// Service configuration
	GetServiceConfig(ctx context.Context, orgID, serviceName string) (map[string]any, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
