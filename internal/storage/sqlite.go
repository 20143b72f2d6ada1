package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oselz/taxon/internal/model"
	"github.com/oselz/taxon/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// queryable is an interface satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

// Transaction methods delegate to the main storage with the transaction.
func (t *sqliteTransaction) CountEligibleItems(ctx context.Context, orgID string, filters model.JobFilters) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return t.storage.countEligibleItemsTx(ctx, t.tx, orgID, filters)
}

func (t *sqliteTransaction) FetchItemIDs(ctx context.Context, orgID string, filters model.JobFilters, limit, offset int) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.fetchItemIDsTx(ctx, t.tx, orgID, filters, limit, offset)
}

func (t *sqliteTransaction) EnrichItems(ctx context.Context, ids []string) ([]model.EnrichedItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.enrichItemsTx(ctx, t.tx, ids)
}

func (t *sqliteTransaction) MarkProcessing(ctx context.Context, ids []string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.markProcessingTx(ctx, t.tx, ids)
}

func (t *sqliteTransaction) WriteClassification(ctx context.Context, itemID, targetID string, confidence float64, provider, reasoning string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.writeClassificationTx(ctx, t.tx, itemID, targetID, confidence, provider, reasoning)
}

func (t *sqliteTransaction) WriteTags(ctx context.Context, itemID string, tagIDs []string, confidence float64, provider, reasoning string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.writeTagsTx(ctx, t.tx, itemID, tagIDs, confidence, provider, reasoning)
}

func (t *sqliteTransaction) WriteSkipStatus(ctx context.Context, itemID, status string, reason model.SkipReason) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.writeSkipStatusTx(ctx, t.tx, itemID, status, reason)
}

func (t *sqliteTransaction) WriteItemError(ctx context.Context, itemID, message string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.writeItemErrorTx(ctx, t.tx, itemID, message)
}

func (t *sqliteTransaction) RecordProposedValue(ctx context.Context, itemID, proposedName string, confidence float64, reasoning, provider, jobID, orgID string, kind model.ItemKind) (*service.ProposalOutcome, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.recordProposedValueTx(ctx, t.tx, itemID, proposedName, confidence, reasoning, provider, jobID, orgID, kind)
}

func (t *sqliteTransaction) LoadTargetValues(ctx context.Context, orgID string, kind model.ItemKind) ([]model.TargetValue, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.loadTargetValuesTx(ctx, t.tx, orgID, kind)
}

func (t *sqliteTransaction) CreateJob(ctx context.Context, job *model.Job) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.createJobTx(ctx, t.tx, job)
}

func (t *sqliteTransaction) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getJobTx(ctx, t.tx, jobID)
}

func (t *sqliteTransaction) UpdateJobStatus(ctx context.Context, jobID string, from []model.JobStatus, to model.JobStatus) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	return t.storage.updateJobStatusTx(ctx, t.tx, jobID, from, to)
}

func (t *sqliteTransaction) SetJobStartedAt(ctx context.Context, jobID string, startedAt time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.setJobStartedAtTx(ctx, t.tx, jobID, startedAt)
}

func (t *sqliteTransaction) UpdateJobProgress(ctx context.Context, jobID string, processed, successful, failed, skipped, offset int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.updateJobProgressTx(ctx, t.tx, jobID, processed, successful, failed, skipped, offset)
}

func (t *sqliteTransaction) IncrementJobErrorCount(ctx context.Context, jobID, message string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return t.storage.incrementJobErrorCountTx(ctx, t.tx, jobID, message)
}

func (t *sqliteTransaction) CompleteJob(ctx context.Context, jobID string, completedAt time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.completeJobTx(ctx, t.tx, jobID, completedAt)
}

func (t *sqliteTransaction) FailJob(ctx context.Context, jobID, message string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.failJobTx(ctx, t.tx, jobID, message)
}

func (t *sqliteTransaction) ListRecentJobs(ctx context.Context, orgID string, limit int) ([]model.Job, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listRecentJobsTx(ctx, t.tx, orgID, limit)
}

func (t *sqliteTransaction) CreateBatchProgress(ctx context.Context, bp *model.BatchProgress) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return t.storage.createBatchProgressTx(ctx, t.tx, bp)
}

func (t *sqliteTransaction) CompleteBatchProgress(ctx context.Context, id int64, bp *model.BatchProgress) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.completeBatchProgressTx(ctx, t.tx, id, bp)
}

func (t *sqliteTransaction) FailBatchProgress(ctx context.Context, id int64, message string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.failBatchProgressTx(ctx, t.tx, id, message)
}

func (t *sqliteTransaction) ListBatchProgress(ctx context.Context, jobID string, limit int) ([]model.BatchProgress, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listBatchProgressTx(ctx, t.tx, jobID, limit)
}

func (t *sqliteTransaction) GetServiceConfig(ctx context.Context, orgID, serviceName string) (map[string]any, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getServiceConfigTx(ctx, t.tx, orgID, serviceName)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}
