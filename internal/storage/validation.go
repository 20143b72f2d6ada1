// Package storage provides the data persistence layer for the taxon application.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oselz/taxon/internal/model"
)

// Validation errors.
var (
	ErrNilContext   = errors.New("context cannot be nil")
	ErrEmptyString  = errors.New("string parameter cannot be empty")
	ErrNilParameter = errors.New("parameter cannot be nil")
	ErrEmptySlice   = errors.New("slice cannot be empty")
	ErrInvalidJob   = errors.New("invalid job")
	ErrInvalidBatch = errors.New("invalid batch progress")
	ErrInvalidKind  = errors.New("invalid item kind")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateIDs ensures a slice of item IDs is non-nil, non-empty, and
// contains no blank entries.
func validateIDs(ids []string) error {
	if ids == nil {
		return fmt.Errorf("%w: ids", ErrNilParameter)
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: ids", ErrEmptySlice)
	}
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: ids[%d]", ErrEmptyString, i)
		}
	}
	return nil
}

// validateKind ensures an item kind is one of the known taxonomies.
func validateKind(kind model.ItemKind) error {
	switch kind {
	case model.KindCategory, model.KindTag:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
}

// validateJob validates a job before insertion.
func validateJob(job *model.Job) error {
	if job == nil {
		return fmt.Errorf("%w: job", ErrNilParameter)
	}
	if job.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidJob)
	}
	if job.OrgID == "" {
		return fmt.Errorf("%w: missing org ID", ErrInvalidJob)
	}
	if err := validateKind(job.Kind); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if job.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be at least 1", ErrInvalidJob)
	}
	return nil
}

// validateBatchProgress validates a batch progress row before insertion.
func validateBatchProgress(bp *model.BatchProgress) error {
	if bp == nil {
		return fmt.Errorf("%w: batch progress", ErrNilParameter)
	}
	if bp.JobID == "" {
		return fmt.Errorf("%w: missing job ID", ErrInvalidBatch)
	}
	if bp.BatchNumber < 1 {
		return fmt.Errorf("%w: batch number must be at least 1", ErrInvalidBatch)
	}
	if bp.BatchOffset < 0 {
		return fmt.Errorf("%w: negative batch offset", ErrInvalidBatch)
	}
	return nil
}
