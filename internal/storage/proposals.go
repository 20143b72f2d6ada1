package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oselz/taxon/internal/model"
	"github.com/oselz/taxon/internal/service"
)

// RecordProposedValue registers a provider-proposed new taxonomy entry for
// human review and links the item to it. Proposals are deduplicated by
// normalized name per org and kind, so many items can point at one proposal.
func (s *SQLiteStorage) RecordProposedValue(ctx context.Context, itemID, proposedName string, confidence float64, reasoning, provider, jobID, orgID string, kind model.ItemKind) (*service.ProposalOutcome, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(itemID, "itemID"); err != nil {
		return nil, err
	}
	if err := validateString(proposedName, "proposedName"); err != nil {
		return nil, err
	}
	if err := validateString(orgID, "orgID"); err != nil {
		return nil, err
	}
	if err := validateKind(kind); err != nil {
		return nil, err
	}
	return s.recordProposedValueTx(ctx, s.db, itemID, proposedName, confidence, reasoning, provider, jobID, orgID, kind)
}

func (s *SQLiteStorage) recordProposedValueTx(ctx context.Context, q queryable, itemID, proposedName string, confidence float64, reasoning, provider, jobID, orgID string, kind model.ItemKind) (*service.ProposalOutcome, error) {
	nameKey := strings.ToLower(strings.TrimSpace(proposedName))

	var proposedID string
	err := q.QueryRowContext(ctx, `
		SELECT id FROM proposed_values
		WHERE org_id = ? AND kind = ? AND name_key = ?
	`, orgID, string(kind), nameKey).Scan(&proposedID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		proposedID = uuid.NewString()
		if _, insErr := q.ExecContext(ctx, `
			INSERT INTO proposed_values (id, org_id, kind, name, name_key, confidence, reasoning, provider, job_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, proposedID, orgID, string(kind), strings.TrimSpace(proposedName), nameKey, confidence, reasoning, provider, jobID); insErr != nil {
			return nil, fmt.Errorf("failed to insert proposed value: %w", insErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to look up proposed value: %w", err)
	}

	if _, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO proposed_value_items (proposed_id, item_id)
		VALUES (?, ?)
	`, proposedID, itemID); err != nil {
		return nil, fmt.Errorf("failed to link item to proposed value: %w", err)
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE items
		SET ai_status = ?, ai_status_reason = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, ItemStatusPendingReview, itemID); err != nil {
		return nil, fmt.Errorf("failed to flag item pending review: %w", err)
	}

	return &service.ProposalOutcome{
		ProposedID: proposedID,
		NextStatus: ItemStatusPendingReview,
	}, nil
}

// CountProposedValues returns how many open proposals exist for an org and
// kind. Used by the CLI status output.
func (s *SQLiteStorage) CountProposedValues(ctx context.Context, orgID string, kind model.ItemKind) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(orgID, "orgID"); err != nil {
		return 0, err
	}
	if err := validateKind(kind); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM proposed_values
		WHERE org_id = ? AND kind = ? AND status = 'pending'
	`, orgID, string(kind)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count proposed values: %w", err)
	}
	return count, nil
}
