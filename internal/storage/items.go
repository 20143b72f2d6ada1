package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oselz/taxon/internal/common"
	"github.com/oselz/taxon/internal/model"
)

// Item AI status values persisted in items.ai_status.
const (
	ItemStatusPending       = "pending"
	ItemStatusProcessing    = "processing"
	ItemStatusCompleted     = "completed"
	ItemStatusPendingReview = "pending_review"
	ItemStatusFailed        = "failed"
)

// buildItemFilterSQL renders a job's filters as a WHERE fragment. The
// returned clause always begins with "org_id = ?" so callers can append it
// after WHERE directly.
func buildItemFilterSQL(orgID string, filters model.JobFilters) (string, []any) {
	clauses := []string{"org_id = ?"}
	args := []any{orgID}

	if filters.SupplierID != "" {
		clauses = append(clauses, "supplier_id = ?")
		args = append(args, filters.SupplierID)
	}
	if filters.CategoryID != "" {
		clauses = append(clauses, "category_id = ?")
		args = append(args, filters.CategoryID)
	}
	if filters.Uncategorized {
		clauses = append(clauses, "(category_id IS NULL OR category_id = '')")
	}
	if filters.Search != "" {
		clauses = append(clauses, "(name LIKE ? OR sku LIKE ?)")
		pattern := "%" + filters.Search + "%"
		args = append(args, pattern, pattern)
	}

	return strings.Join(clauses, " AND "), args
}

// CountEligibleItems returns how many items match the job filters.
func (s *SQLiteStorage) CountEligibleItems(ctx context.Context, orgID string, filters model.JobFilters) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(orgID, "orgID"); err != nil {
		return 0, err
	}
	return s.countEligibleItemsTx(ctx, s.db, orgID, filters)
}

func (s *SQLiteStorage) countEligibleItemsTx(ctx context.Context, q queryable, orgID string, filters model.JobFilters) (int, error) {
	where, args := buildItemFilterSQL(orgID, filters)

	var count int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE "+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count eligible items: %w", err)
	}
	return count, nil
}

// FetchItemIDs returns the next page of item IDs under the job's stable
// ordering. Ordering is by creation time then ID so that resuming from an
// offset never skips or repeats items.
func (s *SQLiteStorage) FetchItemIDs(ctx context.Context, orgID string, filters model.JobFilters, limit, offset int) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(orgID, "orgID"); err != nil {
		return nil, err
	}
	return s.fetchItemIDsTx(ctx, s.db, orgID, filters, limit, offset)
}

func (s *SQLiteStorage) fetchItemIDsTx(ctx context.Context, q queryable, orgID string, filters model.JobFilters, limit, offset int) ([]string, error) {
	where, args := buildItemFilterSQL(orgID, filters)
	args = append(args, limit, offset)

	rows, err := q.QueryContext(ctx, `
		SELECT id FROM items
		WHERE `+where+`
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch item ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EnrichItems loads full item records for a set of IDs, including current
// tag assignments.
func (s *SQLiteStorage) EnrichItems(ctx context.Context, ids []string) ([]model.EnrichedItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateIDs(ids); err != nil {
		return nil, err
	}
	return s.enrichItemsTx(ctx, s.db, ids)
}

func (s *SQLiteStorage) enrichItemsTx(ctx context.Context, q queryable, ids []string) ([]model.EnrichedItem, error) {
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, name, COALESCE(sku, ''), COALESCE(description, ''),
		       COALESCE(supplier_id, ''), COALESCE(supplier_name, ''),
		       COALESCE(attributes, '{}'),
		       category_id, category_name, previous_confidence, ai_confidence, created_at
		FROM items
		WHERE id IN (`+placeholders+`)
		ORDER BY created_at ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to enrich items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.EnrichedItem
	index := make(map[string]int)
	for rows.Next() {
		var item model.EnrichedItem
		var attrsJSON string
		var aiConfidence sql.NullFloat64
		if err := rows.Scan(
			&item.ID,
			&item.Name,
			&item.SKU,
			&item.Description,
			&item.SupplierID,
			&item.SupplierName,
			&attrsJSON,
			&item.CategoryID,
			&item.CategoryName,
			&item.PreviousConfidence,
			&aiConfidence,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}

		// The live confidence, when present, is the prior the next
		// reclassification round compares against.
		if aiConfidence.Valid {
			c := aiConfidence.Float64
			item.PreviousConfidence = &c
		}

		if attrsJSON != "" {
			if err := json.Unmarshal([]byte(attrsJSON), &item.Attributes); err != nil {
				item.Attributes = nil
			}
		}

		index[item.ID] = len(items)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachTagsTx(ctx, q, placeholders, args, items, index); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *SQLiteStorage) attachTagsTx(ctx context.Context, q queryable, placeholders string, args []any, items []model.EnrichedItem, index map[string]int) error {
	rows, err := q.QueryContext(ctx, `
		SELECT item_id, tag_id FROM item_tags
		WHERE item_id IN (`+placeholders+`)
		ORDER BY tag_id ASC
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to load item tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var itemID, tagID string
		if err := rows.Scan(&itemID, &tagID); err != nil {
			return fmt.Errorf("failed to scan item tag: %w", err)
		}
		if i, ok := index[itemID]; ok {
			items[i].Tags = append(items[i].Tags, tagID)
		}
	}
	return rows.Err()
}

// MarkProcessing sets the advisory processing status on a set of items so
// overlapping jobs do not double-pick them.
func (s *SQLiteStorage) MarkProcessing(ctx context.Context, ids []string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateIDs(ids); err != nil {
		return err
	}
	return s.markProcessingTx(ctx, s.db, ids)
}

func (s *SQLiteStorage) markProcessingTx(ctx context.Context, q queryable, ids []string) error {
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+1)
	args = append(args, ItemStatusProcessing)
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := q.ExecContext(ctx, `
		UPDATE items
		SET ai_status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to mark items processing: %w", err)
	}
	return nil
}

// WriteClassification applies a completed categorization to an item. The
// current confidence is moved into previous_confidence so the next
// reclassification round can compare against it.
func (s *SQLiteStorage) WriteClassification(ctx context.Context, itemID, targetID string, confidence float64, provider, reasoning string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(itemID, "itemID"); err != nil {
		return err
	}
	if err := validateString(targetID, "targetID"); err != nil {
		return err
	}
	return s.writeClassificationTx(ctx, s.db, itemID, targetID, confidence, provider, reasoning)
}

func (s *SQLiteStorage) writeClassificationTx(ctx context.Context, q queryable, itemID, targetID string, confidence float64, provider, reasoning string) error {
	result, err := q.ExecContext(ctx, `
		UPDATE items
		SET previous_confidence = ai_confidence,
		    category_id = ?,
		    category_name = (SELECT name FROM targets WHERE id = ?),
		    ai_confidence = ?,
		    ai_provider = ?,
		    ai_reasoning = ?,
		    ai_status = ?,
		    ai_status_reason = NULL,
		    ai_error = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, targetID, targetID, confidence, provider, reasoning, ItemStatusCompleted, itemID)
	if err != nil {
		return fmt.Errorf("failed to write classification: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check classification write: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("item %s: %w", itemID, common.ErrNotFound)
	}
	return nil
}

// WriteTags replaces an item's tag assignments with the given set.
func (s *SQLiteStorage) WriteTags(ctx context.Context, itemID string, tagIDs []string, confidence float64, provider, reasoning string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(itemID, "itemID"); err != nil {
		return err
	}
	if err := validateIDs(tagIDs); err != nil {
		return err
	}
	return s.writeTagsTx(ctx, s.db, itemID, tagIDs, confidence, provider, reasoning)
}

func (s *SQLiteStorage) writeTagsTx(ctx context.Context, q queryable, itemID string, tagIDs []string, confidence float64, provider, reasoning string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM item_tags WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("failed to clear item tags: %w", err)
	}

	for _, tagID := range tagIDs {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO item_tags (item_id, tag_id, confidence, provider)
			VALUES (?, ?, ?, ?)
		`, itemID, tagID, confidence, provider); err != nil {
			return fmt.Errorf("failed to insert item tag: %w", err)
		}
	}

	result, err := q.ExecContext(ctx, `
		UPDATE items
		SET previous_confidence = ai_confidence,
		    ai_confidence = ?,
		    ai_provider = ?,
		    ai_reasoning = ?,
		    ai_status = ?,
		    ai_status_reason = NULL,
		    ai_error = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, confidence, provider, reasoning, ItemStatusCompleted, itemID)
	if err != nil {
		return fmt.Errorf("failed to write tag metadata: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check tag write: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("item %s: %w", itemID, common.ErrNotFound)
	}
	return nil
}

// WriteSkipStatus resets an item after a skipped decision so a later sweep
// can pick it up again.
func (s *SQLiteStorage) WriteSkipStatus(ctx context.Context, itemID, status string, reason model.SkipReason) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(itemID, "itemID"); err != nil {
		return err
	}
	if err := validateString(status, "status"); err != nil {
		return err
	}
	return s.writeSkipStatusTx(ctx, s.db, itemID, status, reason)
}

func (s *SQLiteStorage) writeSkipStatusTx(ctx context.Context, q queryable, itemID, status string, reason model.SkipReason) error {
	_, err := q.ExecContext(ctx, `
		UPDATE items
		SET ai_status = ?, ai_status_reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, string(reason), itemID)
	if err != nil {
		return fmt.Errorf("failed to write skip status: %w", err)
	}
	return nil
}

// WriteItemError records a per-item processing failure.
func (s *SQLiteStorage) WriteItemError(ctx context.Context, itemID, message string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(itemID, "itemID"); err != nil {
		return err
	}
	return s.writeItemErrorTx(ctx, s.db, itemID, message)
}

func (s *SQLiteStorage) writeItemErrorTx(ctx context.Context, q queryable, itemID, message string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE items
		SET ai_status = ?, ai_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, ItemStatusFailed, message, itemID)
	if err != nil {
		return fmt.Errorf("failed to write item error: %w", err)
	}
	return nil
}

// GetItem loads one item for inspection. Used by tests and the CLI.
func (s *SQLiteStorage) GetItem(ctx context.Context, itemID string) (*model.EnrichedItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(itemID, "itemID"); err != nil {
		return nil, err
	}

	items, err := s.enrichItemsTx(ctx, s.db, []string{itemID})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("item %s: %w", itemID, common.ErrNotFound)
	}
	return &items[0], nil
}

// SeedItem inserts a raw item row. Used by tests and import tooling.
func (s *SQLiteStorage) SeedItem(ctx context.Context, orgID string, item *model.EnrichedItem) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("%w: item", ErrNilParameter)
	}
	if err := validateString(item.ID, "item.ID"); err != nil {
		return err
	}

	attrs := "{}"
	if len(item.Attributes) > 0 {
		data, err := json.Marshal(item.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes: %w", err)
		}
		attrs = string(data)
	}

	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, org_id, name, sku, description,
		                   supplier_id, supplier_name,
		                   attributes, category_id, category_name,
		                   ai_confidence, previous_confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, orgID, item.Name, item.SKU, item.Description,
		item.SupplierID, item.SupplierName,
		attrs, item.CategoryID, item.CategoryName,
		item.PreviousConfidence, nil, createdAt)
	if err != nil {
		return fmt.Errorf("failed to seed item: %w", err)
	}
	return nil
}
