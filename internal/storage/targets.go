package storage

import (
	"context"
	"fmt"

	"github.com/oselz/taxon/internal/model"
)

// LoadTargetValues returns every taxonomy entry of one kind for an org,
// ordered for stable prompt construction.
func (s *SQLiteStorage) LoadTargetValues(ctx context.Context, orgID string, kind model.ItemKind) ([]model.TargetValue, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(orgID, "orgID"); err != nil {
		return nil, err
	}
	if err := validateKind(kind); err != nil {
		return nil, err
	}
	return s.loadTargetValuesTx(ctx, s.db, orgID, kind)
}

func (s *SQLiteStorage) loadTargetValuesTx(ctx context.Context, q queryable, orgID string, kind model.ItemKind) ([]model.TargetValue, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, parent_id, path, level
		FROM targets
		WHERE org_id = ? AND kind = ?
		ORDER BY path ASC, name ASC
	`, orgID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to load target values: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var targets []model.TargetValue
	for rows.Next() {
		var t model.TargetValue
		if err := rows.Scan(&t.ID, &t.Name, &t.ParentID, &t.Path, &t.Level); err != nil {
			return nil, fmt.Errorf("failed to scan target value: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// SeedTarget inserts or replaces one taxonomy entry. Used by tests and
// import tooling.
func (s *SQLiteStorage) SeedTarget(ctx context.Context, orgID string, kind model.ItemKind, target model.TargetValue) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(orgID, "orgID"); err != nil {
		return err
	}
	if err := validateKind(kind); err != nil {
		return err
	}
	if err := validateString(target.ID, "target.ID"); err != nil {
		return err
	}

	path := target.Path
	if path == "" {
		path = target.Name
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO targets (id, org_id, kind, name, parent_id, path, level)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, target.ID, orgID, string(kind), target.Name, target.ParentID, path, target.Level)
	if err != nil {
		return fmt.Errorf("failed to seed target: %w", err)
	}
	return nil
}
