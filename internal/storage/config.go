package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oselz/taxon/internal/common"
)

// GetServiceConfig returns the raw settings document for one org's named AI
// service. Normalization into a typed configuration happens in the aiconfig
// package, never here.
func (s *SQLiteStorage) GetServiceConfig(ctx context.Context, orgID, serviceName string) (map[string]any, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(orgID, "orgID"); err != nil {
		return nil, err
	}
	if err := validateString(serviceName, "serviceName"); err != nil {
		return nil, err
	}
	return s.getServiceConfigTx(ctx, s.db, orgID, serviceName)
}

func (s *SQLiteStorage) getServiceConfigTx(ctx context.Context, q queryable, orgID, serviceName string) (map[string]any, error) {
	var settings string
	err := q.QueryRowContext(ctx, `
		SELECT settings FROM service_configs
		WHERE org_id = ? AND service = ?
	`, orgID, serviceName).Scan(&settings)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("service config %s/%s: %w", orgID, serviceName, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service config: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(settings), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse service config: %w", err)
	}
	return raw, nil
}

// UpsertServiceConfig stores a settings document for one org's named AI
// service. Used by tests and the CLI config command.
func (s *SQLiteStorage) UpsertServiceConfig(ctx context.Context, orgID, serviceName string, settings map[string]any) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(orgID, "orgID"); err != nil {
		return err
	}
	if err := validateString(serviceName, "serviceName"); err != nil {
		return err
	}
	if settings == nil {
		return fmt.Errorf("%w: settings", ErrNilParameter)
	}

	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal service config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO service_configs (org_id, service, settings, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (org_id, service)
		DO UPDATE SET settings = excluded.settings, updated_at = CURRENT_TIMESTAMP
	`, orgID, serviceName, string(data))
	if err != nil {
		return fmt.Errorf("failed to upsert service config: %w", err)
	}
	return nil
}
