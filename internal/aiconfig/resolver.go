package aiconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oselz/taxon/internal/common"
	"github.com/oselz/taxon/internal/service"
)

// Resolver loads and normalizes an org's AI service configuration.
type Resolver struct {
	storage service.Storage
	logger  *slog.Logger
}

// NewResolver creates a configuration resolver backed by storage.
func NewResolver(storage service.Storage) *Resolver {
	return &Resolver{
		storage: storage,
		logger:  common.ComponentLogger("aiconfig"),
	}
}

// Resolve returns the normalized service configuration for an org.
//
// A missing document, a disabled service, or a document with no usable
// providers all surface as typed configuration errors; callers are expected
// to map them to an empty run rather than a crash.
func (r *Resolver) Resolve(ctx context.Context, orgID string) (*ServiceConfig, error) {
	raw, err := r.storage.GetServiceConfig(ctx, orgID, ServiceName)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("org %s: %w", orgID, common.ErrMissingConfig)
		}
		return nil, fmt.Errorf("failed to load service config: %w", err)
	}

	cfg, err := Normalize(raw)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("resolved service config",
		"org_id", orgID,
		"providers", len(cfg.Providers),
		"enabled", len(cfg.EnabledProviders()),
		"batch_size", cfg.Defaults.BatchSize)

	return cfg, nil
}
