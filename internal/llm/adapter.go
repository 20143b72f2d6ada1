package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oselz/taxon/internal/aiconfig"
	"github.com/oselz/taxon/internal/common"
	"github.com/oselz/taxon/internal/model"
)

// Adapter invokes one configured provider for one batch of items. It owns a
// client per provider configuration and applies the schema-first,
// text-fallback strategy with a hard per-call timeout.
type Adapter struct {
	clients           map[string]Client
	factory           func(Config) (Client, error)
	logger            *slog.Logger
	mu                sync.Mutex
	allowSubstitution bool
}

// AdapterOptions configures an Adapter.
type AdapterOptions struct {
	// AllowModelSubstitution permits swapping a schema-incapable configured
	// model for a known-good one during schema-constrained calls, for every
	// call this adapter makes. The per-org service configuration can opt in
	// per call instead; every substitution is logged.
	AllowModelSubstitution bool
}

// NewAdapter creates a provider adapter.
func NewAdapter(opts AdapterOptions) *Adapter {
	return &Adapter{
		clients:           make(map[string]Client),
		factory:           NewClient,
		logger:            common.ComponentLogger("llm"),
		allowSubstitution: opts.AllowModelSubstitution,
	}
}

// Call performs one external inference call for a batch. allowSubstitution
// is the resolved per-org opt-in for model substitution; the adapter-level
// option enables it for every call regardless.
//
// Timeout expiry surfaces as common.ErrProviderTimeout and rate limiting as
// common.ErrRateLimit so the batcher can blacklist the provider for the
// rest of the run. A response that survives no parse attempt surfaces as
// common.ErrUnparsableResponse.
func (a *Adapter) Call(ctx context.Context, provider aiconfig.ProviderConfig, items []model.EnrichedItem, targets []model.TargetValue, kind model.ItemKind, timeout time.Duration, allowSubstitution bool) ([]model.Suggestion, error) {
	client, err := a.clientFor(provider)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := BuildBatchPrompt(items, targets, kind)
	limits := LimitsFor(client.Model())

	if limits.SupportsSchema || allowSubstitution || a.allowSubstitution {
		raw, schemaErr := a.generateStructured(callCtx, client, prompt, kind, limits)
		switch {
		case schemaErr == nil:
			return a.parse(raw, provider.Name, len(items))
		case errors.Is(schemaErr, ErrSchemaUnsupported):
			a.logger.Debug("schema generation unsupported, falling back to text",
				"provider", provider.Name,
				"model", client.Model())
		default:
			return nil, a.mapTimeout(callCtx, schemaErr)
		}
	}

	raw, err := client.GenerateText(callCtx, prompt)
	if err != nil {
		return nil, a.mapTimeout(callCtx, err)
	}
	return a.parse(raw, provider.Name, len(items))
}

func (a *Adapter) generateStructured(ctx context.Context, client Client, prompt string, kind model.ItemKind, limits ModelLimits) (string, error) {
	schemaClient := client
	if !limits.SupportsSchema {
		substitute := CompatibleModel(client.Name())
		if substitute == "" {
			return "", ErrSchemaUnsupported
		}
		a.logger.Warn("substituting schema-capable model",
			"provider", client.Name(),
			"configured_model", client.Model(),
			"substitute_model", substitute)
		schemaClient = client.WithModel(substitute)
	}
	return schemaClient.GenerateStructured(ctx, prompt, SuggestionSchema(kind))
}

func (a *Adapter) parse(raw, provider string, batchSize int) ([]model.Suggestion, error) {
	suggestions := ParseStructuredResponse(raw, provider)
	if suggestions == nil {
		return nil, fmt.Errorf("provider %s: %w", provider, common.ErrUnparsableResponse)
	}
	if len(suggestions) < batchSize {
		a.logger.Debug("provider answered a partial batch",
			"provider", provider,
			"expected", batchSize,
			"received", len(suggestions))
	}
	return suggestions, nil
}

// mapTimeout converts a generic failure caused by our own deadline into the
// distinguishable timeout sentinel.
func (a *Adapter) mapTimeout(ctx context.Context, err error) error {
	if errors.Is(err, common.ErrProviderTimeout) || errors.Is(err, common.ErrRateLimit) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", common.ErrProviderTimeout, err)
	}
	return err
}

func (a *Adapter) clientFor(provider aiconfig.ProviderConfig) (Client, error) {
	key := provider.Name + "/" + provider.Model

	a.mu.Lock()
	defer a.mu.Unlock()

	if client, ok := a.clients[key]; ok {
		return client, nil
	}

	client, err := a.factory(Config{
		Provider: provider.Name,
		APIKey:   provider.APIKey,
		BaseURL:  provider.BaseURL,
		Model:    provider.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", provider.Name, err)
	}
	a.clients[key] = client
	return client, nil
}

// Close releases every cached client.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, client := range a.clients {
		client.Close()
	}
	a.clients = make(map[string]Client)
}
