package llm

import (
	"context"
	"errors"
)

// ErrSchemaUnsupported indicates the provider rejected schema-constrained
// generation for the configured model. The adapter falls back to free-text
// generation once; it never propagates this to the batcher.
var ErrSchemaUnsupported = errors.New("schema-constrained generation unsupported")

// Client defines the interface for LLM providers.
//
// GenerateStructured asks the provider to enforce the given JSON schema on
// its output and returns the raw JSON text. GenerateText sends the prompt
// as-is and returns whatever the model wrote.
type Client interface {
	Name() string
	Model() string
	GenerateStructured(ctx context.Context, prompt string, schema map[string]any) (string, error)
	GenerateText(ctx context.Context, prompt string) (string, error)
	// WithModel returns a client identical to this one but configured for a
	// different model. Used for explicit model substitution.
	WithModel(model string) Client
	Close()
}

// Config holds the settings for constructing a provider client.
type Config struct {
	Provider          string
	APIKey            string
	BaseURL           string
	Model             string
	MaxTokens         int
	RequestsPerMinute int
}
