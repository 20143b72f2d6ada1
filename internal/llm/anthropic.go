package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/oselz/taxon/internal/common"
)

// suggestionToolName is the forced tool used for schema-constrained output.
const suggestionToolName = "record_suggestions"

// anthropicClient implements the Client interface using the official
// Anthropic SDK. Schema-constrained generation is realized as forced
// tool-use: the model must call a tool whose input schema is the response
// schema, and the tool input is the structured output.
type anthropicClient struct {
	limiter   *rateLimiter
	model     string
	client    anthropic.Client
	maxTokens int64
}

// newAnthropicClient creates a new Anthropic API client.
func newAnthropicClient(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 8192
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &anthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		limiter:   newRateLimiter(cfg.RequestsPerMinute),
	}, nil
}

func (c *anthropicClient) Name() string  { return "anthropic" }
func (c *anthropicClient) Model() string { return c.model }

func (c *anthropicClient) WithModel(model string) Client {
	clone := *c
	clone.model = model
	return &clone
}

// GenerateStructured forces a tool call whose input schema is the desired
// response shape and returns the tool input as raw JSON.
func (c *anthropicClient) GenerateStructured(ctx context.Context, prompt string, schema map[string]any) (string, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return "", err
	}

	properties, _ := schema["properties"].(map[string]any)
	required, _ := schema["required"].([]string)

	tool := anthropic.ToolParam{
		Name:        suggestionToolName,
		Description: anthropic.String("Record the classification suggestions for the given products."),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: properties,
			Required:   required,
		},
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools: []anthropic.ToolUnionParam{
			{OfTool: &tool},
		},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: suggestionToolName},
		},
	})
	if err != nil {
		return "", c.mapError(err)
	}

	for _, block := range message.Content {
		if block.Type == "tool_use" && len(block.Input) > 0 {
			return string(block.Input), nil
		}
	}
	return "", common.ErrNoObjectGenerated
}

// GenerateText sends the prompt as a plain message and returns the first
// text block.
func (c *anthropicClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return "", err
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", c.mapError(err)
	}

	for _, block := range message.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", common.ErrNoObjectGenerated
}

// mapError translates SDK failures into the sentinel errors the batcher's
// circuit breaker keys on.
func (c *anthropicClient) mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("anthropic: %w", common.ErrProviderTimeout)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return fmt.Errorf("anthropic: %w", common.ErrRateLimit)
		case http.StatusBadRequest:
			if strings.Contains(strings.ToLower(apiErr.Error()), "tool") {
				return fmt.Errorf("anthropic model %s: %w", c.model, ErrSchemaUnsupported)
			}
		}
	}
	return fmt.Errorf("anthropic API error: %w", err)
}

// Close stops the client's rate limiter.
func (c *anthropicClient) Close() {
	c.limiter.Close()
}
