package llm

import (
	"fmt"
	"strings"
)

// clientConstructors maps provider names to their client constructors.
var clientConstructors = map[string]func(Config) (Client, error){
	"anthropic": newAnthropicClient,
	"openai":    newOpenAIClient,
}

// NewClient builds the provider client named by cfg.Provider.
func NewClient(cfg Config) (Client, error) {
	construct, ok := clientConstructors[strings.ToLower(cfg.Provider)]
	if !ok {
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
	return construct(cfg)
}
