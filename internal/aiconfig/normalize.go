package aiconfig

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oselz/taxon/internal/common"
)

// Normalize converts a raw configuration document into a ServiceConfig.
//
// Three historical provider shapes are accepted:
//
//	"providers": { "openai": { "api_key": ..., "model": ... }, ... }
//	"provider_instances": [ { "provider": "openai", "api_key": ... }, ... ]
//	"provider": "openai", "api_key": ..., "model": ...        (flat, single)
//
// and several alias keys for the per-call timeout (timeout_ms,
// provider_timeout_ms, timeout). The first shape found wins, in the order
// above.
func Normalize(raw map[string]any) (*ServiceConfig, error) {
	if raw == nil {
		return nil, common.ErrMissingConfig
	}

	if enabled, ok := rawBool(raw, "enabled"); ok && !enabled {
		return nil, common.ErrServiceDisabled
	}

	providers := extractProviders(raw)
	if len(providers) == 0 {
		return nil, common.ErrNoProviders
	}

	cfg := &ServiceConfig{
		Providers: providers,
		Defaults:  extractOperational(raw),
	}
	if len(cfg.EnabledProviders()) == 0 {
		return nil, fmt.Errorf("%w: all providers disabled or missing credentials", common.ErrNoProviders)
	}
	return cfg, nil
}

func extractProviders(raw map[string]any) []ProviderConfig {
	// Shape 1: named provider map.
	if m, ok := raw["providers"].(map[string]any); ok && len(m) > 0 {
		providers := make([]ProviderConfig, 0, len(m))
		// Stable order for deterministic round-robin assignment.
		for _, name := range sortedKeys(m) {
			entry, ok := m[name].(map[string]any)
			if !ok {
				continue
			}
			providers = append(providers, providerFromEntry(name, entry))
		}
		return providers
	}

	// Shape 2: provider instance array.
	if list, ok := raw["provider_instances"].([]any); ok && len(list) > 0 {
		providers := make([]ProviderConfig, 0, len(list))
		for _, item := range list {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name, _ := rawString(entry, "provider", "name")
			if name == "" {
				continue
			}
			providers = append(providers, providerFromEntry(name, entry))
		}
		return providers
	}

	// Shape 3: flat single provider.
	if name, ok := rawString(raw, "provider"); ok && name != "" {
		return []ProviderConfig{providerFromEntry(name, raw)}
	}

	return nil
}

func providerFromEntry(name string, entry map[string]any) ProviderConfig {
	p := ProviderConfig{
		Name:    strings.ToLower(strings.TrimSpace(name)),
		Enabled: true,
	}
	if key, ok := rawString(entry, "api_key", "apiKey"); ok {
		p.APIKey = expandEnv(key)
	}
	if url, ok := rawString(entry, "base_url", "baseUrl", "endpoint"); ok {
		p.BaseURL = url
	}
	if m, ok := rawString(entry, "model", "model_name"); ok {
		p.Model = m
	}
	if enabled, ok := rawBool(entry, "enabled"); ok {
		p.Enabled = enabled
	}
	return p
}

func extractOperational(raw map[string]any) Operational {
	op := DefaultOperational()

	if ms, ok := rawInt(raw, "timeout_ms", "provider_timeout_ms", "timeout"); ok && ms > 0 {
		op.Timeout = time.Duration(ms) * time.Millisecond
	}
	if ms, ok := rawInt(raw, "overall_timeout_ms", "deadline_ms"); ok && ms > 0 {
		op.OverallTimeout = time.Duration(ms) * time.Millisecond
	}
	if ms, ok := rawInt(raw, "batch_delay_ms", "batch_delay"); ok && ms >= 0 {
		op.BatchDelay = time.Duration(ms) * time.Millisecond
	}
	if n, ok := rawInt(raw, "batch_size", "batchSize"); ok && n > 0 {
		op.BatchSize = n
	}
	if n, ok := rawInt(raw, "max_items", "maxProducts", "max_products"); ok && n > 0 {
		op.MaxItems = n
	}
	if n, ok := rawInt(raw, "max_batches"); ok && n > 0 {
		op.MaxBatches = n
	}
	if b, ok := rawBool(raw, "fail_fast_on_first_timeout", "fail_fast"); ok {
		op.FailFastOnFirstTimeout = b
	}
	if b, ok := rawBool(raw, "allow_model_substitution"); ok {
		op.AllowModelSubstitution = b
	}

	return op
}

var envPattern = regexp.MustCompile(`^\$\{(\w+)\}$`)

// expandEnv resolves "${VAR}" API key references against the environment.
// Literal keys pass through untouched.
func expandEnv(value string) string {
	match := envPattern.FindStringSubmatch(strings.TrimSpace(value))
	if match == nil {
		return value
	}
	return os.Getenv(match[1])
}

func rawString(raw map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s), true
			}
		}
	}
	return "", false
}

func rawBool(raw map[string]any, keys ...string) (bool, bool) {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			switch b := v.(type) {
			case bool:
				return b, true
			case string:
				parsed, err := strconv.ParseBool(b)
				if err == nil {
					return parsed, true
				}
			}
		}
	}
	return false, false
}

func rawInt(raw map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			switch n := v.(type) {
			case int:
				return n, true
			case int64:
				return int(n), true
			case float64:
				return int(n), true
			case string:
				parsed, err := strconv.Atoi(strings.TrimSpace(n))
				if err == nil {
					return parsed, true
				}
			}
		}
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
