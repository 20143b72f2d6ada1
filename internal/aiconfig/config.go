// Package aiconfig resolves per-organization AI service configuration into
// one strongly typed structure. Historical configuration documents use
// several shapes and key aliases for the same concepts; this package is the
// single place that understands them. Nothing outside it may inspect raw
// configuration maps.
package aiconfig

import "time"

// ServiceName is the configuration document this core reads.
const ServiceName = "ai-classification"

// ProviderConfig describes one enabled inference provider.
type ProviderConfig struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
	Enabled bool
}

// Operational carries the run-level tuning defaults for a resolved service.
type Operational struct {
	Timeout                time.Duration
	OverallTimeout         time.Duration
	BatchDelay             time.Duration
	BatchSize              int
	MaxItems               int
	MaxBatches             int
	FailFastOnFirstTimeout bool
	AllowModelSubstitution bool
}

// ServiceConfig is the fully normalized configuration for one org.
type ServiceConfig struct {
	Providers []ProviderConfig
	Defaults  Operational
}

// EnabledProviders returns only the providers usable for dispatch.
func (c *ServiceConfig) EnabledProviders() []ProviderConfig {
	enabled := make([]ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.Enabled && p.APIKey != "" {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

// Operational defaults applied when the stored document omits a knob.
const (
	defaultTimeout        = 30 * time.Second
	defaultOverallTimeout = 60 * time.Second
	defaultBatchDelay     = 1 * time.Second
	defaultBatchSize      = 50
	defaultMaxItems       = 1000
	defaultMaxBatches     = 10
)

// DefaultOperational returns the built-in run tuning, used as the base for
// normalization and as the fallback when an org has no usable configuration.
func DefaultOperational() Operational {
	return Operational{
		Timeout:        defaultTimeout,
		OverallTimeout: defaultOverallTimeout,
		BatchDelay:     defaultBatchDelay,
		BatchSize:      defaultBatchSize,
		MaxItems:       defaultMaxItems,
		MaxBatches:     defaultMaxBatches,
	}
}
