// Package config loads and validates conclave configuration: named
// deliberation presets, provider settings, embedding settings, and logging
// controls.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"conclave/internal/council"
	"conclave/internal/embedding"
)

// Config holds all conclave configuration.
type Config struct {
	// Named deliberation presets; "default" must exist.
	Presets map[string]Preset `yaml:"presets"`

	// Provider endpoint shared by the council.
	Provider ProviderConfig `yaml:"provider"`

	// Embedding engine settings.
	Embedding embedding.Config `yaml:"embedding"`

	// Logging controls the categorized file logger.
	Logging LoggingConfig `yaml:"logging"`
}

// Preset is one named deliberation configuration.
type Preset struct {
	Council      []council.Member   `yaml:"council"`
	Deliberation DeliberationConfig `yaml:"deliberation"`
	Performance  PerformanceConfig  `yaml:"performance"`
	Iterative    IterativeConfig    `yaml:"iterative"`
}

// DeliberationConfig selects the synthesis strategy for a preset.
type DeliberationConfig struct {
	Rounds   int    `yaml:"rounds"`
	Strategy string `yaml:"strategy"` // consensus, weighted, meta, adaptive
}

// PerformanceConfig bounds a whole request.
type PerformanceConfig struct {
	GlobalTimeoutSeconds float64 `yaml:"global_timeout_seconds"`
	MaxConcurrentCalls   int     `yaml:"max_concurrent_calls"`
	DisableThreshold     int     `yaml:"disable_threshold"` // consecutive failures before a provider is disabled
}

// GlobalTimeout returns the global deadline as a duration.
func (p PerformanceConfig) GlobalTimeout() time.Duration {
	return time.Duration(p.GlobalTimeoutSeconds * float64(time.Second))
}

// EarlyTerminationConfig controls average-similarity early exit.
type EarlyTerminationConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
}

// IterativeConfig parameterizes the iterative consensus negotiator.
type IterativeConfig struct {
	MaxRounds              int                    `yaml:"max_rounds"`
	PerRoundTimeoutSeconds float64                `yaml:"per_round_timeout_seconds"`
	AgreementThreshold     float64                `yaml:"agreement_threshold"`
	EarlyTermination       EarlyTerminationConfig `yaml:"early_termination"`
	Mode                   string                 `yaml:"mode"` // parallel or sequential
	FallbackStrategy       string                 `yaml:"fallback_strategy"`
	HumanEscalation        bool                   `yaml:"human_escalation"`
	EmbeddingModel         string                 `yaml:"embedding_model"`
	RandomizationSeed      int64                  `yaml:"randomization_seed"` // 0 = unseeded
	TokenPricePer1K        float64                `yaml:"token_price_per_1k"`
	AvgTokensPerRound      int                    `yaml:"avg_tokens_per_round"`
}

// PerRoundTimeout returns the per-round timeout as a duration.
func (c IterativeConfig) PerRoundTimeout() time.Duration {
	return time.Duration(c.PerRoundTimeoutSeconds * float64(time.Second))
}

// ProviderConfig configures the shared provider endpoint.
type ProviderConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// LoggingConfig controls the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns a runnable single-preset configuration.
func DefaultConfig() Config {
	return Config{
		Presets: map[string]Preset{
			"default": {
				Council: []council.Member{
					{ID: "alpha", Name: "Alpha", Model: "claude-sonnet", TimeoutSeconds: 60, Weight: 1.0},
					{ID: "beta", Name: "Beta", Model: "gpt-4o", TimeoutSeconds: 60, Weight: 1.0},
					{ID: "gamma", Name: "Gamma", Model: "gemini-pro", TimeoutSeconds: 60, Weight: 1.0},
				},
				Deliberation: DeliberationConfig{Rounds: 1, Strategy: "consensus"},
				Performance:  PerformanceConfig{GlobalTimeoutSeconds: 120, MaxConcurrentCalls: 8, DisableThreshold: 3},
				Iterative: IterativeConfig{
					MaxRounds:              5,
					PerRoundTimeoutSeconds: 90,
					AgreementThreshold:     0.85,
					EarlyTermination:       EarlyTerminationConfig{Enabled: true, Threshold: 0.75},
					Mode:                   "parallel",
					FallbackStrategy:       "consensus",
					EmbeddingModel:         "embeddinggemma",
					TokenPricePer1K:        0.003,
					AvgTokensPerRound:      900,
				},
			},
		},
		Embedding: embedding.DefaultConfig(),
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from path, applying defaults for absent sections.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultPath returns the conventional config location under a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".conclave", "config.yaml")
}

// Preset returns the named preset, or an error if the section is missing.
// Configuration errors are fatal and raised before any work starts.
func (c *Config) Preset(name string) (Preset, error) {
	if name == "" {
		name = "default"
	}
	p, ok := c.Presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("preset %q not found in configuration", name)
	}
	return p, nil
}

// Validate checks every preset for fatal configuration errors.
func (c *Config) Validate() error {
	if len(c.Presets) == 0 {
		return fmt.Errorf("configuration has no presets")
	}
	for name, p := range c.Presets {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("preset %q: %w", name, err)
		}
	}
	return nil
}

// Validate checks a single preset.
func (p Preset) Validate() error {
	if len(p.Council) == 0 {
		return fmt.Errorf("council has no members")
	}
	for _, m := range p.Council {
		if m.ID == "" {
			return fmt.Errorf("council member with empty id")
		}
		if m.TimeoutSeconds <= 0 || math.IsNaN(m.TimeoutSeconds) || math.IsInf(m.TimeoutSeconds, 0) {
			return fmt.Errorf("member %s: timeout_seconds must be a positive finite number, got %v", m.ID, m.TimeoutSeconds)
		}
	}
	if p.Performance.GlobalTimeoutSeconds <= 0 || math.IsNaN(p.Performance.GlobalTimeoutSeconds) {
		return fmt.Errorf("global_timeout_seconds must be positive, got %v", p.Performance.GlobalTimeoutSeconds)
	}
	if t := p.Iterative.AgreementThreshold; t <= 0 || t > 1 || math.IsNaN(t) {
		return fmt.Errorf("agreement_threshold must be in (0,1], got %v", t)
	}
	if p.Iterative.MaxRounds <= 0 {
		return fmt.Errorf("max_rounds must be positive, got %d", p.Iterative.MaxRounds)
	}
	if p.Iterative.PerRoundTimeoutSeconds <= 0 || math.IsNaN(p.Iterative.PerRoundTimeoutSeconds) {
		return fmt.Errorf("per_round_timeout_seconds must be positive, got %v", p.Iterative.PerRoundTimeoutSeconds)
	}
	switch p.Iterative.Mode {
	case "", "parallel", "sequential":
	default:
		return fmt.Errorf("iterative mode must be parallel or sequential, got %q", p.Iterative.Mode)
	}
	if et := p.Iterative.EarlyTermination; et.Enabled && (et.Threshold <= 0 || et.Threshold > 1 || math.IsNaN(et.Threshold)) {
		return fmt.Errorf("early_termination.threshold must be in (0,1], got %v", et.Threshold)
	}
	return nil
}

// Save writes the configuration back to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
