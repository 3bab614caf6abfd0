package permit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the declarative form of an engine setup: seed rules plus engine
// tuning. It is what permit-config validates and applies.
type Config struct {
	Version uint16            `json:"version" yaml:"version"`
	Rules   []*PermissionRule `json:"rules" yaml:"rules"`
	Engine  EngineConfig      `json:"engine" yaml:"engine"`
}

type EngineConfig struct {
	VerdictCacheTTL     int64 `json:"verdict_cache_ttl_ms" yaml:"verdict_cache_ttl_ms"`
	AuditBuffer         int   `json:"audit_buffer" yaml:"audit_buffer"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64 `json:"ristretto_buffer" yaml:"ristretto_buffer"`
}

// ConfigLoader loads configuration from the supported formats.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate checks every rule in the config without persisting anything.
func (c *Config) Validate() error {
	for i, r := range c.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}

// Options derives engine options from the config's tuning section.
func (c *Config) Options() []EngineOption {
	opts := make([]EngineOption, 0, 2)
	if c.Engine.AuditBuffer > 0 {
		opts = append(opts, WithAuditBuffer(c.Engine.AuditBuffer))
	}
	if c.Engine.RistrettoNumCounter > 0 {
		ttl := time.Second
		if c.Engine.VerdictCacheTTL > 0 {
			ttl = time.Duration(c.Engine.VerdictCacheTTL) * time.Millisecond
		}
		opts = append(opts, WithVerdictCache(
			c.Engine.RistrettoNumCounter,
			c.Engine.RistrettoMaxCost,
			c.Engine.RistrettoBuffer,
			ttl,
		))
	}
	return opts
}

// ApplyConfig seeds the configured rules into the engine's store. Rules fail
// individually at validation, never silently. Engine tuning is not touched
// here: the engine may already be serving evaluations, so cache and buffer
// settings only apply through Options at construction.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	for i, r := range cfg.Rules {
		if err := e.CreateRule(ctx, r.Clone()); err != nil {
			return fmt.Errorf("apply rule %d: %w", i, err)
		}
	}
	return nil
}
