// Package config provides configuration structures and loading logic for the
// rating service.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/rately/ratecore/pkg/domain"
	"github.com/rately/ratecore/pkg/logging"
	"github.com/rately/ratecore/pkg/telemetry"
)

// Config holds the global configuration for the rating service.
type Config struct {
	Definitions DefinitionsConfig `yaml:"definitions"`
	Events      EventsConfig      `yaml:"events"`
	Scripts     ScriptsConfig     `yaml:"scripts"`
	Telemetry   telemetry.Config  `yaml:"telemetry"`
	Logging     logging.Config    `yaml:"logging"`
}

// DefinitionsConfig points at the definition source.
type DefinitionsConfig struct {
	Dir string `yaml:"dir"`
}

// EventsConfig selects the event sink. An empty webhook URL falls back to
// the log sink.
type EventsConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

// ScriptsConfig bounds the script sandbox.
type ScriptsConfig struct {
	DefaultTimeoutMS int `yaml:"default_timeout_ms"`
}

// Load reads configuration from a YAML file and applies environment variable
// overrides. A missing path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Definitions: DefinitionsConfig{Dir: "definitions"},
		Logging:     logging.Config{Level: "info"},
	}

	if path != "" {
		// #nosec G304 -- path is an operator-supplied startup flag
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("RATECORE_DEFINITIONS_DIR"); val != "" {
		cfg.Definitions.Dir = val
	}
	if val := os.Getenv("RATECORE_EVENT_WEBHOOK_URL"); val != "" {
		cfg.Events.WebhookURL = val
	}
	if val := os.Getenv("RATECORE_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.Endpoint = val
	}
	if val := os.Getenv("RATECORE_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("RATECORE_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("RATECORE_LOG_PRETTY"); val == "true" {
		cfg.Logging.Pretty = true
	}
	if val := os.Getenv("RATECORE_SCRIPT_TIMEOUT_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			cfg.Scripts.DefaultTimeoutMS = ms
		}
	}
}

// Validate checks the configuration for inconsistencies before startup.
func (c *Config) Validate() error {
	if c.Definitions.Dir == "" {
		return fmt.Errorf("%w: definitions dir is required", domain.ErrConfigInvalid)
	}
	if c.Events.TimeoutMS < 0 {
		return fmt.Errorf("%w: events timeout must not be negative", domain.ErrConfigInvalid)
	}
	if c.Scripts.DefaultTimeoutMS < 0 {
		return fmt.Errorf("%w: script timeout must not be negative", domain.ErrConfigInvalid)
	}
	return nil
}
