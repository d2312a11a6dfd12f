package gistgateway

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed config.schema.json
var configSchema string

// LoadConfig reads and parses a config file from the given path.
// Supported formats: JSON (.json), YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	return &cfg, nil
}

// ValidateConfig validates a Config for semantic correctness. Note that a
// non-positive cache TTL is legal: it means entries expire on first read.
func ValidateConfig(cfg Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", cfg.Server.Port)
	}

	if rl := cfg.RateLimit; rl != nil {
		if rl.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit requests_per_second must be positive")
		}
		if rl.Burst <= 0 {
			return fmt.Errorf("rate_limit burst must be positive")
		}
	}

	if cb := cfg.CircuitBreaker; cb != nil {
		if cb.FailureThreshold < 1 {
			return fmt.Errorf("circuit_breaker failure_threshold must be at least 1")
		}
	}

	if rlog := cfg.RequestLog; rlog != nil {
		switch rlog.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("unknown request_log driver %q: use sqlite or postgres", rlog.Driver)
		}
		if rlog.DSN == "" {
			return fmt.Errorf("request_log dsn is required")
		}
	}

	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown logging format %q: use json or text", cfg.Logging.Format)
	}

	return nil
}

// ValidateConfigSchema checks the raw config document at path against the
// embedded JSON schema. This catches shape mistakes (misspelled keys, wrong
// types) that the permissive decoders let through; ValidateConfig covers the
// semantic rules.
func ValidateConfigSchema(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var doc interface{}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		var y interface{}
		if err := yaml.Unmarshal(data, &y); err != nil {
			return fmt.Errorf("parsing YAML config: %w", err)
		}
		// Round-trip through JSON so the validator sees canonical types.
		jsonBytes, err := json.Marshal(y)
		if err != nil {
			return fmt.Errorf("converting YAML config: %w", err)
		}
		if err := json.Unmarshal(jsonBytes, &doc); err != nil {
			return fmt.Errorf("converting YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	schema, err := jsonschema.CompileString("config.schema.json", configSchema)
	if err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return nil
}
