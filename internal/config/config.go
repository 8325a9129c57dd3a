// Package config loads mini-kode settings from layered sources.
//
// Sources are applied in priority order, later ones winning:
//
//  1. Built-in defaults
//  2. Global config (~/.config/mini-kode/config.jsonc)
//  3. Project config (<dir>/.mini-kode/config.jsonc)
//  4. A project .env file
//  5. MINIKODE_* environment variables
//
// Command-line flags are applied on top by the caller.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/minmaxflow/mini-kode/internal/mcp"
	"github.com/minmaxflow/mini-kode/internal/permission"
	"github.com/tidwall/jsonc"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "MINIKODE"

// Config holds the runtime settings.
type Config struct {
	ApprovalMode    string                `json:"approvalMode,omitempty" envconfig:"APPROVAL_MODE"`
	ApprovalTimeout Duration              `json:"approvalTimeout,omitempty" envconfig:"APPROVAL_TIMEOUT"`
	MaxConcurrency  int                   `json:"maxConcurrency,omitempty" envconfig:"MAX_CONCURRENCY"`
	LogLevel        string                `json:"logLevel,omitempty" envconfig:"LOG_LEVEL"`
	LogFile         string                `json:"logFile,omitempty" envconfig:"LOG_FILE"`
	MCP             map[string]mcp.Config `json:"mcp,omitempty" ignored:"true"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ApprovalMode:    string(permission.ModeDefault),
		ApprovalTimeout: Duration(permission.DefaultApprovalTimeout),
		LogLevel:        "warn",
		MCP:             make(map[string]mcp.Config),
	}
}

// Load loads configuration for a project directory.
func Load(directory string) (*Config, error) {
	cfg := Default()

	if err := loadConfigFile(GlobalConfigPath(), cfg); err != nil {
		return nil, err
	}
	if directory != "" {
		if err := loadConfigFile(ProjectConfigPath(directory), cfg); err != nil {
			return nil, err
		}
		// godotenv never overrides variables already set in the process.
		_ = godotenv.Load(filepath.Join(directory, ".env"))
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigFile merges one JSONC file into cfg. A missing file is not an error.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var fileConfig Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	mergeConfig(cfg, &fileConfig)
	return nil
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *Config) {
	if source.ApprovalMode != "" {
		target.ApprovalMode = source.ApprovalMode
	}
	if source.ApprovalTimeout != 0 {
		target.ApprovalTimeout = source.ApprovalTimeout
	}
	if source.MaxConcurrency != 0 {
		target.MaxConcurrency = source.MaxConcurrency
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.LogFile != "" {
		target.LogFile = source.LogFile
	}
	for name, server := range source.MCP {
		if target.MCP == nil {
			target.MCP = make(map[string]mcp.Config)
		}
		target.MCP[name] = server
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if _, err := permission.ParseApprovalMode(c.ApprovalMode); err != nil {
		return err
	}
	if c.ApprovalTimeout <= 0 {
		return fmt.Errorf("approvalTimeout must be positive, got %s", c.ApprovalTimeout)
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("maxConcurrency must not be negative, got %d", c.MaxConcurrency)
	}
	return nil
}

// Mode returns the parsed approval mode. Call after Validate.
func (c *Config) Mode() permission.ApprovalMode {
	mode, _ := permission.ParseApprovalMode(c.ApprovalMode)
	return mode
}

// Duration is a time.Duration written as a Go duration string ("90s", "5m").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.Decode(s)
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	*d = Duration(parsed)
	return nil
}
