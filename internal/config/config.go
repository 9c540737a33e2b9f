// Package config provides unified configuration loading for dbmon.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nvandessel/dbmon/internal/constants"
	"gopkg.in/yaml.v3"
)

// DirName is the per-user directory holding config and traces.
const DirName = ".dbmon"

// DbmonConfig contains all dbmon configuration settings.
type DbmonConfig struct {
	// Generator controls the shape of each simulated batch.
	Generator GeneratorConfig `json:"generator" yaml:"generator"`

	// Monitor controls the refresh loop.
	Monitor MonitorConfig `json:"monitor" yaml:"monitor"`

	// Server configures the HTTP/websocket surface.
	Server ServerConfig `json:"server" yaml:"server"`

	// Logging contains settings for operational and trace logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// GeneratorConfig configures batch generation.
type GeneratorConfig struct {
	// SourceCount is the number of cluster/replica pairs per batch.
	SourceCount int `json:"source_count" yaml:"source_count"`
}

// MonitorConfig configures the refresh loop.
type MonitorConfig struct {
	// RefreshDelayMs is the pause between ticks in milliseconds.
	RefreshDelayMs int `json:"refresh_delay_ms" yaml:"refresh_delay_ms"`
}

// RefreshDelay returns the pause between ticks.
func (c MonitorConfig) RefreshDelay() time.Duration {
	return time.Duration(c.RefreshDelayMs) * time.Millisecond
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Addr is the listen address, e.g. "localhost:8080". Empty disables the server.
	Addr string `json:"addr" yaml:"addr"`
}

// LoggingConfig configures dbmon's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables the tick trace at ~/.dbmon/ticks.jsonl.
	Level string `json:"level" yaml:"level"`
}

// Default returns a DbmonConfig with sensible defaults.
func Default() *DbmonConfig {
	return &DbmonConfig{
		Generator: GeneratorConfig{
			SourceCount: constants.DefaultSourceCount,
		},
		Monitor: MonitorConfig{
			RefreshDelayMs: constants.DefaultRefreshDelayMs,
		},
		Server: ServerConfig{
			Addr: "localhost:8080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Dir returns ~/.dbmon.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, DirName), nil
}

// Path returns ~/.dbmon/config.yaml.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.dbmon/config.yaml -> environment variables
func Load() (*DbmonConfig, error) {
	config := Default()

	if configPath, err := Path(); err == nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*DbmonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Server.Addr = expandEnvVars(config.Server.Addr)

	return config, nil
}

// SaveToFile writes the configuration as YAML, creating parent directories.
func (c *DbmonConfig) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *DbmonConfig) Validate() error {
	if c.Generator.SourceCount < 1 {
		return fmt.Errorf("source_count must be at least 1, got %d", c.Generator.SourceCount)
	}

	if c.Monitor.RefreshDelayMs < 0 {
		return fmt.Errorf("refresh_delay_ms must be non-negative, got %d", c.Monitor.RefreshDelayMs)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// Keys lists every key accepted by Get and Set, in display order.
var Keys = []string{
	"generator.source_count",
	"monitor.refresh_delay_ms",
	"server.addr",
	"logging.level",
}

// Get retrieves a configuration value by dot-notation key.
func (c *DbmonConfig) Get(key string) (interface{}, bool) {
	switch key {
	case "generator.source_count":
		return c.Generator.SourceCount, true
	case "monitor.refresh_delay_ms":
		return c.Monitor.RefreshDelayMs, true
	case "server.addr":
		return c.Server.Addr, true
	case "logging.level":
		return c.Logging.Level, true
	default:
		return nil, false
	}
}

// Set sets a configuration value by dot-notation key.
func (c *DbmonConfig) Set(key, value string) error {
	switch key {
	case "generator.source_count":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid source count: %s (must be a positive integer)", value)
		}
		c.Generator.SourceCount = n
	case "monitor.refresh_delay_ms":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid refresh delay: %s (must be a non-negative integer)", value)
		}
		c.Monitor.RefreshDelayMs = n
	case "server.addr":
		c.Server.Addr = value
	case "logging.level":
		validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
		if !validLevels[value] {
			return fmt.Errorf("invalid log level: %s (valid: info, debug, trace)", value)
		}
		c.Logging.Level = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Malformed numeric values are ignored.
func applyEnvOverrides(config *DbmonConfig) {
	if v := os.Getenv("DBMON_SOURCE_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Generator.SourceCount = n
		}
	}

	if v := os.Getenv("DBMON_REFRESH_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Monitor.RefreshDelayMs = n
		}
	}

	if v := os.Getenv("DBMON_HTTP_ADDR"); v != "" {
		config.Server.Addr = v
	}

	if v := os.Getenv("DBMON_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
