// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable Load reads the config path
// from.
const EnvVar = "PARLEY_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for parley tools.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures where installation and relay databases live.
	Paths PathsConfig `yaml:"paths"`

	// Log configures the command logger.
	Log LogConfig `yaml:"log"`

	// Client configures messaging clients.
	Client ClientConfig `yaml:"client"`

	// Metrics configures the optional Prometheus listener.
	Metrics MetricsConfig `yaml:"metrics"`

	// Compression configures envelope compression for sends.
	Compression CompressionConfig `yaml:"compression"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths       *PathsConfig       `yaml:"paths,omitempty"`
	Log         *LogConfig         `yaml:"log,omitempty"`
	Client      *ClientOverrides   `yaml:"client,omitempty"`
	Metrics     *MetricsConfig     `yaml:"metrics,omitempty"`
	Compression *CompressionConfig `yaml:"compression,omitempty"`
}

// PathsConfig configures directory and file locations.
type PathsConfig struct {
	// Root is the base directory for parley data.
	Root string `yaml:"root"`

	// Data holds one encrypted database per installation.
	Data string `yaml:"data"`

	// Network is the relay database shared by every installation on
	// this machine.
	Network string `yaml:"network"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: debug (development), info (production)
	Level string `yaml:"level"`
}

// ClientConfig configures messaging clients.
type ClientConfig struct {
	// ExclusiveStreams makes a new stream replace the client's
	// previous stream of the same scope.
	ExclusiveStreams bool `yaml:"exclusive_streams"`

	// TrustNativeContent returns the engine's pre-decoded content for
	// built-in types instead of running codecs.
	TrustNativeContent bool `yaml:"trust_native_content"`

	// KeyWorkFactor is the scrypt log2 work factor sealing each
	// installation's database key. Zero uses the engine default.
	KeyWorkFactor int `yaml:"key_work_factor"`
}

// ClientOverrides mirrors ClientConfig with optional fields, so an
// override can set a flag back to false.
type ClientOverrides struct {
	ExclusiveStreams   *bool `yaml:"exclusive_streams,omitempty"`
	TrustNativeContent *bool `yaml:"trust_native_content,omitempty"`
	KeyWorkFactor      *int  `yaml:"key_work_factor,omitempty"`
}

// MetricsConfig configures metrics export.
type MetricsConfig struct {
	// Listen is the address of the Prometheus listener. Empty disables
	// it.
	Listen string `yaml:"listen"`
}

// CompressionConfig configures envelope compression.
type CompressionConfig struct {
	// Default is one of none, zstd, lz4.
	Default string `yaml:"default"`
}

var (
	logLevels         = []string{"debug", "info", "warn", "error"}
	compressionValues = []string{"none", "zstd", "lz4"}
)

// Default returns the default configuration. The config file is
// required; these values only fill fields it leaves out.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "parley")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:    defaultRoot,
			Data:    "${PARLEY_ROOT}/installations",
			Network: "${PARLEY_ROOT}/network.db",
		},
		Log:         LogConfig{Level: "debug"},
		Compression: CompressionConfig{Default: "none"},
	}
}

// Load loads configuration from the file named by PARLEY_CONFIG. There
// is no fallback when it is unset.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your parley.yaml config file, or use --config flag", EnvVar)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path. Environment variables do not
// override values; they are only expanded inside path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production logs less unless the file says otherwise.
		if overrides == nil {
			overrides = &ConfigOverrides{Log: &LogConfig{Level: "info"}}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.Data != "" {
			c.Paths.Data = overrides.Paths.Data
		}
		if overrides.Paths.Network != "" {
			c.Paths.Network = overrides.Paths.Network
		}
	}

	if overrides.Log != nil && overrides.Log.Level != "" {
		c.Log.Level = overrides.Log.Level
	}

	if overrides.Client != nil {
		if overrides.Client.ExclusiveStreams != nil {
			c.Client.ExclusiveStreams = *overrides.Client.ExclusiveStreams
		}
		if overrides.Client.TrustNativeContent != nil {
			c.Client.TrustNativeContent = *overrides.Client.TrustNativeContent
		}
		if overrides.Client.KeyWorkFactor != nil {
			c.Client.KeyWorkFactor = *overrides.Client.KeyWorkFactor
		}
	}

	if overrides.Metrics != nil && overrides.Metrics.Listen != "" {
		c.Metrics.Listen = overrides.Metrics.Listen
	}

	if overrides.Compression != nil && overrides.Compression.Default != "" {
		c.Compression.Default = overrides.Compression.Default
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"PARLEY_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["PARLEY_ROOT"] = c.Paths.Root

	c.Paths.Data = expandVars(c.Paths.Data, vars)
	c.Paths.Network = expandVars(c.Paths.Network, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. vars is
// consulted before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.Data == "" {
		errs = append(errs, errors.New("paths.data is required"))
	}
	if c.Paths.Network == "" {
		errs = append(errs, errors.New("paths.network is required"))
	}
	if !slices.Contains(logLevels, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", logLevels))
	}
	if c.Client.KeyWorkFactor < 0 || c.Client.KeyWorkFactor > 30 {
		errs = append(errs, fmt.Errorf("client.key_work_factor must be between 0 and 30, got %d", c.Client.KeyWorkFactor))
	}
	if c.Compression.Default != "" && !slices.Contains(compressionValues, c.Compression.Default) {
		errs = append(errs, fmt.Errorf("compression.default must be one of: %v", compressionValues))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogLevel returns Log.Level as a slog level. Unknown names map to
// info; Validate reports them.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnsurePaths creates the data directory and the network database's
// parent directory.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Paths.Data}
	if c.Paths.Network != "" {
		paths = append(paths, filepath.Dir(c.Paths.Network))
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
