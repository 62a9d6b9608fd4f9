// Package config loads the optional .clibridge YAML file and applies
// CLIBRIDGE_* environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/deixis/clibridge/internal/model"
	"github.com/deixis/clibridge/internal/runner"
)

// FileName is the name of the configuration file looked up in the workspace.
const FileName = ".clibridge"

// EnvPrefix prefixes environment overrides, e.g. CLIBRIDGE_TIMEOUT=45s or
// CLIBRIDGE_HISTORY__CAPACITY=64.
const EnvPrefix = "CLIBRIDGE_"

// DefaultHistoryCapacity is the number of invocation records kept in memory.
const DefaultHistoryCapacity = 32

// Config holds the parsed .clibridge configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Binary       string        `yaml:"binary"`     // backend executable
	Model        string        `yaml:"model"`      // default variant
	RawTimeout   string        `yaml:"timeout"`    // e.g. "30s", "2m"
	RawMaxOutput int           `yaml:"max_output"` // bytes per stream
	LogLevel     string        `yaml:"log_level"`  // debug, info, warn, error
	LogJSON      bool          `yaml:"log_json"`
	History      HistoryConfig `yaml:"history"`
}

// HistoryConfig controls where invocation records are kept.
type HistoryConfig struct {
	Capacity int    `yaml:"capacity"` // in-memory LRU size
	Path     string `yaml:"path"`     // SQLite database; empty keeps JSON files in a temp dir
}

// BinaryName returns the configured backend executable or the default.
func (c *Config) BinaryName() string {
	if c.Binary != "" {
		return c.Binary
	}
	return runner.DefaultBinary
}

// DefaultModel returns the configured default variant or the built-in one.
func (c *Config) DefaultModel() string {
	if c.Model != "" {
		return c.Model
	}
	return model.Default
}

// Timeout returns the configured timeout or the default.
func (c *Config) Timeout() time.Duration {
	if c.RawTimeout != "" {
		d, err := time.ParseDuration(c.RawTimeout)
		if err == nil && d > 0 {
			return d
		}
	}
	return runner.DefaultTimeout
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return runner.DefaultMaxOutput
}

// HistoryCapacity returns the configured LRU size, falling back to 32.
func (c *Config) HistoryCapacity() int {
	if c.History.Capacity > 0 {
		return c.History.Capacity
	}
	return DefaultHistoryCapacity
}

// Validate reports settings that are present but unusable.
func (c *Config) Validate() error {
	if c.RawTimeout != "" {
		d, err := time.ParseDuration(c.RawTimeout)
		if err != nil {
			return fmt.Errorf("timeout %q: %w", c.RawTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("timeout %q must be positive", c.RawTimeout)
		}
	}
	if c.RawMaxOutput < 0 {
		return fmt.Errorf("max_output %d must not be negative", c.RawMaxOutput)
	}
	return nil
}

// NewRunner builds a runner from the configuration.
func (c *Config) NewRunner() *runner.Runner {
	return &runner.Runner{
		Binary:       c.BinaryName(),
		DefaultModel: c.DefaultModel(),
		Timeout:      c.Timeout(),
		MaxOutput:    c.MaxOutputBytes(),
	}
}

// LoadResult holds the parsed config and where it came from.
type LoadResult struct {
	Config *Config
	Path   string // file that was read; empty if none existed
}

// Load reads .clibridge from dir, then applies environment overrides.
// A missing file yields a default Config.
func Load(dir string) (*LoadResult, error) {
	k := koanf.New(".")
	res := &LoadResult{}

	path := filepath.Join(dir, FileName)
	switch _, err := os.Stat(path); {
	case err == nil:
		if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", FileName, err)
		}
		res.Path = path
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	// CLIBRIDGE_HISTORY__CAPACITY -> history.capacity
	provider := env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		return strings.ReplaceAll(key, "__", "."), value
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	res.Config = cfg
	return res, nil
}

// Effective returns a copy of c with every default filled in.
func (c *Config) Effective() *Config {
	out := *c
	out.Binary = c.BinaryName()
	out.Model = c.DefaultModel()
	out.RawTimeout = c.Timeout().String()
	out.RawMaxOutput = c.MaxOutputBytes()
	if out.LogLevel == "" {
		out.LogLevel = "info"
	}
	out.History.Capacity = c.HistoryCapacity()
	return &out
}

// YAML renders c in the .clibridge file format.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
