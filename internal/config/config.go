// Package config provides configuration loading and structs for the finrag server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meridian/finrag/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Agent     AgentConfig     `yaml:"agent"`
	Sources   []SourceConfig  `yaml:"sources"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the record database settings. An empty DatabasePath
// disables persistence and warm start.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// EmbeddingConfig holds embedding provider settings. Provider is "openai" or
// "mock"; mock is deterministic and needs no endpoint.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
}

// SearchConfig holds query engine settings.
type SearchConfig struct {
	DefaultTopK int    `yaml:"default_top_k"`
	MaxTopK     int    `yaml:"max_top_k"`
	Metric      string `yaml:"metric"`
}

// PipelineConfig holds write-path settings.
type PipelineConfig struct {
	Workers            int      `yaml:"workers"`
	QueueSize          int      `yaml:"queue_size"`
	TombstoneRetention Duration `yaml:"tombstone_retention"`
	CompactInterval    Duration `yaml:"compact_interval"`
}

// AgentConfig holds the chat model settings for the copilot.
type AgentConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// SourceConfig declares one data source. Kind selects the record kind its
// events carry; Location is a directory path for file sources and a URL for
// poll sources.
type SourceConfig struct {
	Name         string            `yaml:"name"`
	Type         string            `yaml:"type"` // "file" or "poll"
	Kind         models.SourceKind `yaml:"kind"`
	Location     string            `yaml:"location"`
	Enabled      *bool             `yaml:"enabled"`
	Recursive    *bool             `yaml:"recursive"`
	PollInterval Duration          `yaml:"poll_interval"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
// Bare integers are taken as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// EnabledOrDefault returns whether the source is enabled; defaults to true when unset.
func (s *SourceConfig) EnabledOrDefault() bool {
	if s.Enabled != nil {
		return *s.Enabled
	}
	return true
}

// RecursiveOrDefault returns whether a file source walks subdirectories;
// defaults to true when unset.
func (s *SourceConfig) RecursiveOrDefault() bool {
	if s.Recursive != nil {
		return *s.Recursive
	}
	return true
}

// Validate checks fields that have no usable default.
func (c *Config) Validate() error {
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if src.Type != "file" && src.Type != "poll" {
			return fmt.Errorf("source %q: unknown type %q", src.Name, src.Type)
		}
		if !src.Kind.Valid() {
			return fmt.Errorf("source %q: unknown kind %q", src.Name, src.Kind)
		}
		if src.Location == "" {
			return fmt.Errorf("source %q: location is required", src.Name)
		}
	}
	switch c.Embedding.Provider {
	case "openai", "mock":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	return nil
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	if cfg.Storage.DatabasePath != "" {
		cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].Type == "file" {
			cfg.Sources[i].Location = expandPath(cfg.Sources[i].Location, configDir)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
