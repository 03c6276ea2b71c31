// Package config loads the service-level configuration: where to listen,
// which pipeline to run, and which backends to wire for cache, secrets, and
// deployment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CacheConfig selects and configures the cache store backend.
type CacheConfig struct {
	// Backend is "local" or "s3".
	Backend string `json:"backend" yaml:"backend"`
	// Dir is the blob directory for the local backend.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
	// Bucket, Prefix, and Region configure the S3 backend.
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
}

// VaultConfig configures the Vault secret backend.
type VaultConfig struct {
	Address string `json:"address" yaml:"address"`
	Token   string `json:"token,omitempty" yaml:"token,omitempty"`
	Mount   string `json:"mount,omitempty" yaml:"mount,omitempty"`
}

// SecretsConfig selects and configures the secret store backend.
type SecretsConfig struct {
	// Backend is "file" or "vault".
	Backend string       `json:"backend" yaml:"backend"`
	Dir     string       `json:"dir,omitempty" yaml:"dir,omitempty"`
	Vault   *VaultConfig `json:"vault,omitempty" yaml:"vault,omitempty"`
}

// DeployConfig selects the deployment backend.
type DeployConfig struct {
	// Backend is "kubernetes" or "none" (record-only, for development).
	Backend string `json:"backend" yaml:"backend"`
	// Kubeconfig is an optional path; empty means in-cluster config.
	Kubeconfig string `json:"kubeconfig,omitempty" yaml:"kubeconfig,omitempty"`
}

// TimeoutConfig bounds stage and run execution.
type TimeoutConfig struct {
	Stage time.Duration `json:"stage,omitempty" yaml:"stage,omitempty"`
	Run   time.Duration `json:"run,omitempty" yaml:"run,omitempty"`
}

// Config is the complete service configuration.
type Config struct {
	Listen   string `json:"listen" yaml:"listen"`
	Service  string `json:"service" yaml:"service"`
	Pipeline string `json:"pipeline" yaml:"pipeline"`

	// WorkDir is where cache mounts are materialized per run.
	WorkDir string `json:"work_dir" yaml:"work_dir"`
	// BuildContext and Dockerfile locate the image build inputs.
	BuildContext string `json:"build_context,omitempty" yaml:"build_context,omitempty"`
	Dockerfile   string `json:"dockerfile,omitempty" yaml:"dockerfile,omitempty"`

	MaxConcurrentRuns int64 `json:"max_concurrent_runs,omitempty" yaml:"max_concurrent_runs,omitempty"`

	Cache    CacheConfig   `json:"cache" yaml:"cache"`
	Secrets  SecretsConfig `json:"secrets" yaml:"secrets"`
	Deploy   DeployConfig  `json:"deploy" yaml:"deploy"`
	Timeouts TimeoutConfig `json:"timeouts,omitempty" yaml:"timeouts,omitempty"`
}

// Default returns the configuration used when a field is unset.
func Default() *Config {
	return &Config{
		Listen:            ":8080",
		Service:           "statics",
		Pipeline:          "pipelines/statics.yaml",
		WorkDir:           "/var/lib/conveyor",
		BuildContext:      ".",
		Dockerfile:        "Dockerfile",
		MaxConcurrentRuns: 4,
		Cache:             CacheConfig{Backend: "local", Dir: "/var/lib/conveyor/cache"},
		Secrets:           SecretsConfig{Backend: "file", Dir: "/etc/conveyor/secrets"},
		Deploy:            DeployConfig{Backend: "none"},
	}
}

// LoadFromFile loads the configuration from a YAML file, filling unset
// fields with defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks backend selections and required fields.
func (c *Config) Validate() error {
	if c.Service == "" {
		return fmt.Errorf("config: service name is required")
	}
	if c.Pipeline == "" {
		return fmt.Errorf("config: pipeline path is required")
	}

	switch c.Cache.Backend {
	case "local":
		if c.Cache.Dir == "" {
			return fmt.Errorf("config: local cache backend requires a dir")
		}
	case "s3":
		if c.Cache.Bucket == "" {
			return fmt.Errorf("config: s3 cache backend requires a bucket")
		}
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}

	switch c.Secrets.Backend {
	case "file":
		if c.Secrets.Dir == "" {
			return fmt.Errorf("config: file secrets backend requires a dir")
		}
	case "vault":
		if c.Secrets.Vault == nil || c.Secrets.Vault.Address == "" {
			return fmt.Errorf("config: vault secrets backend requires an address")
		}
	default:
		return fmt.Errorf("config: unknown secrets backend %q", c.Secrets.Backend)
	}

	switch c.Deploy.Backend {
	case "kubernetes", "none":
	default:
		return fmt.Errorf("config: unknown deploy backend %q", c.Deploy.Backend)
	}

	return nil
}
