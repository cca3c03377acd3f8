// Package config provides configuration loading and management for the sync
// pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mhadocs/docsync/internal/telemetry"
)

const (
	// DefaultDocumentType is assumed for manifest entries without a type
	DefaultDocumentType = "Policy"

	// DefaultStaleLockThreshold is the age past which a leftover run lock
	// is reclaimed
	DefaultStaleLockThreshold = time.Hour

	// DefaultConcurrency bounds parallel uploads
	DefaultConcurrency = 4

	// DefaultMaxRetries is the per-operation attempt budget
	DefaultMaxRetries = 5
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	VectorStore VectorStoreConfig `yaml:"vectorStore"`
	Paths       PathsConfig       `yaml:"paths"`
	Sync        SyncConfig        `yaml:"sync,omitempty"`
	Telemetry   *telemetry.Config `yaml:"telemetry,omitempty"`
}

// VectorStoreConfig identifies the remote store and how to authenticate
type VectorStoreConfig struct {
	// ID is the vector store identifier uploads are attached to
	ID string `yaml:"id"`

	// Endpoint overrides the API base URL; empty means the hosted default
	Endpoint string `yaml:"endpoint,omitempty"`

	// APIKeyFile is the path to a file containing the API key
	// This is the recommended approach for production deployments
	// The file should contain only the key with optional trailing whitespace
	APIKeyFile string `yaml:"apiKeyFile,omitempty"`
}

// PathsConfig locates the local artifacts a run works with
type PathsConfig struct {
	// Manifest is the combined document index file
	Manifest string `yaml:"manifest"`

	// StateFile persists the sync state between runs
	StateFile string `yaml:"stateFile"`

	// LockFile is the run lock record
	LockFile string `yaml:"lockFile"`

	// SchemasDir holds the JSON schemas used by the validate command
	SchemasDir string `yaml:"schemasDir,omitempty"`

	// CorpusDirs maps a document type to the directory its source files
	// live in
	CorpusDirs map[string]string `yaml:"corpusDirs,omitempty"`

	// DefaultCorpusDir is used for types with no explicit mapping
	DefaultCorpusDir string `yaml:"defaultCorpusDir,omitempty"`
}

// SyncConfig tunes how a run executes
type SyncConfig struct {
	// DryRun plans and logs without touching the remote store or state
	DryRun bool `yaml:"dryRun,omitempty"`

	// MaxRetries is the total number of tries per remote operation
	MaxRetries uint `yaml:"maxRetries,omitempty"`

	// RetryBaseDelay seeds the exponential backoff (e.g., "500ms")
	RetryBaseDelay string `yaml:"retryBaseDelay,omitempty"`

	// AttemptTimeout bounds each individual remote attempt (e.g., "2m")
	AttemptTimeout string `yaml:"attemptTimeout,omitempty"`

	// StaleLockThreshold is the age past which a leftover lock is
	// reclaimed (e.g., "1h")
	StaleLockThreshold string `yaml:"staleLockThreshold,omitempty"`

	// Concurrency bounds parallel uploads
	Concurrency int `yaml:"concurrency,omitempty"`

	// FailureRateLimit aborts a run when failed/attempted exceeds it.
	// Zero disables the ceiling.
	FailureRateLimit float64 `yaml:"failureRateLimit,omitempty"`

	// IncludeUnknown extends reconciliation to remote files with no
	// recorded identity
	IncludeUnknown bool `yaml:"includeUnknown,omitempty"`

	// ProtectedIDs are never deleted by reconciliation. The manifest
	// self-document is protected regardless.
	ProtectedIDs []string `yaml:"protectedIds,omitempty"`

	// VolatileFields are stripped before hashing. Defaults to
	// ["extracted_date"] when absent; an explicit empty list disables
	// stripping.
	VolatileFields []string `yaml:"volatileFields,omitempty"`

	// DefaultDocumentType is assumed for manifest entries without a type
	DefaultDocumentType string `yaml:"defaultDocumentType,omitempty"`
}

// GetAPIKey returns the remote API key using the following priority:
// 1. Read from APIKeyFile if specified
// 2. Read from DOCSYNC_API_KEY environment variable
// 3. Read from OPENAI_API_KEY environment variable
//
// The key from file will have leading/trailing whitespace trimmed.
func (v *VectorStoreConfig) GetAPIKey() (string, error) {
	if v.APIKeyFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(v.APIKeyFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read api key from file %s: %w", v.APIKeyFile, err)
		}

		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("api key file %s is empty", v.APIKeyFile)
		}
		return key, nil
	}

	if envKey := os.Getenv("DOCSYNC_API_KEY"); envKey != "" {
		return envKey, nil
	}
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		return envKey, nil
	}

	return "", fmt.Errorf(
		"no api key configured: set apiKeyFile or the DOCSYNC_API_KEY environment variable",
	)
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	// As of now, this is required because there's no other options to load
	// configuration. Once we add more options, we can remove this check.
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = DefaultMaxRetries
	}
	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = DefaultConcurrency
	}
	if c.Sync.StaleLockThreshold == "" {
		c.Sync.StaleLockThreshold = DefaultStaleLockThreshold.String()
	}
	if c.Sync.DefaultDocumentType == "" {
		c.Sync.DefaultDocumentType = DefaultDocumentType
	}
}

// RetryBaseDelay parses the configured backoff seed, with a fallback default.
func (c *Config) RetryBaseDelay() (time.Duration, error) {
	if c.Sync.RetryBaseDelay == "" {
		return 500 * time.Millisecond, nil
	}
	return time.ParseDuration(c.Sync.RetryBaseDelay)
}

// AttemptTimeout parses the configured per-attempt deadline.
func (c *Config) AttemptTimeout() (time.Duration, error) {
	if c.Sync.AttemptTimeout == "" {
		return 2 * time.Minute, nil
	}
	return time.ParseDuration(c.Sync.AttemptTimeout)
}

// StaleLockThreshold parses the configured lock reclaim age.
func (c *Config) StaleLockThreshold() (time.Duration, error) {
	if c.Sync.StaleLockThreshold == "" {
		return DefaultStaleLockThreshold, nil
	}
	return time.ParseDuration(c.Sync.StaleLockThreshold)
}

// Validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.VectorStore.ID == "" {
		return fmt.Errorf("vectorStore.id is required")
	}

	if c.Paths.Manifest == "" {
		return fmt.Errorf("paths.manifest is required")
	}
	if c.Paths.StateFile == "" {
		return fmt.Errorf("paths.stateFile is required")
	}
	if c.Paths.LockFile == "" {
		return fmt.Errorf("paths.lockFile is required")
	}
	if len(c.Paths.CorpusDirs) == 0 && c.Paths.DefaultCorpusDir == "" {
		return fmt.Errorf("paths.corpusDirs or paths.defaultCorpusDir must be set")
	}

	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1")
	}
	if c.Sync.FailureRateLimit < 0 || c.Sync.FailureRateLimit > 1 {
		return fmt.Errorf("sync.failureRateLimit must be between 0 and 1")
	}

	for _, parse := range []func() (time.Duration, error){
		c.RetryBaseDelay, c.AttemptTimeout, c.StaleLockThreshold,
	} {
		if _, err := parse(); err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}
