package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	Environment string        `toml:"environment" validate:"omitempty,oneof=development production"`
	Extract     ExtractConfig `toml:"extract"`
	GitLab      GitLabConfig  `toml:"gitlab"`
	AWS         AWSConfig     `toml:"aws"`
	Queue       QueueConfig   `toml:"queue"`
	Retry       RetryConfig   `toml:"retry"`
	Storage     StorageConfig `toml:"storage"`
	Logging     LoggingConfig `toml:"logging"`
}

// ExtractConfig bounds the extraction window and optional schedule.
type ExtractConfig struct {
	// WindowStart/WindowEnd bound the initial full fetch. RFC 3339.
	// An empty WindowEnd means "up to now".
	WindowStart string `toml:"window_start"`
	WindowEnd   string `toml:"window_end"`

	// Schedule is a cron expression for daemon mode (empty = single run).
	Schedule string `toml:"schedule"`
}

// GitLabConfig scopes the GitLab source.
type GitLabConfig struct {
	// Projects are the GitLab project ids or paths to extract.
	Projects []string `toml:"projects"`

	// Resources limits which resource tables are fetched. Empty = all of
	// commits, merge_requests, issues, pipelines.
	Resources []string `toml:"resources"`

	// RateLimit is the client-side request budget (requests per second).
	RateLimit int `toml:"rate_limit" validate:"min=1"`

	// PerPage is the page size requested from the API.
	PerPage int `toml:"per_page" validate:"min=1,max=100"`

	RequestTimeout time.Duration `toml:"request_timeout"`
}

// AWSConfig scopes the cost source.
type AWSConfig struct {
	// Accounts maps an account id to the shared-config profile that can
	// read its Cost Explorer data.
	Accounts map[string]string `toml:"accounts"`

	Region string `toml:"region"`

	// Granularity is the cost aggregation period: DAILY or MONTHLY.
	Granularity string `toml:"granularity" validate:"omitempty,oneof=DAILY MONTHLY"`
}

// QueueConfig bounds worker concurrency.
type QueueConfig struct {
	// Concurrency is the global pool size (total jobs in flight).
	Concurrency int `toml:"concurrency" validate:"min=1"`

	// PerSourceConcurrency caps in-flight jobs per source so one source's
	// rate limiting cannot starve the other.
	PerSourceConcurrency int `toml:"per_source_concurrency" validate:"min=1"`
}

// RetryConfig controls transient-failure backoff in the API clients.
type RetryConfig struct {
	MaxAttempts       int           `toml:"max_attempts" validate:"min=1"`
	InitialBackoff    time.Duration `toml:"initial_backoff"`
	MaxBackoff        time.Duration `toml:"max_backoff"`
	BackoffMultiplier float64       `toml:"backoff_multiplier"`
}

// StorageConfig locates the dataset database.
type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration.
type BadgerConfig struct {
	Path string `toml:"path"`

	// SyncWrites forces every write to disk before returning. Cursor
	// advances rely on this for the crash-safety ordering; disable only
	// for throwaway runs.
	SyncWrites bool `toml:"sync_writes"`
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Output     []string `toml:"output"` // "stdout", "file"
	TimeFormat string   `toml:"time_format"`
}

// NewDefaultConfig creates a configuration with default values.
// Only user-facing settings are exposed in colligo.toml; technical
// parameters default here.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Extract: ExtractConfig{
			WindowStart: "",
			WindowEnd:   "",
			Schedule:    "",
		},
		GitLab: GitLabConfig{
			Projects:       []string{},
			Resources:      []string{},
			RateLimit:      5, // stays well under GitLab's default 600 req/min
			PerPage:        100,
			RequestTimeout: 30 * time.Second,
		},
		AWS: AWSConfig{
			Accounts:    map[string]string{},
			Region:      "eu-central-1",
			Granularity: "DAILY",
		},
		Queue: QueueConfig{
			Concurrency:          8,
			PerSourceConcurrency: 4,
		},
		Retry: RetryConfig{
			MaxAttempts:       5,
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        60 * time.Second,
			BackoffMultiplier: 2.0,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:       "./data",
				SyncWrites: true,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 ->
// file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variables over file configuration.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("COLLIGO_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("COLLIGO_DATA_DIR"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("COLLIGO_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Queue.Concurrency = n
			// The per-source default must not outrank a smaller override.
			if config.Queue.PerSourceConcurrency > n {
				config.Queue.PerSourceConcurrency = n
			}
		}
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		config.AWS.Region = v
	}
}

// Validate checks the loaded configuration against struct tags plus the
// cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Queue.PerSourceConcurrency > c.Queue.Concurrency {
		return fmt.Errorf("invalid configuration: per_source_concurrency (%d) exceeds concurrency (%d)",
			c.Queue.PerSourceConcurrency, c.Queue.Concurrency)
	}

	if _, _, err := c.Window(); err != nil {
		return err
	}

	return nil
}

// Window parses the configured extraction window. A zero end means "now at
// run time".
func (c *Config) Window() (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if c.Extract.WindowStart != "" {
		start, err = time.Parse(time.RFC3339, c.Extract.WindowStart)
		if err != nil {
			return start, end, fmt.Errorf("invalid extract.window_start %q: %w", c.Extract.WindowStart, err)
		}
	}
	if c.Extract.WindowEnd != "" {
		end, err = time.Parse(time.RFC3339, c.Extract.WindowEnd)
		if err != nil {
			return start, end, fmt.Errorf("invalid extract.window_end %q: %w", c.Extract.WindowEnd, err)
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return start, end, fmt.Errorf("invalid extract window: end %s before start %s", c.Extract.WindowEnd, c.Extract.WindowStart)
	}

	return start, end, nil
}

// GitLabResources resolves the configured GitLab resource names, defaulting
// to all resource tables when none are configured.
func (c *Config) GitLabResources() []string {
	if len(c.GitLab.Resources) > 0 {
		return c.GitLab.Resources
	}
	return []string{"commits", "merge_requests", "issues", "pipelines"}
}
