// Package config loads kestrel's configuration from a YAML file with
// KESTREL_* environment overrides. Command-line flags are applied on top
// by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Build   BuildConfig   `yaml:"build"`
	Serve   ServeConfig   `yaml:"serve"`
	Logging LoggingConfig `yaml:"logging"`
}

// PathsConfig locates the generation root and scratch space.
type PathsConfig struct {
	// Root holds CURRENT and the generations directory.
	Root string `yaml:"root"`
	// TempDir holds construction scratch files. Empty means a directory
	// inside the generation being built.
	TempDir string `yaml:"tempDir"`
}

// BuildConfig controls index construction.
type BuildConfig struct {
	// Journals are file paths or doublestar globs.
	Journals []string `yaml:"journals"`
	Workers  int      `yaml:"workers"`
	// MemoryThreshold is the placement array size above which it is
	// backed by a temp file. Supports B, KB, MB, GB suffixes; "-1" forces
	// the file backend.
	MemoryThreshold   string `yaml:"memoryThreshold"`
	CompressPositions bool   `yaml:"compressPositions"`
	SkipValues        bool   `yaml:"skipValues"`
	RenumberOrdinals  bool   `yaml:"renumberOrdinals"`
	// Schedule is a cron expression for rebuilds while serving. Both
	// 5-field and 6-field (seconds) forms are accepted.
	Schedule string `yaml:"schedule"`
	// Keep is how many generations survive pruning after a publish.
	Keep int `yaml:"keep"`
}

// ServeConfig controls the long-running server.
type ServeConfig struct {
	QueryBudget    time.Duration `yaml:"queryBudget"`
	BlockCacheSize int           `yaml:"blockCacheSize"`
	MetricsAddr    string        `yaml:"metricsAddr"`
	Watch          bool          `yaml:"watch"`

	// TLSCert and TLSKey switch the listener to HTTPS. Both or neither.
	TLSCert string `yaml:"tlsCert"`
	TLSKey  string `yaml:"tlsKey"`
}

// LoggingConfig sets the default level, output format and per-component
// overrides.
type LoggingConfig struct {
	Level      string            `yaml:"level"`
	Format     string            `yaml:"format"`
	Components map[string]string `yaml:"components"`
}

// Load reads the YAML file at path, if any, over the defaults and applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-supplied
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{Root: DefaultRoot()},
		Build: BuildConfig{
			MemoryThreshold: "256MB",
			Keep:            2,
		},
		Serve: ServeConfig{
			QueryBudget:    250 * time.Millisecond,
			BlockCacheSize: 4096,
			Watch:          true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultRoot returns the platform cache directory joined with "kestrel",
// or "kestrel" in the working directory when there is none.
func DefaultRoot() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return "kestrel"
	}
	return filepath.Join(base, "kestrel")
}

func applyEnvOverrides(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("KESTREL_ROOT", &cfg.Paths.Root)
	str("KESTREL_TEMP_DIR", &cfg.Paths.TempDir)
	if v := os.Getenv("KESTREL_JOURNALS"); v != "" {
		cfg.Build.Journals = strings.Split(v, ",")
	}
	integer("KESTREL_BUILD_WORKERS", &cfg.Build.Workers)
	str("KESTREL_MEMORY_THRESHOLD", &cfg.Build.MemoryThreshold)
	boolean("KESTREL_COMPRESS_POSITIONS", &cfg.Build.CompressPositions)
	boolean("KESTREL_SKIP_VALUES", &cfg.Build.SkipValues)
	str("KESTREL_BUILD_SCHEDULE", &cfg.Build.Schedule)
	integer("KESTREL_KEEP_GENERATIONS", &cfg.Build.Keep)
	if v := os.Getenv("KESTREL_QUERY_BUDGET"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("KESTREL_QUERY_BUDGET: %w", err))
		} else {
			cfg.Serve.QueryBudget = d
		}
	}
	integer("KESTREL_BLOCK_CACHE_SIZE", &cfg.Serve.BlockCacheSize)
	str("KESTREL_METRICS_ADDR", &cfg.Serve.MetricsAddr)
	str("KESTREL_TLS_CERT", &cfg.Serve.TLSCert)
	str("KESTREL_TLS_KEY", &cfg.Serve.TLSKey)
	str("KESTREL_LOG_LEVEL", &cfg.Logging.Level)
	str("KESTREL_LOG_FORMAT", &cfg.Logging.Format)
	return errors.Join(errs...)
}

// Validate checks values that would otherwise fail deep inside a build
// or server start.
func (c *Config) Validate() error {
	var errs []error
	if c.Paths.Root == "" {
		errs = append(errs, errors.New("paths.root is empty"))
	}
	if _, err := c.Build.Threshold(); err != nil {
		errs = append(errs, fmt.Errorf("build.memoryThreshold: %w", err))
	}
	if err := ValidateCron(c.Build.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("build.schedule: %w", err))
	}
	if c.Build.Workers < 0 {
		errs = append(errs, errors.New("build.workers is negative"))
	}
	if c.Build.Keep < 1 {
		errs = append(errs, errors.New("build.keep must be at least 1"))
	}
	if (c.Serve.TLSCert == "") != (c.Serve.TLSKey == "") {
		errs = append(errs, errors.New("serve.tlsCert and serve.tlsKey must be set together"))
	}
	if c.Serve.BlockCacheSize < 1 {
		errs = append(errs, errors.New("serve.blockCacheSize must be at least 1"))
	}
	if c.Serve.QueryBudget < 0 {
		errs = append(errs, errors.New("serve.queryBudget is negative"))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// Threshold returns MemoryThreshold in bytes. Empty means zero (the slots
// default); "-1" returns -1.
func (b BuildConfig) Threshold() (int64, error) {
	s := strings.TrimSpace(b.MemoryThreshold)
	switch s {
	case "":
		return 0, nil
	case "-1":
		return -1, nil
	}
	n, err := ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("%q is too large", s)
	}
	return int64(n), nil
}

// ValidateCron checks a cron expression. Empty is valid and means no
// schedule. Both 5-field (minute-level) and 6-field (second-level) syntax
// are accepted.
func ValidateCron(expr string) error {
	if expr == "" {
		return nil
	}
	cr := gocron.NewDefaultCron(true)
	if err := cr.IsValid(expr, time.UTC, time.Now()); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// ParseBytes parses a byte size string with optional suffix (B, KB, MB, GB).
func ParseBytes(s string) (uint64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, errors.New("empty value")
	}

	var multiplier uint64 = 1
	numStr := s
	for _, u := range []struct {
		suffix string
		mult   uint64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.mult
			numStr = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}

	n, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return n * multiplier, nil
}
