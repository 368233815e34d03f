package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	coreagg "github.com/tabulon-lab/project-tabulon/internal/core/aggregation"
)

// Config represents the top-level application config plus resolved
// report-loading config.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Reports  ReportsConfig  `koanf:"reports"`
	Stream   StreamConfig   `koanf:"stream"`

	// ReportLoading is populated by Load after parsing report files.
	ReportLoading ReportLoadingConfig `koanf:"-"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type ReportsConfig struct {
	ConfigDir      string `koanf:"config_dir"`
	RequireReports bool   `koanf:"require_reports"`
}

type StreamConfig struct {
	ChunkSize          int         `koanf:"chunk_size"`
	MaxDemand          int         `koanf:"max_demand"` // 0 = unbounded
	BufferSize         int         `koanf:"buffer_size"`
	MemoryLimitMB      int         `koanf:"memory_limit_mb"` // 0 disables the circuit breaker
	MaxTransformErrors int         `koanf:"max_transform_errors"`
	RetryFetch         bool        `koanf:"retry_fetch"`
	SweepInterval      string      `koanf:"sweep_interval"`
	StreamTimeout      string      `koanf:"stream_timeout"`
	Cache              CacheConfig `koanf:"cache"`
}

type CacheConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Capacity int    `koanf:"capacity"`
	TTL      string `koanf:"ttl"`
}

type ReportLoadingConfig struct {
	ConfigDir string
	Reports   []coreagg.Report
}

// MemoryLimitBytes converts the configured megabyte limit for the
// producer circuit breaker.
func (s StreamConfig) MemoryLimitBytes() uint64 {
	return uint64(s.MemoryLimitMB) * 1024 * 1024
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}
	if c.Database.Type != "" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	if strings.TrimSpace(c.Reports.ConfigDir) == "" {
		return fmt.Errorf("reports.config_dir is required")
	}

	if c.Stream.ChunkSize <= 0 {
		return fmt.Errorf("stream.chunk_size must be > 0")
	}
	if c.Stream.MaxDemand < 0 {
		return fmt.Errorf("stream.max_demand must be >= 0")
	}
	if c.Stream.BufferSize <= 0 {
		return fmt.Errorf("stream.buffer_size must be > 0")
	}
	if c.Stream.MemoryLimitMB < 0 {
		return fmt.Errorf("stream.memory_limit_mb must be >= 0")
	}
	if c.Stream.MaxTransformErrors <= 0 {
		return fmt.Errorf("stream.max_transform_errors must be > 0")
	}
	for key, value := range map[string]string{
		"stream.sweep_interval": c.Stream.SweepInterval,
		"stream.stream_timeout": c.Stream.StreamTimeout,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", key)
		}
	}
	if c.Stream.Cache.Enabled {
		if c.Stream.Cache.Capacity <= 0 {
			return fmt.Errorf("stream.cache.capacity must be > 0")
		}
		d, err := time.ParseDuration(c.Stream.Cache.TTL)
		if err != nil {
			return fmt.Errorf("invalid stream.cache.ttl %q: %w", c.Stream.Cache.TTL, err)
		}
		if d <= 0 {
			return fmt.Errorf("stream.cache.ttl must be > 0")
		}
	}

	return nil
}

// Load parses config from file + env, validates it, then loads and
// validates report definitions.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                 8080,
		"server.host":                 "0.0.0.0",
		"server.max_body_size_mb":     1,
		"server.mode":                 "release",
		"database.type":               "postgres",
		"database.dsn":                "postgres://localhost/tabulon?sslmode=disable",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     25,
		"database.auto_migrate":       true,
		"reports.config_dir":          "./config/reports",
		"reports.require_reports":     true,
		"stream.chunk_size":           25,
		"stream.max_demand":           0,
		"stream.buffer_size":          25,
		"stream.memory_limit_mb":      0,
		"stream.max_transform_errors": 100,
		"stream.retry_fetch":          true,
		"stream.sweep_interval":       "1m",
		"stream.stream_timeout":       "10m",
		"stream.cache.enabled":        false,
		"stream.cache.capacity":       128,
		"stream.cache.ttl":            "30s",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("TABULON_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "TABULON_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := coreagg.NewFileSystemReportRepository(cfg.Reports.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load reports: %w", err)
	}
	reports, err := repo.List(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	if cfg.Reports.RequireReports && len(reports) == 0 {
		return nil, fmt.Errorf("no reports found in %q", cfg.Reports.ConfigDir)
	}

	cfg.ReportLoading = ReportLoadingConfig{
		ConfigDir: cfg.Reports.ConfigDir,
		Reports:   reports,
	}

	return &cfg, nil
}

// SweepIntervalDuration returns the parsed registry sweep interval.
// Validate has already checked it.
func (s StreamConfig) SweepIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(s.SweepInterval)
	return d
}

// StreamTimeoutDuration returns the parsed stream inactivity timeout.
func (s StreamConfig) StreamTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(s.StreamTimeout)
	return d
}

// CacheTTLDuration returns the parsed page cache TTL.
func (c CacheConfig) CacheTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.TTL)
	return d
}
