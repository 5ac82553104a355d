// Package config loads the engine's tunables once at process start into
// an immutable struct. Loading itself (flags, files, environment) is an
// external-collaborator concern per the engine's scope, but the engine
// still needs a typed, validated settings object to construct its
// components from — this is that object plus the viper-backed loader
// that builds it, in the style of root.go's cobra+viper bootstrap.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved, read-only configuration for one engine
// process. Nothing in the engine mutates it after Load returns.
type Config struct {
	Executor  ExecutorConfig   `mapstructure:"executor"`
	Cache     CacheConfig      `mapstructure:"cache"`
	Pipeline  PipelineConfig   `mapstructure:"pipeline"`
	Providers []ProviderConfig `mapstructure:"providers"`
	Prefetch  PrefetchConfig   `mapstructure:"prefetch"`
	Index     IndexConfig      `mapstructure:"index"`
	Telemetry TelemetryConfig  `mapstructure:"telemetry"`
}

// ExecutorConfig sizes the bounded-concurrency resource pools.
type ExecutorConfig struct {
	NetworkCapacity       int64         `mapstructure:"network_capacity"`
	CPUCapacity           int64         `mapstructure:"cpu_capacity"`
	DiskCapacity          int64         `mapstructure:"disk_capacity"`
	GlobalCapacity        int64         `mapstructure:"global_capacity"`
	HighUtilization       float64       `mapstructure:"high_utilization"`
	ResumeUtilization     float64       `mapstructure:"resume_utilization"`
	CooldownInterval      time.Duration `mapstructure:"cooldown_interval"`
	QueueCapacityPerClass int           `mapstructure:"queue_capacity_per_class"`
}

// CacheConfig sizes the two-tier cache.
type CacheConfig struct {
	MemoryMaxEntries  int           `mapstructure:"memory_max_entries"`
	MemoryBudgetBytes int64         `mapstructure:"memory_budget_bytes"`
	DiskRoot          string        `mapstructure:"disk_root"`
	DiskBudgetBytes   int64         `mapstructure:"disk_budget_bytes"`
	DiskSweepInterval time.Duration `mapstructure:"disk_sweep_interval"`
}

// PipelineConfig sizes one tile job.
type PipelineConfig struct {
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
	FanOut            int           `mapstructure:"fan_out"`
	RetryMaxAttempts  int           `mapstructure:"retry_max_attempts"`
	RetryInitialDelay time.Duration `mapstructure:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
	DDSFormat         string        `mapstructure:"dds_format"`
}

// ProviderConfig describes one registered imagery source.
type ProviderConfig struct {
	Tag        string        `mapstructure:"tag"`
	Kind       string        `mapstructure:"kind"` // "bing" or "google"
	Subdomains []string      `mapstructure:"subdomains"`
	Version    string        `mapstructure:"version"`
	MaxZoom    uint8         `mapstructure:"max_zoom"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// PrefetchConfig tunes the predictive prefetch coordinator.
type PrefetchConfig struct {
	GroundRadiusTiles  int           `mapstructure:"ground_radius_tiles"`
	GroundZoom         uint8         `mapstructure:"ground_zoom"`
	CruiseZooms        []uint8       `mapstructure:"cruise_zooms"`
	LeadDistanceDeg    float64       `mapstructure:"lead_distance_deg"`
	BandWidthDeg       float64       `mapstructure:"band_width_deg"`
	MaxCandidates      int           `mapstructure:"max_candidates"`
	GracePeriod        time.Duration `mapstructure:"grace_period"`
	RampUpPeriod       time.Duration `mapstructure:"ramp_up_period"`
	PhaseHysteresis    time.Duration `mapstructure:"phase_hysteresis"`
	PhaseSpeedThreshKt float64       `mapstructure:"phase_speed_thresh_kt"`
	TurnWindowSamples  int           `mapstructure:"turn_window_samples"`
	TurnVarianceThresh float64       `mapstructure:"turn_variance_thresh"`
}

// IndexConfig locates the backing source directories and the persisted
// index cache file.
type IndexConfig struct {
	SourceRoots  []string `mapstructure:"source_roots"`
	CacheFile    string   `mapstructure:"cache_file"`
	SoftwareVers string   `mapstructure:"software_version"`
	// SnapshotDSN, if non-empty, additionally mirrors the built index
	// into a queryable sqlite database at this path. Intended for source
	// trees large enough (~10^6 files) that callers want a durable,
	// queryable existence check alongside the in-memory map.
	SnapshotDSN string `mapstructure:"snapshot_dsn"`
	// SnapshotBatchSize bounds how many file rows are written per
	// transaction when populating SnapshotDSN (default 5000).
	SnapshotBatchSize int `mapstructure:"snapshot_batch_size"`
}

// TelemetryConfig names the UDP ingress port the engine listens on for
// flight telemetry.
type TelemetryConfig struct {
	ListenPort int `mapstructure:"listen_port"`
}

// DefaultConfig returns the engine's built-in defaults, matching the
// values named throughout the design notes.
func DefaultConfig() Config {
	return Config{
		Executor: ExecutorConfig{
			NetworkCapacity:       64,
			CPUCapacity:           48,
			DiskCapacity:          48,
			GlobalCapacity:        48,
			HighUtilization:       0.9,
			ResumeUtilization:     0.7,
			CooldownInterval:      5 * time.Second,
			QueueCapacityPerClass: 256,
		},
		Cache: CacheConfig{
			MemoryMaxEntries:  2048,
			MemoryBudgetBytes: 2 << 30,
			DiskRoot:          "./cache",
			DiskBudgetBytes:   20 << 30,
			DiskSweepInterval: 10 * time.Minute,
		},
		Pipeline: PipelineConfig{
			JobTimeout:        10 * time.Second,
			FanOut:            32,
			RetryMaxAttempts:  3,
			RetryInitialDelay: 100 * time.Millisecond,
			RetryMaxDelay:     30 * time.Second,
			DDSFormat:         "bc1",
		},
		Prefetch: PrefetchConfig{
			GroundRadiusTiles:  1,
			GroundZoom:         14,
			CruiseZooms:        []uint8{12, 14},
			LeadDistanceDeg:    2.0,
			BandWidthDeg:       2.0,
			MaxCandidates:      120,
			GracePeriod:        45 * time.Second,
			RampUpPeriod:       30 * time.Second,
			PhaseHysteresis:    2 * time.Second,
			PhaseSpeedThreshKt: 40.0,
			TurnWindowSamples:  10,
			TurnVarianceThresh: 0.15,
		},
		Index: IndexConfig{
			CacheFile:    "ortho_union_index.cache",
			SoftwareVers: "dev",
		},
		Telemetry: TelemetryConfig{
			ListenPort: 49002,
		},
	}
}

// Load builds a Config from (in ascending precedence) built-in defaults,
// an optional config file, and environment variables prefixed
// XEARTHLAYER_, following the same viper bootstrap shape as
// root.go's initConfig/BindPFlag sequence. configPath may be empty, in
// which case only defaults and the environment apply.
func Load(configPath string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("XEARTHLAYER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindDefaults(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshalling: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func bindDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("executor", cfg.Executor)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("pipeline", cfg.Pipeline)
	v.SetDefault("prefetch", cfg.Prefetch)
	v.SetDefault("index", cfg.Index)
	v.SetDefault("telemetry", cfg.Telemetry)
}

func (c Config) validate() error {
	if c.Executor.GlobalCapacity <= 0 {
		return fmt.Errorf("config: executor.global_capacity must be positive")
	}
	if c.Cache.MemoryBudgetBytes <= 0 {
		return fmt.Errorf("config: cache.memory_budget_bytes must be positive")
	}
	if c.Pipeline.JobTimeout <= 0 {
		return fmt.Errorf("config: pipeline.job_timeout must be positive")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider must be configured")
	}
	return nil
}
