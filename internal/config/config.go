// Package config handles dispatchd's static configuration, loaded with
// viper from a YAML file under the "dispatchd:" root key with
// environment-variable overrides (DISPATCHD_*).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	logpkg "github.com/taskrelay/dispatchd/internal/log"
)

// GlobalConfig is the top-level static configuration, mapped from the
// "dispatchd:" root key.
type GlobalConfig struct {
	Control     ControlConfig     `mapstructure:"control"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Log         logpkg.LoggerConfig `mapstructure:"log"`
}

// ControlConfig configures the worker-facing HTTP control API (spec §6
// External interfaces).
type ControlConfig struct {
	Listen       string `mapstructure:"listen"`
	PIDFile      string `mapstructure:"pid_file"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// DispatchConfig seeds dispatch.ConfigView at startup (spec §6
// Configuration surface).
type DispatchConfig struct {
	DefaultBatchSize      int    `mapstructure:"default_batch_size"`
	MaxBatchSize          int    `mapstructure:"max_batch_size"`
	WebhookURL            string `mapstructure:"webhook_url"`
	ReportIntervalMinutes int    `mapstructure:"report_interval_minutes"`
	SweepThresholdMs      int64  `mapstructure:"sweep_threshold_ms"`
	SweepIntervalSeconds  int    `mapstructure:"sweep_interval_seconds"`
}

// PersistenceConfig configures the JSON snapshot persistence sink (spec §4.5).
type PersistenceConfig struct {
	Dir string `mapstructure:"dir"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

type configRoot struct {
	Dispatchd GlobalConfig `mapstructure:"dispatchd"`
}

// Load reads path (YAML) and environment overrides, applies defaults, and
// validates the result.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	// Keys already start with the "dispatchd." root, so no env prefix is
	// set: "dispatchd.log.level" maps to DISPATCHD_LOG_LEVEL.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg := root.Dispatchd

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dispatchd.control.listen", ":8089")
	v.SetDefault("dispatchd.control.pid_file", "/var/run/dispatchd.pid")
	v.SetDefault("dispatchd.control.read_timeout", "10s")
	v.SetDefault("dispatchd.control.write_timeout", "30s")

	v.SetDefault("dispatchd.dispatch.default_batch_size", 8)
	v.SetDefault("dispatchd.dispatch.max_batch_size", 1000)
	v.SetDefault("dispatchd.dispatch.report_interval_minutes", 240)
	v.SetDefault("dispatchd.dispatch.sweep_threshold_ms", 300000)
	v.SetDefault("dispatchd.dispatch.sweep_interval_seconds", 30)

	v.SetDefault("dispatchd.persistence.dir", "/var/lib/dispatchd/rounds")

	v.SetDefault("dispatchd.metrics.enabled", true)
	v.SetDefault("dispatchd.metrics.listen", ":9090")
	v.SetDefault("dispatchd.metrics.path", "/metrics")

	v.SetDefault("dispatchd.log.level", "info")
	v.SetDefault("dispatchd.log.pattern", "%time [%level] [%caller] %field- %msg\n")
	v.SetDefault("dispatchd.log.time", "2006-01-02 15:04:05.000")
}

// ValidateAndApplyDefaults validates cross-field constraints the plain
// viper defaults can't express.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	if cfg.Dispatch.DefaultBatchSize < 1 {
		return fmt.Errorf("dispatch.default_batch_size must be >= 1")
	}
	if cfg.Dispatch.MaxBatchSize < cfg.Dispatch.DefaultBatchSize {
		return fmt.Errorf("dispatch.max_batch_size must be >= default_batch_size")
	}
	if cfg.Dispatch.WebhookURL != "" && !strings.HasPrefix(cfg.Dispatch.WebhookURL, "https://") {
		return fmt.Errorf("dispatch.webhook_url must start with https://")
	}
	if cfg.Dispatch.ReportIntervalMinutes < 0 {
		return fmt.Errorf("dispatch.report_interval_minutes must be >= 0")
	}
	if cfg.Persistence.Dir == "" {
		return fmt.Errorf("persistence.dir is required")
	}
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("invalid log.level: %s", cfg.Log.Level)
	}
	return nil
}
