// Package config loads the orchestration core's configuration: a
// config.yaml layered with the environment variables §6.5 of the
// specification recognises. It follows the teacher's GetConfigDir/
// DefaultConfig/LoadConfig shape but is backed by viper instead of a
// hand-rolled encoding/json reader, so operators get file+env+default
// layering for free.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/fleetctl/orchestrator/fsutil"
	"github.com/fleetctl/orchestrator/log"
)

const ConfigFileName = "config.yaml"

// RoleConfig is one row of the role registry (M14 — "deep dispatch by role"
// redesigned as data): new roles are added here, not by subclassing.
type RoleConfig struct {
	Name               string   `mapstructure:"name"`
	CapabilityFlags    []string `mapstructure:"capability_flags"`
	DefaultPriorityBand int     `mapstructure:"default_priority_band"`
}

// Config is the full orchestration core configuration.
type Config struct {
	DefaultProgram string `mapstructure:"default_program"`
	AutoYes        bool   `mapstructure:"auto_yes"`
	BranchPrefix   string `mapstructure:"branch_prefix"`

	// Process Manager (C4)
	MaxProcessRuntimeSec int `mapstructure:"max_process_runtime_sec"`
	ProcessGraceSec      int `mapstructure:"process_grace_sec"`

	// Session Lifecycle Manager (C6)
	HeartbeatTimeoutSec  int `mapstructure:"heartbeat_timeout_sec"`
	MaxTimeoutExtensions int `mapstructure:"max_timeout_extensions"`
	PhantomGracePeriodSec int `mapstructure:"phantom_grace_period_sec"`
	StateSyncIntervalSec int `mapstructure:"state_sync_interval_sec"`
	MaxAgentRestarts     int `mapstructure:"max_agent_restarts"`
	RebootRecoveryWindowHours int `mapstructure:"reboot_recovery_window_hours"`

	// Agent Message Bus (C5)
	PullTimeoutSec       int `mapstructure:"pull_timeout_sec"`
	DependencyTimeoutSec int `mapstructure:"dependency_timeout_sec"`
	RateLimitPerMinute   int `mapstructure:"rate_limit_per_minute"`

	// Project Queue & Scheduler (C7)
	SchedulerTickSec int `mapstructure:"scheduler_tick_sec"`

	// Event Bus (C9)
	EventBufferSize       int `mapstructure:"event_buffer_size"`
	NotifyRateLimitPerMin int `mapstructure:"notify_rate_limit_per_min"`
	EmergencyBypass       bool `mapstructure:"emergency_bypass"`
	DisableFastLane       bool `mapstructure:"disable_fast_lane"`

	// Compliance Engine (C8)
	RulesDocumentPath     string `mapstructure:"rules_document_path"`
	RulesDebounceMillis   int    `mapstructure:"rules_debounce_millis"`
	ViolationSuppressWindowSec int `mapstructure:"violation_suppress_window_sec"`

	// Storage
	StorePath string `mapstructure:"store_path"`

	// Locking
	LockDir string `mapstructure:"lock_dir"`

	// Event log
	EventLogDir string `mapstructure:"event_log_dir"`

	Roles []RoleConfig `mapstructure:"roles"`
}

// GetConfigDir returns the orchestration core's configuration directory.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config home directory: %w", err)
	}
	return filepath.Join(homeDir, ".orchestrator"), nil
}

// DefaultConfig returns the configuration defaults named in §6.5, plus the
// ambient defaults a fresh install needs before any config.yaml exists.
func DefaultConfig() *Config {
	dir, err := GetConfigDir()
	if err != nil {
		dir = "."
	}
	return &Config{
		DefaultProgram: "claude",
		AutoYes:        false,
		BranchPrefix:   "orchestrator/",

		MaxProcessRuntimeSec: 1800,
		ProcessGraceSec:      30,

		HeartbeatTimeoutSec:       600,
		MaxTimeoutExtensions:      3,
		PhantomGracePeriodSec:     900,
		StateSyncIntervalSec:      300,
		MaxAgentRestarts:          3,
		RebootRecoveryWindowHours: 8,

		PullTimeoutSec:       30,
		DependencyTimeoutSec: 600,
		RateLimitPerMinute:   10,

		SchedulerTickSec: 60,

		EventBufferSize:       100,
		NotifyRateLimitPerMin: 10,
		EmergencyBypass:       false,
		DisableFastLane:       false,

		RulesDocumentPath:          filepath.Join(dir, "rules.md"),
		RulesDebounceMillis:        2000,
		ViolationSuppressWindowSec: 300,

		StorePath: filepath.Join(dir, "orchestrator.db"),
		LockDir:   filepath.Join(dir, "locks"),

		EventLogDir: filepath.Join(dir, "logs", "events"),

		Roles: []RoleConfig{
			{Name: "orchestrator", CapabilityFlags: []string{"schedule", "review"}, DefaultPriorityBand: 10},
			{Name: "implementer", CapabilityFlags: []string{"edit", "test"}, DefaultPriorityBand: 0},
			{Name: "reviewer", CapabilityFlags: []string{"review"}, DefaultPriorityBand: 0},
		},
	}
}

// envBindings maps each §6.5 environment variable to its config key, using
// the exact historical names rather than a new prefix so operators do not
// have to relearn variable names the spec already fixes.
var envBindings = map[string]string{
	"MAX_PROCESS_RUNTIME_SEC": "max_process_runtime_sec",
	"HEARTBEAT_TIMEOUT_SEC":   "heartbeat_timeout_sec",
	"MAX_TIMEOUT_EXTENSIONS":  "max_timeout_extensions",
	"PHANTOM_GRACE_PERIOD_SEC": "phantom_grace_period_sec",
	"STATE_SYNC_INTERVAL_SEC": "state_sync_interval_sec",
	"EMERGENCY_BYPASS":        "emergency_bypass",
	"DISABLE_FAST_LANE":       "disable_fast_lane",
}

// Load reads config.yaml from the config directory (writing defaults on
// first run, matching the teacher's LoadConfig-creates-if-absent behavior),
// then layers the §6.5 environment variables on top via viper.
func Load() *Config {
	def := DefaultConfig()

	dir, err := GetConfigDir()
	if err != nil {
		log.Errorf("failed to get config directory: %v", err)
		return def
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	setViperDefaults(v, def)
	for envVar, key := range envBindings {
		_ = v.BindEnv(key, envVar)
	}

	configPath := filepath.Join(dir, ConfigFileName)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			log.Errorf("failed to parse config file %s: %v", configPath, err)
			return def
		}
		if saveErr := Save(def); saveErr != nil {
			log.Warnf("failed to save default config: %v", saveErr)
		}
	}

	cfg := *def
	if err := v.Unmarshal(&cfg); err != nil {
		log.Errorf("failed to decode config: %v", err)
		return def
	}
	return &cfg
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("default_program", cfg.DefaultProgram)
	v.SetDefault("max_process_runtime_sec", cfg.MaxProcessRuntimeSec)
	v.SetDefault("process_grace_sec", cfg.ProcessGraceSec)
	v.SetDefault("heartbeat_timeout_sec", cfg.HeartbeatTimeoutSec)
	v.SetDefault("max_timeout_extensions", cfg.MaxTimeoutExtensions)
	v.SetDefault("phantom_grace_period_sec", cfg.PhantomGracePeriodSec)
	v.SetDefault("state_sync_interval_sec", cfg.StateSyncIntervalSec)
	v.SetDefault("max_agent_restarts", cfg.MaxAgentRestarts)
	v.SetDefault("pull_timeout_sec", cfg.PullTimeoutSec)
	v.SetDefault("dependency_timeout_sec", cfg.DependencyTimeoutSec)
	v.SetDefault("rate_limit_per_minute", cfg.RateLimitPerMinute)
	v.SetDefault("scheduler_tick_sec", cfg.SchedulerTickSec)
	v.SetDefault("event_buffer_size", cfg.EventBufferSize)
	v.SetDefault("notify_rate_limit_per_min", cfg.NotifyRateLimitPerMin)
	v.SetDefault("emergency_bypass", cfg.EmergencyBypass)
	v.SetDefault("disable_fast_lane", cfg.DisableFastLane)
	v.SetDefault("rules_document_path", cfg.RulesDocumentPath)
	v.SetDefault("rules_debounce_millis", cfg.RulesDebounceMillis)
	v.SetDefault("violation_suppress_window_sec", cfg.ViolationSuppressWindowSec)
	v.SetDefault("store_path", cfg.StorePath)
	v.SetDefault("lock_dir", cfg.LockDir)
	v.SetDefault("event_log_dir", cfg.EventLogDir)
}

// Save writes cfg to config.yaml under the config directory atomically.
func Save(cfg *Config) error {
	dir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setViperDefaults(v, cfg)
	if len(cfg.Roles) > 0 {
		v.Set("roles", cfg.Roles)
	}

	tmpPath := filepath.Join(os.TempDir(), "orchestrator-config-render.yaml")
	if err := v.WriteConfigAs(tmpPath); err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to read rendered config: %w", err)
	}
	defer os.Remove(tmpPath)

	return fsutil.AtomicWriteFile(filepath.Join(dir, ConfigFileName), data, 0644)
}

func (c *Config) MaxProcessRuntime() time.Duration {
	return time.Duration(c.MaxProcessRuntimeSec) * time.Second
}

func (c *Config) ProcessGrace() time.Duration {
	return time.Duration(c.ProcessGraceSec) * time.Second
}

func (c *Config) RulesDebounce() time.Duration {
	return time.Duration(c.RulesDebounceMillis) * time.Millisecond
}

func (c *Config) ViolationSuppressWindow() time.Duration {
	return time.Duration(c.ViolationSuppressWindowSec) * time.Second
}

func (c *Config) RebootRecoveryWindow() time.Duration {
	return time.Duration(c.RebootRecoveryWindowHours) * time.Hour
}

func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSec) * time.Second
}

func (c *Config) PhantomGracePeriod() time.Duration {
	return time.Duration(c.PhantomGracePeriodSec) * time.Second
}

func (c *Config) StateSyncInterval() time.Duration {
	return time.Duration(c.StateSyncIntervalSec) * time.Second
}

func (c *Config) PullTimeout() time.Duration {
	return time.Duration(c.PullTimeoutSec) * time.Second
}

func (c *Config) DependencyTimeout() time.Duration {
	return time.Duration(c.DependencyTimeoutSec) * time.Second
}

func (c *Config) SchedulerTick() time.Duration {
	return time.Duration(c.SchedulerTickSec) * time.Second
}
