// Package config loads and hot-reloads the daemon's YAML configuration
// through a viper-backed load/validate/diff-and-notify pipeline.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jinzhu/copier"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration. Each section maps to one
// of the core subsystems; the RPC/HTTP control
// surface, NNTP transport and PAR2/unpack engines are external
// collaborators and have no section here.
type Config struct {
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue" json:"queue"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store" json:"store"`
	HistoryIdx HistoryIdxConfig `yaml:"history_index" mapstructure:"history_index" json:"history_index"`
	Dupe       DupeConfig       `yaml:"dupe" mapstructure:"dupe" json:"dupe"`
	History    HistoryConfig    `yaml:"history" mapstructure:"history" json:"history"`
	Scanner    ScannerConfig    `yaml:"scanner" mapstructure:"scanner" json:"scanner"`
	Log        LogConfig        `yaml:"log" mapstructure:"log" json:"log,omitempty"`
	Categories []CategoryConfig `yaml:"categories" mapstructure:"categories" json:"categories"`
	Debug      bool             `yaml:"debug" mapstructure:"debug" json:"debug"`
}

// QueueConfig configures the queue coordinator.
type QueueConfig struct {
	MaxActiveDownloads        int `yaml:"max_active_downloads" mapstructure:"max_active_downloads" json:"max_active_downloads"`
	ForcePriorityThreshold    int `yaml:"force_priority_threshold" mapstructure:"force_priority_threshold" json:"force_priority_threshold"`
	URLTimeoutSeconds         int `yaml:"url_timeout_seconds" mapstructure:"url_timeout_seconds" json:"url_timeout_seconds"`
	MessageLogBuffer          int `yaml:"message_log_buffer" mapstructure:"message_log_buffer" json:"message_log_buffer"`
	HangCheckIntervalSeconds  int `yaml:"hang_check_interval_seconds" mapstructure:"hang_check_interval_seconds" json:"hang_check_interval_seconds"`
}

// StoreConfig configures the persisted queue/history state.
type StoreConfig struct {
	Dir                  string `yaml:"dir" mapstructure:"dir" json:"dir"`
	FlushIntervalSeconds int    `yaml:"flush_interval_seconds" mapstructure:"flush_interval_seconds" json:"flush_interval_seconds"`
}

// HistoryIdxConfig configures the sqlite dupe-key/content-hash accelerator
// index.
type HistoryIdxConfig struct {
	Path string `yaml:"path" mapstructure:"path" json:"path"`
}

// DupeConfig configures the dupe coordinator.
type DupeConfig struct {
	HashCacheSize int `yaml:"hash_cache_size" mapstructure:"hash_cache_size" json:"hash_cache_size"`
}

// HistoryConfig configures the history coordinator.
type HistoryConfig struct {
	KeepHistoryDays  int    `yaml:"keep_history_days" mapstructure:"keep_history_days" json:"keep_history_days"`
	DupeCheckEnabled bool   `yaml:"dupe_check_enabled" mapstructure:"dupe_check_enabled" json:"dupe_check_enabled"`
	ServiceCron      string `yaml:"service_cron" mapstructure:"service_cron" json:"service_cron"`
	MessageLogBuffer int    `yaml:"message_log_buffer" mapstructure:"message_log_buffer" json:"message_log_buffer"`
}

// ScannerConfig configures the incoming-directory scanner.
type ScannerConfig struct {
	WatchDir           string `yaml:"watch_dir" mapstructure:"watch_dir" json:"watch_dir"`
	FileAgeSeconds     int    `yaml:"file_age_seconds" mapstructure:"file_age_seconds" json:"file_age_seconds"`
	PollCron           string `yaml:"poll_cron" mapstructure:"poll_cron" json:"poll_cron"`
	ScanScript         string `yaml:"scan_script" mapstructure:"scan_script" json:"scan_script,omitempty"`
	LogBuffer          int    `yaml:"log_buffer" mapstructure:"log_buffer" json:"log_buffer"`
}

// CategoryConfig maps an incoming-directory subcategory to the
// post-processing parameters the scanner applies to files found
// there. Fields mirror scanner.CategoryParams field-for-field; DupeMode
// and DupeHint are strings here and are parsed into their model enums
// when internal/app wires the scanner.
type CategoryConfig struct {
	Name     string `yaml:"name" mapstructure:"name" json:"name"`
	Priority int    `yaml:"priority" mapstructure:"priority" json:"priority,omitempty"`
	DupeMode string `yaml:"dupe_mode" mapstructure:"dupe_mode" json:"dupe_mode,omitempty"`
	DupeHint string `yaml:"dupe_hint" mapstructure:"dupe_hint" json:"dupe_hint,omitempty"`
	Paused   bool   `yaml:"paused" mapstructure:"paused" json:"paused,omitempty"`
	AddTop   bool   `yaml:"add_top" mapstructure:"add_top" json:"add_top,omitempty"`
}

// LogConfig configures slog output and lumberjack rotation.
type LogConfig struct {
	File       string `yaml:"file" mapstructure:"file" json:"file,omitempty"`
	Level      string `yaml:"level" mapstructure:"level" json:"level,omitempty"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size" json:"max_size,omitempty"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age" json:"max_age,omitempty"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups" json:"max_backups,omitempty"`
	Compress   bool   `yaml:"compress" mapstructure:"compress" json:"compress,omitempty"`
}

// URLTimeout returns QueueConfig.URLTimeoutSeconds as a duration.
func (q QueueConfig) URLTimeout() time.Duration {
	return time.Duration(q.URLTimeoutSeconds) * time.Second
}

// HangCheckInterval returns QueueConfig.HangCheckIntervalSeconds as a duration.
func (q QueueConfig) HangCheckInterval() time.Duration {
	return time.Duration(q.HangCheckIntervalSeconds) * time.Second
}

// FileAge returns ScannerConfig.FileAgeSeconds as a duration.
func (s ScannerConfig) FileAge() time.Duration {
	return time.Duration(s.FileAgeSeconds) * time.Second
}

// DeepCopy returns a deep copy of the configuration, so config-reload
// diffing never mutates the previous snapshot in place.
func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}
	cp := &Config{}
	if err := copier.CopyWithOption(cp, c, copier.Option{DeepCopy: true}); err != nil {
		shallow := *c
		return &shallow
	}
	return cp
}

// Validate checks the configuration for internally-inconsistent values.
func (c *Config) Validate() error {
	if c.Queue.MaxActiveDownloads <= 0 {
		return fmt.Errorf("queue.max_active_downloads must be greater than 0")
	}
	if c.Queue.URLTimeoutSeconds <= 0 {
		return fmt.Errorf("queue.url_timeout_seconds must be greater than 0")
	}
	if c.Store.Dir == "" {
		return fmt.Errorf("store.dir must be set")
	}
	if c.Store.FlushIntervalSeconds <= 0 {
		c.Store.FlushIntervalSeconds = 1
	}
	if c.History.KeepHistoryDays < 0 {
		return fmt.Errorf("history.keep_history_days must not be negative")
	}
	if c.History.ServiceCron == "" {
		c.History.ServiceCron = "0 * * * *"
	}
	if c.Scanner.WatchDir == "" {
		return fmt.Errorf("scanner.watch_dir must be set")
	}
	if c.Scanner.FileAgeSeconds < 0 {
		return fmt.Errorf("scanner.file_age_seconds must not be negative")
	}
	if c.Scanner.PollCron == "" {
		c.Scanner.PollCron = "@every 10s"
	}
	return nil
}

// DefaultConfig returns a Config with the defaults the daemon ships with.
func DefaultConfig(stateDir string) *Config {
	return &Config{
		Queue: QueueConfig{
			MaxActiveDownloads:       4,
			ForcePriorityThreshold:   900,
			URLTimeoutSeconds:        60,
			MessageLogBuffer:         1000,
			HangCheckIntervalSeconds: 1,
		},
		Store: StoreConfig{
			Dir:                  stateDir,
			FlushIntervalSeconds: 1,
		},
		HistoryIdx: HistoryIdxConfig{
			Path: stateDir + "/history-index.db",
		},
		Dupe: DupeConfig{
			HashCacheSize: 4096,
		},
		History: HistoryConfig{
			KeepHistoryDays:  30,
			DupeCheckEnabled: true,
			ServiceCron:      "0 * * * *",
			MessageLogBuffer: 1000,
		},
		Scanner: ScannerConfig{
			WatchDir:       stateDir + "/nzb",
			FileAgeSeconds: 10,
			PollCron:       "@every 10s",
			LogBuffer:      1000,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    5,
			MaxAge:     14,
			MaxBackups: 5,
		},
	}
}

// LoadConfig reads and validates configuration from configFile, falling
// back to DefaultConfig values for anything the file omits.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	cfg := DefaultConfig(".")
	if _, err := os.Stat(configFile); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("config: unmarshal %s: %w", configFile, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes config as YAML to filename.
func SaveToFile(config *Config, filename string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(filename, data, 0o644)
}
