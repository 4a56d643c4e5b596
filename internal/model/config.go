// Package model defines the data structures for conductor's orders, queue
// tasks, and configuration.
package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

type Config struct {
	Retry   RetrySettings  `yaml:"retry"`
	Limits  LimitsSettings `yaml:"limits"`
	Queue   QueueSettings  `yaml:"queue"`
	Daemon  DaemonSettings `yaml:"daemon"`
	Logging LogSettings    `yaml:"logging"`
	Notify  NotifySettings `yaml:"notify"`
}

type RetrySettings struct {
	MaxAttempts   int `yaml:"max_attempts"`
	BackoffBaseMs int `yaml:"backoff_base_ms"`
	BackoffCapMs  int `yaml:"backoff_cap_ms"`
}

// LimitsSettings holds the five wall-clock budgets, all measured from the
// order's creation time.
type LimitsSettings struct {
	QueueMs     int `yaml:"queue_ms"`
	QueueTaskMs int `yaml:"queue_task_ms"`
	PaymentMs   int `yaml:"payment_ms"`
	MessageMs   int `yaml:"message_ms"`
	EmployeeMs  int `yaml:"employee_ms"`
}

type QueueSettings struct {
	Dir string `yaml:"dir"`
}

type DaemonSettings struct {
	ScanIntervalSec    int `yaml:"scan_interval_sec"`
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LogSettings struct {
	Level string `yaml:"level"`
}

type NotifySettings struct {
	Enabled bool `yaml:"enabled"`
}

// ApplyDefaults fills zero-valued fields with working defaults. The default
// budgets mirror the ratios the coordination algorithm assumes: payment and
// message budgets below the overall queue budget, and the per-task budget
// well below both.
func (c *Config) ApplyDefaults() {
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BackoffBaseMs <= 0 {
		c.Retry.BackoffBaseMs = 500
	}
	if c.Retry.BackoffCapMs <= 0 {
		c.Retry.BackoffCapMs = 10_000
	}
	if c.Limits.QueueMs <= 0 {
		c.Limits.QueueMs = 240_000
	}
	if c.Limits.QueueTaskMs <= 0 {
		c.Limits.QueueTaskMs = 60_000
	}
	if c.Limits.PaymentMs <= 0 {
		c.Limits.PaymentMs = 120_000
	}
	if c.Limits.MessageMs <= 0 {
		c.Limits.MessageMs = 150_000
	}
	if c.Limits.EmployeeMs <= 0 {
		c.Limits.EmployeeMs = 240_000
	}
	if c.Queue.Dir == "" {
		c.Queue.Dir = "queue"
	}
	if c.Daemon.ScanIntervalSec <= 0 {
		c.Daemon.ScanIntervalSec = 10
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		c.Daemon.ShutdownTimeoutSec = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// LoadConfig reads config.yaml from dir and applies defaults. A missing
// file yields the default config.
func LoadConfig(dir string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config.yaml: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (r RetrySettings) BackoffBase() time.Duration { return msDuration(r.BackoffBaseMs) }
func (r RetrySettings) BackoffCap() time.Duration  { return msDuration(r.BackoffCapMs) }

func (l LimitsSettings) Queue() time.Duration     { return msDuration(l.QueueMs) }
func (l LimitsSettings) QueueTask() time.Duration { return msDuration(l.QueueTaskMs) }
func (l LimitsSettings) Payment() time.Duration   { return msDuration(l.PaymentMs) }
func (l LimitsSettings) Message() time.Duration   { return msDuration(l.MessageMs) }
func (l LimitsSettings) Employee() time.Duration  { return msDuration(l.EmployeeMs) }
