// Package config loads the service configuration from a YAML file. Every
// field has a default so a missing file still yields a runnable local setup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "10m" decode naturally.
type Duration time.Duration

// UnmarshalYAML decodes a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the service runtime configuration.
type Config struct {
	Listener ListenerConfig `yaml:"listener"`
	Database DatabaseConfig `yaml:"database"`
	Worker   WorkerConfig   `yaml:"worker"`
	Sweep    SweepConfig    `yaml:"sweep"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	Portal   PortalConfig   `yaml:"portal"`
	LogLevel string         `yaml:"log_level"`
}

// ListenerConfig holds HTTP server listener settings.
type ListenerConfig struct {
	// The listen address, defaults to :8080
	Addr string `yaml:"addr"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	// Path to the SQLite database file.
	Path string `yaml:"path"`
}

// WorkerConfig holds job queue settings.
type WorkerConfig struct {
	// Maximum concurrent advance jobs.
	MaxWorkers int `yaml:"max_workers"`
}

// SweepConfig holds the crash-recovery sweep settings.
type SweepConfig struct {
	// Cron schedule for the sweep (5-field format).
	Schedule string `yaml:"schedule"`
	// Minimum age of an outstanding step before the sweep re-enqueues it.
	StaleAfter Duration `yaml:"stale_after"`
	// Maximum processes re-enqueued per sweep pass.
	BatchSize int `yaml:"batch_size"`
}

// AMQPConfig holds the portal event broker settings. An empty URL disables
// publishing; events are then logged only.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// PortalConfig holds the base URL of the surrounding portal services that the
// registration and self-description executors call.
type PortalConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// Load reads the YAML config file at the given path. A missing file is not an
// error: defaults are returned so the service can run out of the box.
func Load(path string) (*Config, error) {
	var cfg Config

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.SetDefaults()
			return &cfg, nil
		}
		return nil, fmt.Errorf("opening config file %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding YAML config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// SetDefaults sets reasonable default values for unset fields.
func (c *Config) SetDefaults() {
	if c.Listener.Addr == "" {
		c.Listener.Addr = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "onboardiq.db"
	}
	if c.Worker.MaxWorkers <= 0 {
		c.Worker.MaxWorkers = 2
	}
	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = "*/5 * * * *"
	}
	if c.Sweep.StaleAfter <= 0 {
		c.Sweep.StaleAfter = Duration(10 * time.Minute)
	}
	if c.Sweep.BatchSize <= 0 {
		c.Sweep.BatchSize = 100
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "onboardiq.portal"
	}
	if c.Portal.BaseURL == "" {
		c.Portal.BaseURL = "http://localhost:9000"
	}
	if c.Portal.Timeout <= 0 {
		c.Portal.Timeout = Duration(30 * time.Second)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
