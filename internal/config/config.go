// Package config loads and validates the bridge's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"xtbridge/internal/bar"
	"xtbridge/internal/xerr"
)

// QMTConfig describes how the vendor quote adapter should connect.
type QMTConfig struct {
	Mode  string `yaml:"mode"`  // "none" | "legacy"
	Token string `yaml:"token"`
}

// RedisConfig describes the Bus connection, either as a single URL or as
// discrete fields. Either form is accepted.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Topic    string `yaml:"topic"`
}

// Addr resolves the effective connection target, preferring URL when set.
func (r RedisConfig) Addr() (addr, password string, db int, useURL bool, url string) {
	if strings.TrimSpace(r.URL) != "" {
		return "", "", 0, true, r.URL
	}
	host := r.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := r.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", host, port), r.Password, r.DB, false, ""
}

// SubscriptionConfig is the static, startup-time subscription set.
type SubscriptionConfig struct {
	Codes         []string `yaml:"codes"`
	Periods       []string `yaml:"periods"`
	Mode          string   `yaml:"mode"`
	CloseDelayMs  int      `yaml:"close_delay_ms"`
	PreloadDays   int      `yaml:"preload_days"`
}

// RotateConfig describes log-file rotation (lumberjack parameters).
type RotateConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxBytes    int  `yaml:"max_bytes"`
	BackupCount int  `yaml:"backup_count"`
}

// LoggingConfig configures the zerolog sink.
type LoggingConfig struct {
	Level  string       `yaml:"level"`
	JSON   bool         `yaml:"json"`
	File   string       `yaml:"file"`
	Rotate RotateConfig `yaml:"rotate"`
}

// ControlConfig configures the control plane.
type ControlConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Channel          string   `yaml:"channel"`
	AckPrefix        string   `yaml:"ack_prefix"`
	RegistryPrefix   string   `yaml:"registry_prefix"`
	AcceptStrategies []string `yaml:"accept_strategies"`
}

// HealthConfig configures the health reporter.
type HealthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	KeyPrefix    string `yaml:"key_prefix"`
	IntervalSec  int    `yaml:"interval_sec"`
	TTLSec       int    `yaml:"ttl_sec"`
	InstanceTag  string `yaml:"instance_tag"`
}

// MockConfig configures the synthetic feed used for demos/tests.
type MockConfig struct {
	Enabled       bool    `yaml:"enabled"`
	IntervalMs    int     `yaml:"interval_ms"`
	Codes         []string `yaml:"codes"`
}

// DashboardConfig configures the optional read-only ops WebSocket feed.
type DashboardConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// AuditConfig configures the optional Postgres control-command audit sink.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// Config is the top-level YAML document.
type Config struct {
	QMT          QMTConfig           `yaml:"qmt"`
	Redis        RedisConfig         `yaml:"redis"`
	Subscription SubscriptionConfig  `yaml:"subscription"`
	Logging      LoggingConfig       `yaml:"logging"`
	Control      ControlConfig       `yaml:"control"`
	Health       HealthConfig        `yaml:"health"`
	Mock         MockConfig          `yaml:"mock"`
	Dashboard    DashboardConfig     `yaml:"dashboard"`
	Audit        AuditConfig         `yaml:"audit"`
}

// Load reads and validates a config file from path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerr.Config(fmt.Sprintf("reading %s", path), err)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, xerr.Config(fmt.Sprintf("parsing %s", path), err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.QMT.Mode == "" {
		c.QMT.Mode = "none"
	}
	if c.Redis.Topic == "" {
		c.Redis.Topic = "xt:topic:bar"
	}
	if c.Subscription.Mode == "" {
		c.Subscription.Mode = string(bar.ModeCloseOnly)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Control.Channel == "" {
		c.Control.Channel = "xt:bridge:control"
	}
	if c.Control.AckPrefix == "" {
		c.Control.AckPrefix = "xt:bridge:ack"
	}
	if c.Control.RegistryPrefix == "" {
		c.Control.RegistryPrefix = "xt:bridge"
	}
	if c.Health.KeyPrefix == "" {
		c.Health.KeyPrefix = "xt:bridge:health"
	}
	if c.Health.IntervalSec == 0 {
		c.Health.IntervalSec = 5
	}
	if c.Health.TTLSec == 0 {
		c.Health.TTLSec = 2 * c.Health.IntervalSec
	}
	if c.Health.TTLSec < 2*c.Health.IntervalSec {
		c.Health.TTLSec = 2 * c.Health.IntervalSec
	}
	if c.Mock.IntervalMs == 0 {
		c.Mock.IntervalMs = 1000
	}
}

// Validate checks enum ranges and required combinations, returning a
// xerr.ErrConfig-kind error that describes the first violation found.
func (c *Config) Validate() error {
	if c.QMT.Mode != "none" && c.QMT.Mode != "legacy" {
		return xerr.Config(fmt.Sprintf("qmt.mode must be 'none' or 'legacy', got %q", c.QMT.Mode), nil)
	}
	if c.QMT.Mode == "legacy" && strings.TrimSpace(c.QMT.Token) == "" {
		return xerr.Config("qmt.token is required when qmt.mode=legacy", nil)
	}
	if !bar.Mode(c.Subscription.Mode).Valid() {
		return xerr.Config(fmt.Sprintf("subscription.mode must be 'close_only' or 'forming_and_close', got %q", c.Subscription.Mode), nil)
	}
	for _, p := range c.Subscription.Periods {
		if !bar.Period(p).Valid() {
			return xerr.Config(fmt.Sprintf("subscription.periods contains unsupported period %q", p), nil)
		}
	}
	if c.Subscription.PreloadDays < 0 {
		return xerr.Config("subscription.preload_days must be non-negative", nil)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error", "fatal", "panic", "trace", "":
	default:
		return xerr.Config(fmt.Sprintf("logging.level %q is not recognized", c.Logging.Level), nil)
	}
	if c.Health.Enabled && c.Health.IntervalSec < 1 {
		return xerr.Config("health.interval_sec must be >= 1", nil)
	}
	return nil
}
