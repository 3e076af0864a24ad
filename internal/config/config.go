// Package config provides YAML-based configuration loading for relayhub.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// KeyringService is the OS keyring service name under which the hub token is stored.
const KeyringService = "relayhub"

// KeyringAccount is the keyring account holding the hub bot token.
const KeyringAccount = "hub-bot-token"

// ScheduleParser accepts standard 5-field cron expressions (minute, hour, dom,
// month, dow). It parses retention.cron both here and in the pruner.
var ScheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Config is the top-level relayhub configuration, loaded from relayhub.yaml.
type Config struct {
	Hub       HubConfig       `yaml:"hub"`
	Store     StoreConfig     `yaml:"store"`
	Relay     RelayConfig     `yaml:"relay"`
	Retention RetentionConfig `yaml:"retention"`
	Ops       OpsConfig       `yaml:"ops"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Log       LogConfig       `yaml:"log"`
}

// HubConfig identifies the controlling bot and its operational log channel.
type HubConfig struct {
	BotToken         string `yaml:"bot_token"`
	LogChannelID     string `yaml:"log_channel_id"`
	TokenFromKeyring bool   `yaml:"token_from_keyring"`
}

// StoreConfig selects and locates the persistence backend.
type StoreConfig struct {
	Driver   string `yaml:"driver"` // sqlite, mysql, mongo
	DSN      string `yaml:"dsn"`    // sqlite path or mysql DSN
	MongoURI string `yaml:"mongo_uri"`
	Database string `yaml:"database"`
}

// RelayConfig tunes the relay core.
type RelayConfig struct {
	ProbeTimeoutSec   int `yaml:"probe_timeout_sec"`
	ShutdownGraceSec  int `yaml:"shutdown_grace_sec"`
	FanoutConcurrency int `yaml:"fanout_concurrency"`
}

// RetentionConfig controls scheduled pruning of delivery mappings.
type RetentionConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Cron       string `yaml:"cron"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// OpsConfig configures optional operational event sinks.
type OpsConfig struct {
	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`
}

// DashboardConfig controls the read-only status API.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text, json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ProbeTimeout returns the credential probe timeout.
func (r RelayConfig) ProbeTimeout() time.Duration {
	return time.Duration(r.ProbeTimeoutSec) * time.Second
}

// ShutdownGrace returns how long shutdown waits for in-flight relays.
func (r RelayConfig) ShutdownGrace() time.Duration {
	return time.Duration(r.ShutdownGraceSec) * time.Second
}

// MaxAge returns the mapping retention window.
func (r RetentionConfig) MaxAge() time.Duration {
	return time.Duration(r.MaxAgeDays) * 24 * time.Hour
}

// tokenLookup reads the hub token from the OS keyring. Tests replace it.
var tokenLookup = func() (string, error) {
	return keyring.Get(KeyringService, KeyringAccount)
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Environment variables
// RELAYHUB_BOT_TOKEN, RELAYHUB_STORE_DSN and RELAYHUB_MONGO_URI override the
// corresponding file values.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.resolveToken(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RELAYHUB_BOT_TOKEN"); v != "" {
		c.Hub.BotToken = v
	}
	if v := os.Getenv("RELAYHUB_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("RELAYHUB_MONGO_URI"); v != "" {
		c.Store.MongoURI = v
	}
}

// resolveToken fills the hub token from the keyring when requested and the
// token was not supplied directly.
func (c *Config) resolveToken() error {
	if !c.Hub.TokenFromKeyring || c.Hub.BotToken != "" {
		return nil
	}
	token, err := tokenLookup()
	if err != nil {
		return fmt.Errorf("config: read hub token from keyring: %w", err)
	}
	c.Hub.BotToken = token
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.DSN == "" {
		c.Store.DSN = "relayhub.db"
	}
	if c.Store.Database == "" {
		c.Store.Database = "relayhub"
	}
	if c.Relay.ProbeTimeoutSec == 0 {
		c.Relay.ProbeTimeoutSec = 10
	}
	if c.Relay.ShutdownGraceSec == 0 {
		c.Relay.ShutdownGraceSec = 15
	}
	if c.Relay.FanoutConcurrency == 0 {
		c.Relay.FanoutConcurrency = 8
	}
	if c.Retention.Cron == "" {
		c.Retention.Cron = "0 4 * * *"
	}
	if c.Retention.MaxAgeDays == 0 {
		c.Retention.MaxAgeDays = 90
	}
	if c.Ops.AMQPExchange == "" {
		c.Ops.AMQPExchange = "relayhub.ops"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8088
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 10
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 30
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Hub.BotToken == "" {
		errs = append(errs, "hub.bot_token is required")
	}
	switch c.Store.Driver {
	case "sqlite", "mysql":
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for driver "+c.Store.Driver)
		}
	case "mongo":
		if c.Store.MongoURI == "" {
			errs = append(errs, "store.mongo_uri is required for driver mongo")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.Relay.ProbeTimeoutSec < 0 {
		errs = append(errs, "relay.probe_timeout_sec must be positive")
	}
	if c.Relay.ShutdownGraceSec < 0 {
		errs = append(errs, "relay.shutdown_grace_sec must be positive")
	}
	if c.Relay.FanoutConcurrency < 0 {
		errs = append(errs, "relay.fanout_concurrency must be positive")
	}
	if c.Retention.MaxAgeDays < 0 {
		errs = append(errs, "retention.max_age_days must be positive")
	}
	if _, err := ScheduleParser.Parse(c.Retention.Cron); err != nil {
		errs = append(errs, fmt.Sprintf("retention.cron %q is invalid: %v", c.Retention.Cron, err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not supported", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
