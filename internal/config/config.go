// Package config provides YAML-based configuration loading for poapbot.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level bot configuration, loaded from poapbot.yaml.
type Config struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Database DatabaseConfig `yaml:"database"`
	Setup    SetupConfig    `yaml:"setup"`
	Mint     MintConfig     `yaml:"mint"`
	Ops      OpsConfig      `yaml:"ops"`
	Log      LogConfig      `yaml:"log"`
}

// DiscordConfig holds the bot credentials and command surface.
type DiscordConfig struct {
	Token  string `yaml:"token"`
	Prefix string `yaml:"prefix"`
}

// DatabaseConfig selects and configures the event store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "mysql" or "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"` // sqlite file
}

// SetupConfig tunes the guided setup conversation.
type SetupConfig struct {
	DefaultOption       string `yaml:"default_option"`
	CancelWord          string `yaml:"cancel_word"`
	SessionTTLSec       int    `yaml:"session_ttl_sec"`
	SweepIntervalSec    int    `yaml:"sweep_interval_sec"`
	DateLayout          string `yaml:"date_layout"`
	TextMin             int    `yaml:"text_min"`
	TextMax             int    `yaml:"text_max"`
	MinLeadMin          int    `yaml:"min_lead_min"`
	DefaultStartLeadMin int    `yaml:"default_start_lead_min"`
	DefaultDurationMin  int    `yaml:"default_duration_min"`
}

// MintConfig controls the mint notification fan-out.
type MintConfig struct {
	Enabled         bool                 `yaml:"enabled"`
	NATSURL         string               `yaml:"nats_url"`
	Subject         string               `yaml:"subject"`
	PoapAPIURL      string               `yaml:"poap_api_url"`
	APIKey          string               `yaml:"api_key"`
	CacheTTLSec     int                  `yaml:"cache_ttl_sec"`
	DiscordChannels []DiscordChannelConf `yaml:"discord_channels"`
	Slack           SlackConfig          `yaml:"slack"`
}

// DiscordChannelConf names a guild text channel subscribed to mint notifications.
type DiscordChannelConf struct {
	Guild   string `yaml:"guild"`
	Channel string `yaml:"channel"`
}

// SlackConfig enables mint notifications to Slack channels.
type SlackConfig struct {
	BotToken string   `yaml:"bot_token"`
	Channels []string `yaml:"channels"`
}

// OpsConfig configures the operator HTTP API. Port 0 disables it.
type OpsConfig struct {
	Port int `yaml:"port"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// envOverrides are secrets that may be supplied through the environment
// instead of the config file.
type envOverrides struct {
	DiscordToken  string `env:"POAPBOT_DISCORD_TOKEN"`
	DBPassword    string `env:"POAPBOT_DB_PASSWORD"`
	SlackBotToken string `env:"POAPBOT_SLACK_BOT_TOKEN"`
	PoapAPIKey    string `env:"POAPBOT_POAP_API_KEY"`
	NATSURL       string `env:"POAPBOT_NATS_URL"`
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// into the process environment. Missing files are ignored and variables
// already set are kept.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Environment
// overrides are applied before defaults and validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	if o.DiscordToken != "" {
		c.Discord.Token = o.DiscordToken
	}
	if o.DBPassword != "" {
		c.Database.Password = o.DBPassword
	}
	if o.SlackBotToken != "" {
		c.Mint.Slack.BotToken = o.SlackBotToken
	}
	if o.PoapAPIKey != "" {
		c.Mint.APIKey = o.PoapAPIKey
	}
	if o.NATSURL != "" {
		c.Mint.NATSURL = o.NATSURL
	}
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Discord.Prefix == "" {
		c.Discord.Prefix = "!"
	}

	db := &c.Database
	if db.Driver == "" {
		db.Driver = "sqlite"
	}
	if db.Driver == "mysql" {
		if db.Host == "" {
			db.Host = "127.0.0.1"
		}
		if db.Port == 0 {
			db.Port = 3306
		}
		if db.User == "" {
			db.User = "root"
		}
		if db.Name == "" {
			db.Name = "poapbot"
		}
	}
	if db.Driver == "sqlite" && db.Path == "" {
		db.Path = "poapbot.db"
	}

	s := &c.Setup
	if s.DefaultOption == "" {
		s.DefaultOption = "-"
	}
	if s.CancelWord == "" {
		s.CancelWord = "!cancel"
	}
	if s.SessionTTLSec == 0 {
		s.SessionTTLSec = 1800
	}
	if s.SweepIntervalSec == 0 {
		s.SweepIntervalSec = 60
	}
	if s.DateLayout == "" {
		s.DateLayout = "2006-01-02 15:04"
	}
	if s.TextMin == 0 {
		s.TextMin = 1
	}
	if s.TextMax == 0 {
		s.TextMax = 1000
	}
	if s.DefaultStartLeadMin == 0 {
		s.DefaultStartLeadMin = 10
	}
	if s.DefaultDurationMin == 0 {
		s.DefaultDurationMin = 60
	}

	m := &c.Mint
	if m.Subject == "" {
		m.Subject = "poap.tokens.minted"
	}
	if m.PoapAPIURL == "" {
		m.PoapAPIURL = "https://api.poap.tech"
	}
	if m.CacheTTLSec == 0 {
		m.CacheTTLSec = 300
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Discord.Token == "" {
		errs = append(errs, "discord.token is required")
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (mysql, sqlite)", c.Database.Driver))
	}
	s := c.Setup
	if s.SessionTTLSec < 0 {
		errs = append(errs, "setup.session_ttl_sec must be positive")
	}
	if s.SweepIntervalSec < 0 {
		errs = append(errs, "setup.sweep_interval_sec must be positive")
	}
	if s.TextMin < 0 || s.TextMax < s.TextMin {
		errs = append(errs, "setup.text_min/text_max must satisfy 0 <= min <= max")
	}
	if s.MinLeadMin < 0 {
		errs = append(errs, "setup.min_lead_min must not be negative")
	}
	if strings.ContainsAny(s.DefaultOption, " \t\n") {
		errs = append(errs, "setup.default_option must be a single word")
	}
	if c.Mint.Enabled && c.Mint.NATSURL == "" {
		errs = append(errs, "mint.nats_url is required when mint is enabled")
	}
	for i, ch := range c.Mint.DiscordChannels {
		if ch.Guild == "" || ch.Channel == "" {
			errs = append(errs, fmt.Sprintf("mint.discord_channels[%d] needs guild and channel", i))
		}
	}
	if len(c.Mint.Slack.Channels) > 0 && c.Mint.Slack.BotToken == "" {
		errs = append(errs, "mint.slack.bot_token is required when slack channels are set")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not supported", c.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
