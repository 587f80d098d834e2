// Package config loads the gomok server configuration file.
package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// History backends.
const (
	HistoryNone     = "none"
	HistoryMemory   = "memory"
	HistoryBolt     = "bbolt"
	HistoryPostgres = "postgres"
)

// DefaultHistoryPath is the bbolt file used when history.path is unset.
const DefaultHistoryPath = "./data/history.db"

// Config is the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	History HistoryConfig `yaml:"history"`
	Log     LogConfig     `yaml:"log"`
	Alert   AlertConfig   `yaml:"alert"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	TrustedProxies []string `yaml:"trusted_proxies"`
	// RegistrationLimit is the per-IP registration allowance. Negative
	// disables throttling.
	RegistrationLimit int `yaml:"registration_limit"`
}

// SessionConfig configures protocol timing.
type SessionConfig struct {
	PollTimeout  time.Duration `yaml:"poll_timeout"`
	TTL          time.Duration `yaml:"ttl"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// HistoryConfig selects the match history backend.
type HistoryConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
}

// AlertConfig configures delivery of anomaly alerts. Without a webhook URL
// alerts are only logged.
type AlertConfig struct {
	WebhookURL  string `yaml:"webhook_url"`
	WebhookAuth string `yaml:"webhook_auth"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${VAR} references first.
func Parse(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.RegistrationLimit == 0 {
		cfg.Server.RegistrationLimit = 20
	}
	if cfg.Session.PollTimeout == 0 {
		cfg.Session.PollTimeout = 30 * time.Second
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 180 * time.Second
	}
	if cfg.Session.ReapInterval == 0 {
		cfg.Session.ReapInterval = 5 * time.Second
	}
	if cfg.History.Backend == "" {
		cfg.History.Backend = HistoryMemory
	}
	if cfg.History.Backend == HistoryBolt && cfg.History.Path == "" {
		cfg.History.Path = DefaultHistoryPath
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Session.PollTimeout <= 0 {
		errs = append(errs, "session.poll_timeout must be positive")
	}
	if c.Session.TTL <= c.Session.PollTimeout {
		errs = append(errs, "session.ttl must exceed session.poll_timeout")
	}
	if c.Session.ReapInterval <= 0 {
		errs = append(errs, "session.reap_interval must be positive")
	}

	switch c.History.Backend {
	case HistoryNone, HistoryMemory:
	case HistoryBolt:
		if c.History.Path == "" {
			errs = append(errs, "history.path is required for the bbolt backend")
		}
	case HistoryPostgres:
		if c.History.DSN == "" {
			errs = append(errs, "history.dsn is required for the postgres backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown history.backend %q", c.History.Backend))
	}

	if c.Alert.WebhookURL != "" {
		u, err := url.Parse(c.Alert.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("alert.webhook_url %q must be an absolute http(s) URL", c.Alert.WebhookURL))
		}
	}

	if _, err := c.Proxies(); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Proxies parses the trusted proxy CIDRs. A bare address is treated as a
// single-host prefix.
func (c *Config) Proxies() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.Server.TrustedProxies))
	for _, raw := range c.Server.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if addr, err := netip.ParseAddr(raw); err == nil {
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("server.trusted_proxies: invalid CIDR %q", raw)
		}
		prefixes = append(prefixes, p)
	}
	return prefixes, nil
}

// Level parses the log level.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}
