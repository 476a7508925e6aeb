// ABOUTME: Configuration loading and parsing for solipcord
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete solipcord configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
	Stream     StreamConfig     `yaml:"stream" toml:"stream"`
	Generation GenerationConfig `yaml:"generation" toml:"generation"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// StreamConfig holds SSE and replay settings
type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"-" toml:"-"`
	ReplaySize        int           `yaml:"replay_size" toml:"replay_size"`
	SubscriberBuffer  int           `yaml:"subscriber_buffer" toml:"subscriber_buffer"`

	HeartbeatIntervalRaw string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
}

// Generation backends.
const (
	BackendOllama   = "ollama"
	BackendScripted = "scripted"
)

// GenerationConfig holds persona reply generation settings
type GenerationConfig struct {
	Backend      string  `yaml:"backend" toml:"backend"`
	OllamaURL    string  `yaml:"ollama_url" toml:"ollama_url"`
	Model        string  `yaml:"model" toml:"model"`
	Temperature  float64 `yaml:"temperature" toml:"temperature"`
	HistoryLimit int     `yaml:"history_limit" toml:"history_limit"`
	MaxAttempts  int     `yaml:"max_attempts" toml:"max_attempts"`

	RetryBaseDelay time.Duration `yaml:"-" toml:"-"`
	RetryMaxDelay  time.Duration `yaml:"-" toml:"-"`
	Timeout        time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	RetryBaseDelayRaw string `yaml:"retry_base_delay" toml:"retry_base_delay"`
	RetryMaxDelayRaw  string `yaml:"retry_max_delay" toml:"retry_max_delay"`
	TimeoutRaw        string `yaml:"timeout" toml:"timeout"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before parsing.
// SOLIPCORD_DB_PATH, when set, overrides database.path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if dbPath := os.Getenv("SOLIPCORD_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Tailscale.Enabled && c.Tailscale.StateDir == "" {
		c.Tailscale.StateDir = filepath.Join(dataDir(), "tsnet")
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(dataDir(), "solipcord.db")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Stream.HeartbeatInterval == 0 {
		c.Stream.HeartbeatInterval = 30 * time.Second
	}
	if c.Stream.ReplaySize == 0 {
		c.Stream.ReplaySize = 10
	}
	if c.Stream.SubscriberBuffer == 0 {
		c.Stream.SubscriberBuffer = 64
	}

	g := &c.Generation
	if g.Backend == "" {
		g.Backend = BackendOllama
	}
	if g.OllamaURL == "" {
		g.OllamaURL = "http://127.0.0.1:11434"
	}
	if g.Model == "" {
		g.Model = "llama3.2"
	}
	if g.Temperature == 0 {
		g.Temperature = 0.7
	}
	if g.HistoryLimit == 0 {
		g.HistoryLimit = 50
	}
	if g.MaxAttempts == 0 {
		g.MaxAttempts = 3
	}
	if g.RetryBaseDelay == 0 {
		g.RetryBaseDelay = time.Second
	}
	if g.RetryMaxDelay == 0 {
		g.RetryMaxDelay = 30 * time.Second
	}
	if g.Timeout == 0 {
		g.Timeout = 90 * time.Second
	}
}

// dataDir returns $XDG_DATA_HOME/solipcord or ~/.local/share/solipcord.
func dataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "solipcord")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "solipcord")
	}
	return "."
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", c.Logging.Format)
	}

	if c.Stream.ReplaySize < 0 {
		return fmt.Errorf("stream.replay_size must not be negative")
	}
	if c.Stream.SubscriberBuffer < c.Stream.ReplaySize {
		return fmt.Errorf("stream.subscriber_buffer (%d) must be at least stream.replay_size (%d)",
			c.Stream.SubscriberBuffer, c.Stream.ReplaySize)
	}

	g := c.Generation
	switch g.Backend {
	case BackendOllama:
		if g.Model == "" {
			return fmt.Errorf("generation.model is required for the ollama backend")
		}
		if g.OllamaURL == "" {
			return fmt.Errorf("generation.ollama_url is required for the ollama backend")
		}
	case BackendScripted:
	default:
		return fmt.Errorf("generation.backend must be %s or %s (got %q)", BackendOllama, BackendScripted, g.Backend)
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be between 0 and 2")
	}
	if g.MaxAttempts < 1 {
		return fmt.Errorf("generation.max_attempts must be at least 1")
	}
	if g.RetryMaxDelay < g.RetryBaseDelay {
		return fmt.Errorf("generation.retry_max_delay must not be shorter than retry_base_delay")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"stream.heartbeat_interval", cfg.Stream.HeartbeatIntervalRaw, &cfg.Stream.HeartbeatInterval},
		{"generation.retry_base_delay", cfg.Generation.RetryBaseDelayRaw, &cfg.Generation.RetryBaseDelay},
		{"generation.retry_max_delay", cfg.Generation.RetryMaxDelayRaw, &cfg.Generation.RetryMaxDelay},
		{"generation.timeout", cfg.Generation.TimeoutRaw, &cfg.Generation.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("parsing %s %q: must be positive", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}

// DefaultYAML is the configuration written by `solipcord init`.
const DefaultYAML = `# solipcord configuration
server:
  http_addr: "127.0.0.1:8080"

tailscale:
  enabled: false
  hostname: "solipcord"
  auth_key: "${TS_AUTHKEY}"
  ephemeral: false

database:
  path: "${HOME}/.local/share/solipcord/solipcord.db"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"

stream:
  heartbeat_interval: "30s"
  replay_size: 10
  subscriber_buffer: 64

generation:
  backend: "ollama"
  ollama_url: "http://127.0.0.1:11434"
  model: "llama3.2"
  temperature: 0.7
  history_limit: 50
  max_attempts: 3
  retry_base_delay: "1s"
  retry_max_delay: "30s"
  timeout: "90s"
`
