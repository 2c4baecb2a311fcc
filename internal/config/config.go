// Package config handles configuration loading for sentinel-gate.
//
// Durations are written as Go duration strings ("30s", "5m") in the
// YAML file and parsed when the component configurations are built.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sentinel-gate/internal/blocklist"
	"sentinel-gate/internal/csp"
	"sentinel-gate/internal/middleware"
	"sentinel-gate/internal/notify"
	"sentinel-gate/internal/schema"
	"sentinel-gate/internal/store"
)

// Config holds the complete application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	Blocklist BlocklistConfig `yaml:"blocklist"`
	Rules     RulesConfig     `yaml:"rules"`
	CSP       CSPConfig       `yaml:"csp"`
	Notify    NotifyConfig    `yaml:"notify"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Admin     AdminConfig     `yaml:"admin"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	HTTPPort     int    `yaml:"http_port"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
	ShutdownWait string `yaml:"shutdown_wait"`
}

// ServerTimeouts are the parsed server durations.
type ServerTimeouts struct {
	Read     time.Duration
	Write    time.Duration
	Shutdown time.Duration
}

// Timeouts parses the server duration settings.
func (c ServerConfig) Timeouts() (ServerTimeouts, error) {
	t := ServerTimeouts{}
	var err error
	if t.Read, err = parseDuration(c.ReadTimeout, 30*time.Second); err != nil {
		return t, fmt.Errorf("read_timeout: %w", err)
	}
	if t.Write, err = parseDuration(c.WriteTimeout, 30*time.Second); err != nil {
		return t, fmt.Errorf("write_timeout: %w", err)
	}
	if t.Shutdown, err = parseDuration(c.ShutdownWait, 30*time.Second); err != nil {
		return t, fmt.Errorf("shutdown_wait: %w", err)
	}
	return t, nil
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig holds event store settings.
type StoreConfig struct {
	MaxEvents  int `yaml:"max_events"`
	TrimTarget int `yaml:"trim_target"`
}

// Component builds the event store configuration.
func (c StoreConfig) Component() store.Config {
	cfg := store.DefaultConfig()
	if c.MaxEvents > 0 {
		cfg.MaxEvents = c.MaxEvents
	}
	if c.TrimTarget > 0 {
		cfg.TrimTarget = c.TrimTarget
	}
	return cfg
}

// BlocklistConfig holds IP blocklist settings.
type BlocklistConfig struct {
	BlockTTL string `yaml:"block_ttl"`
}

// Component builds the blocklist configuration.
func (c BlocklistConfig) Component() (blocklist.Config, error) {
	cfg := blocklist.DefaultConfig()
	ttl, err := parseDuration(c.BlockTTL, cfg.BlockTTL)
	if err != nil {
		return cfg, fmt.Errorf("block_ttl: %w", err)
	}
	cfg.BlockTTL = ttl
	return cfg, nil
}

// RulesConfig holds rule loading settings.
type RulesConfig struct {
	// Dir is an optional directory of custom rule YAML files loaded
	// after the builtin rules.
	Dir string `yaml:"dir"`
}

// CSPConfig holds Content Security Policy settings.
type CSPConfig struct {
	Preset          string `yaml:"preset"`
	MaxReports      int    `yaml:"max_reports"`
	ReportCollector string `yaml:"report_collector"`

	// Directives overrides individual preset directives, keyed by
	// directive name. An empty token list removes the directive.
	Directives map[string][]string `yaml:"directives"`
}

// Component builds the CSP manager configuration.
func (c CSPConfig) Component() (csp.Config, error) {
	cfg := csp.DefaultConfig()
	if c.MaxReports > 0 {
		cfg.MaxReports = c.MaxReports
	}
	policy, err := csp.PresetPolicy(c.Preset)
	if err != nil {
		return cfg, fmt.Errorf("preset: %w", err)
	}
	for name, tokens := range c.Directives {
		if !csp.IsValidDirective(name) {
			return cfg, fmt.Errorf("directives: %w: %s", csp.ErrUnknownDirective, name)
		}
		if len(tokens) == 0 {
			delete(policy, name)
			continue
		}
		policy[name] = csp.Sources(tokens...)
	}
	cfg.Policy = policy
	return cfg, nil
}

// NotifyConfig holds notification settings.
type NotifyConfig struct {
	Enabled   bool          `yaml:"enabled"`
	QueueSize int           `yaml:"queue_size"`
	MinLevel  string        `yaml:"min_level"`
	Webhook   WebhookConfig `yaml:"webhook"`
	Kafka     KafkaConfig   `yaml:"kafka"`
}

// WebhookConfig holds webhook channel settings.
type WebhookConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// KafkaConfig holds Kafka channel settings.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Component builds the notifier configuration.
func (c NotifyConfig) Component() (notify.Config, error) {
	cfg := notify.DefaultConfig()
	if c.QueueSize > 0 {
		cfg.QueueSize = c.QueueSize
	}
	if c.MinLevel != "" {
		level := schema.ThreatLevel(strings.ToUpper(c.MinLevel))
		if !level.IsValid() {
			return cfg, fmt.Errorf("min_level: unknown threat level %q", c.MinLevel)
		}
		cfg.MinLevel = level
	}
	return cfg, nil
}

// RateLimitConfig holds request rate limiting settings.
type RateLimitConfig struct {
	Enabled       bool     `yaml:"enabled"`
	RequestsPerIP int      `yaml:"requests_per_ip"`
	WindowSize    string   `yaml:"window_size"`
	TrustProxy    bool     `yaml:"trust_proxy"`
	ExemptPaths   []string `yaml:"exempt_paths"`
}

// Window parses the rate limit window.
func (c RateLimitConfig) Window() (time.Duration, error) {
	window, err := parseDuration(c.WindowSize, time.Minute)
	if err != nil {
		return 0, fmt.Errorf("window_size: %w", err)
	}
	return window, nil
}

// Component converts to the middleware-level configuration.
func (c RateLimitConfig) Component() (middleware.RateLimitConfig, error) {
	window, err := c.Window()
	if err != nil {
		return middleware.RateLimitConfig{}, err
	}
	return middleware.RateLimitConfig{
		Enabled:       c.Enabled,
		RequestsPerIP: c.RequestsPerIP,
		Window:        window,
		TrustProxy:    c.TrustProxy,
		ExemptPaths:   c.ExemptPaths,
	}, nil
}

// AdminConfig holds admin API authentication settings.
type AdminConfig struct {
	Enabled bool `yaml:"enabled"`
	// TokenHash is the bcrypt hash of the admin bearer token.
	TokenHash string `yaml:"token_hash"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  "30s",
			WriteTimeout: "30s",
			ShutdownWait: "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			MaxEvents:  store.DefaultMaxEvents,
			TrimTarget: store.DefaultTrimTarget,
		},
		Blocklist: BlocklistConfig{
			BlockTTL: "30m",
		},
		CSP: CSPConfig{
			Preset:     "balanced",
			MaxReports: csp.DefaultMaxReports,
		},
		Notify: NotifyConfig{
			Enabled:   true,
			QueueSize: notify.DefaultQueueSize,
			MinLevel:  string(schema.LevelHigh),
			Kafka: KafkaConfig{
				Topic: "security-events",
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			RequestsPerIP: 300,
			WindowSize:    "1m",
			ExemptPaths:   []string{"/health"},
		},
		Admin: AdminConfig{
			Enabled: false,
		},
	}
}

// Load loads configuration from a file or returns defaults. The file
// path comes from SENTINEL_CONFIG_PATH, falling back to
// configs/config.yaml; a missing file is not an error.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("SENTINEL_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("SENTINEL_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}

	if level := os.Getenv("SENTINEL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if dir := os.Getenv("SENTINEL_RULES_DIR"); dir != "" {
		c.Rules.Dir = dir
	}

	if ttl := os.Getenv("SENTINEL_BLOCK_TTL"); ttl != "" {
		c.Blocklist.BlockTTL = ttl
	}

	if preset := os.Getenv("SENTINEL_CSP_PRESET"); preset != "" {
		c.CSP.Preset = preset
	}

	if hash := os.Getenv("SENTINEL_ADMIN_TOKEN_HASH"); hash != "" {
		c.Admin.TokenHash = hash
		c.Admin.Enabled = true
	}

	if url := os.Getenv("SENTINEL_NOTIFY_WEBHOOK_URL"); url != "" {
		c.Notify.Webhook.URL = url
		c.Notify.Webhook.Enabled = true
	}

	if brokers := os.Getenv("SENTINEL_KAFKA_BROKERS"); brokers != "" {
		c.Notify.Kafka.Brokers = splitAndTrim(brokers, ",")
		c.Notify.Kafka.Enabled = true
	}

	if enabled := os.Getenv("SENTINEL_RATELIMIT_ENABLED"); enabled == "false" {
		c.RateLimit.Enabled = false
	}
}

// splitAndTrim splits a string by separator and drops empty parts.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// parseDuration parses a duration string, returning fallback for the
// empty string. Non-positive durations are rejected.
func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", value)
	}
	return d, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	if _, err := c.Server.Timeouts(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if c.Store.MaxEvents < 0 || c.Store.TrimTarget < 0 {
		return fmt.Errorf("store caps must be non-negative")
	}

	if _, err := c.Blocklist.Component(); err != nil {
		return fmt.Errorf("blocklist: %w", err)
	}

	if _, err := c.CSP.Component(); err != nil {
		return fmt.Errorf("csp: %w", err)
	}

	if _, err := c.Notify.Component(); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return fmt.Errorf("notify: webhook enabled without url")
	}
	if c.Notify.Kafka.Enabled {
		if len(c.Notify.Kafka.Brokers) == 0 {
			return fmt.Errorf("notify: kafka enabled without brokers")
		}
		if c.Notify.Kafka.Topic == "" {
			return fmt.Errorf("notify: kafka enabled without topic")
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerIP <= 0 {
			return fmt.Errorf("rate_limit: requests_per_ip must be positive")
		}
		if _, err := c.RateLimit.Window(); err != nil {
			return fmt.Errorf("rate_limit: %w", err)
		}
	}

	if c.Admin.Enabled && c.Admin.TokenHash == "" {
		return fmt.Errorf("admin: enabled without token_hash")
	}

	return nil
}
