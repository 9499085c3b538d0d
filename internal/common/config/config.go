// Package config provides configuration management for the goose bridge.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the bridge.
type Config struct {
	Agent   AgentConfig   `mapstructure:"agent"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AgentConfig holds configuration for the locally spawned goosed process.
type AgentConfig struct {
	// BinaryPath overrides the goosed search order when set.
	BinaryPath string `mapstructure:"binaryPath"`

	// SearchRoot is the directory the dev build outputs and the packaged bin/
	// directory are resolved against (default: directory of the running executable).
	SearchRoot string `mapstructure:"searchRoot"`

	// Host the agent binds to (default: 127.0.0.1)
	Host string `mapstructure:"host"`

	// URL attaches to an already running agent server instead of spawning one.
	URL string `mapstructure:"url"`

	// SecretKey is only used together with URL; spawned agents always get a fresh secret.
	SecretKey string `mapstructure:"secretKey"`

	// WorkingDir is the workspace folder; falls back to the process working directory.
	WorkingDir string `mapstructure:"workingDir"`

	// Provider and Model select the agent's default LLM after start.
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`

	// Extensions are builtin agent extensions registered after start.
	Extensions []string `mapstructure:"extensions"`

	StartupTimeout  int `mapstructure:"startupTimeout"`  // in seconds
	StopGracePeriod int `mapstructure:"stopGracePeriod"` // in seconds
	RequestTimeout  int `mapstructure:"requestTimeout"`  // in seconds, non-streaming calls only
}

// GatewayConfig holds the webview WebSocket gateway configuration.
type GatewayConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// NATSConfig holds the optional event mirror configuration.
// An empty URL disables mirroring.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	SubjectPrefix string `mapstructure:"subjectPrefix"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// StartupTimeoutDuration returns the startup timeout as a time.Duration.
func (a *AgentConfig) StartupTimeoutDuration() time.Duration {
	return time.Duration(a.StartupTimeout) * time.Second
}

// StopGracePeriodDuration returns the stop grace period as a time.Duration.
func (a *AgentConfig) StopGracePeriodDuration() time.Duration {
	return time.Duration(a.StopGracePeriod) * time.Second
}

// RequestTimeoutDuration returns the request timeout as a time.Duration.
func (a *AgentConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(a.RequestTimeout) * time.Second
}

// Addr returns the gateway listen address.
func (g *GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// detectDefaultLogFormat returns "json" for production builds and "text" otherwise.
func detectDefaultLogFormat() string {
	if env := os.Getenv("GOOSE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Agent defaults
	v.SetDefault("agent.binaryPath", "")
	v.SetDefault("agent.searchRoot", "")
	v.SetDefault("agent.host", "127.0.0.1")
	v.SetDefault("agent.url", "")
	v.SetDefault("agent.secretKey", "")
	v.SetDefault("agent.workingDir", "")
	v.SetDefault("agent.provider", "")
	v.SetDefault("agent.model", "")
	v.SetDefault("agent.extensions", []string{"developer"})
	v.SetDefault("agent.startupTimeout", 30)
	v.SetDefault("agent.stopGracePeriod", 3)
	v.SetDefault("agent.requestTimeout", 30)

	// Gateway defaults
	v.SetDefault("gateway.host", "127.0.0.1")
	v.SetDefault("gateway.port", 7331)
	v.SetDefault("gateway.allowedOrigins", []string{})

	// NATS defaults - empty URL means no mirroring
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "goose-bridge")
	v.SetDefault("nats.subjectPrefix", "goose.chat")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stderr")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix GOOSE_BRIDGE_ with snake_case naming.
// The config file is named config.yaml and is looked up in the current
// directory and in ~/.config/goose-bridge/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("GOOSE_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("agent.binaryPath", "GOOSE_BRIDGE_AGENT_BINARY_PATH", "GOOSED_PATH")
	_ = v.BindEnv("agent.searchRoot", "GOOSE_BRIDGE_AGENT_SEARCH_ROOT")
	_ = v.BindEnv("agent.secretKey", "GOOSE_BRIDGE_AGENT_SECRET_KEY")
	_ = v.BindEnv("agent.workingDir", "GOOSE_BRIDGE_AGENT_WORKING_DIR")
	_ = v.BindEnv("agent.provider", "GOOSE_BRIDGE_AGENT_PROVIDER", "GOOSE_PROVIDER")
	_ = v.BindEnv("agent.model", "GOOSE_BRIDGE_AGENT_MODEL", "GOOSE_MODEL")
	_ = v.BindEnv("nats.url", "GOOSE_BRIDGE_NATS_URL", "NATS_URL")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "goose-bridge"))
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be between 1 and 65535")
	}

	if cfg.Agent.StartupTimeout <= 0 {
		errs = append(errs, "agent.startupTimeout must be positive")
	}
	if cfg.Agent.StopGracePeriod < 0 {
		errs = append(errs, "agent.stopGracePeriod must not be negative")
	}
	if cfg.Agent.RequestTimeout <= 0 {
		errs = append(errs, "agent.requestTimeout must be positive")
	}

	// An external agent must be reachable with a known secret
	if cfg.Agent.URL != "" && cfg.Agent.SecretKey == "" {
		errs = append(errs, "agent.secretKey is required when agent.url is set")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
