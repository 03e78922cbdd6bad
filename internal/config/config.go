// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.quill/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Server: HTTP listen address, CORS, rate limiting
//   - Agent: how to spawn and address the external agent server
//   - Workspace: root directory handed to agent instances
//
// Validation is fail-fast: Load returns an error rather than an
// inconsistent Config. Errors are sentinel values checked with errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidListenAddr indicates the HTTP listen address is invalid.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidAgentBin indicates the agent binary path is invalid.
	ErrInvalidAgentBin = errors.New("invalid agent binary")

	// ErrInvalidAgentPort indicates the agent base port is out of range.
	ErrInvalidAgentPort = errors.New("invalid agent base port")

	// ErrInvalidPortAttempts indicates the port attempt limit is out of range.
	ErrInvalidPortAttempts = errors.New("invalid agent port attempts")

	// ErrInvalidWorkspaceRoot indicates the workspace root is invalid.
	ErrInvalidWorkspaceRoot = errors.New("invalid workspace root")

	// ErrInvalidRateBurst indicates the rate limiter burst is out of range.
	ErrInvalidRateBurst = errors.New("invalid rate burst")
)

const (
	// DefaultListenAddr is the default bind address for the HTTP API.
	DefaultListenAddr = "127.0.0.1:3900"

	// DefaultAgentBasePort is the first port tried when acquiring an
	// agent instance.
	DefaultAgentBasePort = 4096

	// DefaultAgentPortAttempts bounds the port scan when acquiring an
	// agent instance.
	DefaultAgentPortAttempts = 30

	// MaxAgentPortAttempts is the absolute upper bound for the port scan.
	MaxAgentPortAttempts = 256

	// DefaultRateBurst is the per-IP rate limiter burst size.
	DefaultRateBurst = 60
)

// Config stores application configuration.
type Config struct {
	// HTTP server configuration
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// External agent server configuration
	AgentBin          string   `mapstructure:"agent_bin" json:"agent_bin"`
	AgentArgs         []string `mapstructure:"agent_args" json:"agent_args"`
	AgentBasePort     int      `mapstructure:"agent_base_port" json:"agent_base_port"`
	AgentPortAttempts int      `mapstructure:"agent_port_attempts" json:"agent_port_attempts"`

	// Workspace configuration
	WorkspaceRoot string `mapstructure:"workspace_root" json:"workspace_root"`

	// Logging
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".quill")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults(home)
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is not an error; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(home string) {
	viper.SetDefault("listen_addr", DefaultListenAddr)
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", DefaultRateBurst)

	viper.SetDefault("agent_bin", "agentd")
	viper.SetDefault("agent_args", []string{})
	viper.SetDefault("agent_base_port", DefaultAgentBasePort)
	viper.SetDefault("agent_port_attempts", DefaultAgentPortAttempts)

	viper.SetDefault("workspace_root", filepath.Join(home, ".quill", "workspaces"))

	viper.SetDefault("log_json", false)
	viper.SetDefault("log_level", "info")
}

// bindEnvVariables binds environment variable overrides explicitly.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a programming
	// error, not a runtime condition.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("listen_addr", "QUILL_LISTEN_ADDR")
	mustBind("cors_origins", "QUILL_CORS_ORIGINS")
	mustBind("trust_proxy", "QUILL_TRUST_PROXY")
	mustBind("rate_burst", "QUILL_RATE_BURST")

	mustBind("agent_bin", "QUILL_AGENT_BIN")
	mustBind("agent_base_port", "QUILL_AGENT_BASE_PORT")
	mustBind("agent_port_attempts", "QUILL_AGENT_PORT_ATTEMPTS")

	mustBind("workspace_root", "QUILL_WORKSPACE_ROOT")

	mustBind("log_json", "QUILL_LOG_JSON")
	mustBind("log_level", "QUILL_LOG_LEVEL")
}

// Level maps the configured log level name to a slog.Level.
// Unknown names fall back to info.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
