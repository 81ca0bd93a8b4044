// Package config loads the runtime configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the file name under the settings directory.
const ConfigFile = "config.yaml"

// Config holds all OpenWork runtime configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	MCP      MCPConfig      `yaml:"mcp"`
	Agent    AgentConfig    `yaml:"agent"`
	Watcher  WatcherConfig  `yaml:"watcher"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// DatabaseConfig configures the checkpoint database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BridgeConfig configures the websocket bridge for remote renderers.
type BridgeConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MCPConfig configures the workspace tool server.
type MCPConfig struct {
	Addr string `yaml:"addr"`
}

// AgentConfig configures the agent process.
type AgentConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	PTY     bool     `yaml:"pty"`
}

// WatcherConfig configures workspace change notifications.
type WatcherConfig struct {
	Debounce string `yaml:"debounce"`
}

// DebounceDuration parses Watcher.Debounce, falling back to 300ms.
func (c *Config) DebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.Watcher.Debounce)
	if err != nil || d <= 0 {
		return 300 * time.Millisecond
	}
	return d
}

// DefaultConfig returns the configuration used when no file exists.
// configDir is the settings directory (usually ~/.openwork).
func DefaultConfig(configDir string) *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Database: DatabaseConfig{
			Path: filepath.Join(configDir, "openwork.sqlite"),
		},
		Bridge: BridgeConfig{
			Addr: "127.0.0.1:7420",
		},
		MCP: MCPConfig{
			Addr: "127.0.0.1:7421",
		},
		Agent: AgentConfig{
			Command: "openwork-agent",
		},
		Watcher: WatcherConfig{
			Debounce: "300ms",
		},
	}
}

// Load loads configuration from configDir/config.yaml and applies
// OPENWORK_* environment overrides.
func Load(configDir string) (*Config, error) {
	cfg := DefaultConfig(configDir)

	data, err := os.ReadFile(filepath.Join(configDir, ConfigFile))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to configDir/config.yaml.
func (c *Config) Save(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(configDir, ConfigFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	c.Logging.Level = envOr("OPENWORK_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envOr("OPENWORK_LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = envOr("OPENWORK_LOG_OUTPUT", c.Logging.Output)
	c.Database.Path = envOr("OPENWORK_DB_PATH", c.Database.Path)
	c.Bridge.Addr = envOr("OPENWORK_BRIDGE_ADDR", c.Bridge.Addr)
	c.MCP.Addr = envOr("OPENWORK_MCP_ADDR", c.MCP.Addr)
	c.Agent.Command = envOr("OPENWORK_AGENT_COMMAND", c.Agent.Command)
	if args := os.Getenv("OPENWORK_AGENT_ARGS"); args != "" {
		c.Agent.Args = strings.Fields(args)
	}
	c.Agent.PTY = envBool("OPENWORK_AGENT_PTY", c.Agent.PTY)
	c.Watcher.Debounce = envOr("OPENWORK_WATCH_DEBOUNCE", c.Watcher.Debounce)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
