// Package config loads relay configuration from an optional YAML file with
// environment variable overrides. Precedence: defaults < file < environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the relay server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Engine  EngineConfig  `yaml:"engine"`
	Tools   ToolsConfig   `yaml:"tools"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	TimeoutMinutes         int `yaml:"timeout_minutes"`
	CleanupIntervalSeconds int `yaml:"cleanup_interval_seconds"`
	TranscriptWindow       int `yaml:"transcript_window"`
	MaxTurns               int `yaml:"max_turns"`
}

// EngineConfig selects and parameterizes the agent engine.
type EngineConfig struct {
	// Provider is one of "openai", "anthropic" or "scripted".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// ToolsConfig points the relay at a tool server. An empty ServerURL means
// no remote tools.
type ToolsConfig struct {
	ServerURL  string `yaml:"server_url"`
	ServerName string `yaml:"server_name"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Session: SessionConfig{
			TimeoutMinutes:         30,
			CleanupIntervalSeconds: 300,
			TranscriptWindow:       10,
			MaxTurns:               20,
		},
		Engine: EngineConfig{
			Provider: "openai",
			Model:    "gpt-4o",
		},
		Tools: ToolsConfig{
			ServerURL:  "http://localhost:9999",
			ServerName: "tools",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the file at path over the defaults and applies environment
// overrides. The file must exist; use LoadOrDefault when it is optional.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but treats a missing file as empty.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SessionTimeout returns the idle timeout as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutMinutes) * time.Minute
}

// CleanupInterval returns the reaper sweep interval as a duration.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Session.CleanupIntervalSeconds) * time.Second
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// applyEnv layers environment variables over the current values.
func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("SESSION_TIMEOUT_MINUTES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SESSION_TIMEOUT_MINUTES %q: %w", v, err)
		}
		c.Session.TimeoutMinutes = n
	}
	if v, ok := os.LookupEnv("CLEANUP_INTERVAL_SECONDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CLEANUP_INTERVAL_SECONDS %q: %w", v, err)
		}
		c.Session.CleanupIntervalSeconds = n
	}
	if v, ok := os.LookupEnv("BACKEND_PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BACKEND_PORT %q: %w", v, err)
		}
		c.Server.Port = n
	}
	if v, ok := os.LookupEnv("OPENAI_MODEL"); ok {
		c.Engine.Model = v
	}
	if v, ok := os.LookupEnv("SERVER_URL"); ok {
		c.Tools.ServerURL = v
	}
	return nil
}
