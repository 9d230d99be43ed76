// Package config loads client and feed server settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/omochice/socket-session/pkg/protocol"
)

const (
	EnvEndpoint = "SOCKET_SESSION_ENDPOINT"
	EnvListen   = "SOCKET_SESSION_LISTEN"
	EnvLogLevel = "SOCKET_SESSION_LOG_LEVEL"
	EnvBurst    = "SOCKET_SESSION_COMMAND_BURST"

	DefaultEndpoint        = "ws://localhost:8080"
	DefaultListen          = ":8080"
	DefaultPublishInterval = time.Second
	DefaultDialTimeout     = 5 * time.Second

	maxConfigSize = 1 << 20
)

// Config holds settings for both commands.
type Config struct {
	LogLevel string       `toml:"log_level" yaml:"log_level"`
	Client   ClientConfig `toml:"client" yaml:"client"`
	Server   ServerConfig `toml:"server" yaml:"server"`
}

type ClientConfig struct {
	Endpoint    string   `toml:"endpoint" yaml:"endpoint"`
	DialTimeout Duration `toml:"dial_timeout" yaml:"dial_timeout"`
	MetricsAddr string   `toml:"metrics_addr" yaml:"metrics_addr"`
}

type ServerConfig struct {
	Listen          string   `toml:"listen" yaml:"listen"`
	PublishInterval Duration `toml:"publish_interval" yaml:"publish_interval"`
	// CommandRate is the number of inbound commands accepted per second per connection.
	CommandRate  float64 `toml:"command_rate" yaml:"command_rate"`
	CommandBurst int     `toml:"command_burst" yaml:"command_burst"`
}

// Duration decodes "1s"-style strings from both TOML and YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in settings.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path (TOML or YAML by extension), fills defaults, applies
// environment overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, out *Config) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if info.Size() > maxConfigSize {
		return fmt.Errorf("config file too large (%s): %d bytes", path, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	default:
		return fmt.Errorf("config format not supported (%s)", path)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Client.Endpoint == "" {
		c.Client.Endpoint = DefaultEndpoint
	}
	if c.Client.DialTimeout.Duration == 0 {
		c.Client.DialTimeout.Duration = DefaultDialTimeout
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.PublishInterval.Duration == 0 {
		c.Server.PublishInterval.Duration = DefaultPublishInterval
	}
	if c.Server.CommandRate == 0 {
		c.Server.CommandRate = 5
	}
	if c.Server.CommandBurst == 0 {
		c.Server.CommandBurst = 10
	}
}

func (c *Config) applyEnv() {
	c.Client.Endpoint = getEnv(EnvEndpoint, c.Client.Endpoint)
	c.Server.Listen = getEnv(EnvListen, c.Server.Listen)
	c.LogLevel = getEnv(EnvLogLevel, c.LogLevel)
	c.Server.CommandBurst = getEnvInt(EnvBurst, c.Server.CommandBurst)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := protocol.ParseEndpoint(c.Client.Endpoint); err != nil {
		return fmt.Errorf("client endpoint invalid: %w", err)
	}
	if c.Client.DialTimeout.Duration < 0 {
		return fmt.Errorf("client dial_timeout must not be negative")
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		return fmt.Errorf("server listen address missing")
	}
	if c.Server.PublishInterval.Duration <= 0 {
		return fmt.Errorf("server publish_interval must be positive")
	}
	if c.Server.CommandRate < 0 || c.Server.CommandBurst < 0 {
		return fmt.Errorf("server command rate limits must not be negative")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
