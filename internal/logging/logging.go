// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Environment variables that override the profile defaults.
const (
	EnvLogLevel     = "SOCKET_SESSION_LOG_LEVEL"
	EnvLogTimestamp = "SOCKET_SESSION_LOG_TIMESTAMP"
	EnvLogNoColor   = "SOCKET_SESSION_LOG_NOCOLOR"
)

// Profile selects the defaults Configure starts from.
type Profile int

const (
	// ProfileRuntime logs at info with timestamps.
	ProfileRuntime Profile = iota
	// ProfileTest logs at debug without timestamps.
	ProfileTest
)

// Config controls how the root logger is built.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	Output    io.Writer
}

var (
	configureOnce sync.Once
	root          = zerolog.Nop()
)

// ConfigureRuntime configures the root logger for a command.
func ConfigureRuntime(level string) zerolog.Logger {
	return Configure(ProfileRuntime, level)
}

// ConfigureTests configures the root logger for a test binary.
func ConfigureTests() zerolog.Logger {
	return Configure(ProfileTest, "")
}

// Configure builds the root logger once; later calls return the same logger.
// level, when non-empty, overrides the profile default but not the environment.
func Configure(profile Profile, level string) zerolog.Logger {
	configureOnce.Do(func() {
		cfg := DefaultConfig(profile)
		if lvl, ok := ParseLevel(level); ok {
			cfg.Level = lvl
		}
		applyEnvOverrides(&cfg)
		root = New(cfg)
	})
	return root
}

// DefaultConfig returns the settings of profile before env overrides.
func DefaultConfig(profile Profile) Config {
	cfg := Config{Output: os.Stderr}
	switch profile {
	case ProfileTest:
		cfg.Level = zerolog.DebugLevel
		cfg.Timestamp = false
	default:
		cfg.Level = zerolog.InfoLevel
		cfg.Timestamp = true
	}
	return cfg
}

// New builds a console logger from cfg.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	writer := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    cfg.NoColor,
		TimeFormat: time.TimeOnly,
	}
	ctx := zerolog.New(writer).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

// ParseLevel maps a level name to a zerolog level; ok is false for unknown names.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
