package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// envManaged is set by the manager on spawned workers. It switches the
// default log format from the interactive console writer to JSON lines.
const envManaged = "RIGMUX_MANAGED"

// workerConfig is the resolved configuration: defaults, then the optional
// TOML file, then explicit flags, strongest last.
type workerConfig struct {
	Endpoint  string
	Session   string
	Mock      bool
	LogLevel  string
	LogPretty bool
}

// fileConfig maps the worker config.toml keys.
type fileConfig struct {
	Endpoint  string `toml:"endpoint"`
	Session   string `toml:"session"`
	Mock      bool   `toml:"mock"`
	LogLevel  string `toml:"log_level"`
	LogPretty bool   `toml:"log_pretty"`
}

func defaultConfig() *workerConfig {
	return &workerConfig{
		LogLevel:  "info",
		LogPretty: os.Getenv(envManaged) == "",
	}
}

// loadFile overlays keys present in the TOML file onto the config.
func (c *workerConfig) loadFile(path string) error {
	var raw fileConfig

	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load worker config: %w", err)
	}

	if meta.IsDefined("endpoint") {
		c.Endpoint = strings.TrimSpace(raw.Endpoint)
	}

	if meta.IsDefined("session") {
		c.Session = strings.TrimSpace(raw.Session)
	}

	if meta.IsDefined("mock") {
		c.Mock = raw.Mock
	}

	if meta.IsDefined("log_level") {
		c.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("log_pretty") {
		c.LogPretty = raw.LogPretty
	}

	return nil
}

// applyFlags overlays explicitly set flags onto the config.
func (c *workerConfig) applyFlags(seen map[string]bool, endpoint, session string, mock bool, logLevel string, logPretty bool) {
	if seen["endpoint"] {
		c.Endpoint = endpoint
	}

	if seen["session"] {
		c.Session = session
	}

	if seen["mock"] {
		c.Mock = mock
	}

	if seen["log-level"] {
		c.LogLevel = logLevel
	}

	if seen["log-pretty"] {
		c.LogPretty = logPretty
	}
}

// resolve validates the config and fills derived defaults.
func (c *workerConfig) resolve() error {
	if c.Endpoint == "" && !c.Mock {
		return fmt.Errorf("either --endpoint or --mock is required")
	}

	if c.Session == "" {
		if c.Endpoint != "" {
			c.Session = c.Endpoint
		} else {
			c.Session = "mock"
		}
	}

	return nil
}

// newLogger builds the worker process logger. Stdout carries the wire
// protocol, so logs always go to stderr.
func (c *workerConfig) newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if c.LogPretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Str("app", "rigmux-worker").Logger()
}
