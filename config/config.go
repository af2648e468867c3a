// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	redisauth "github.com/mochi-mqtt/auth-redis"
	"github.com/mochi-mqtt/server/v2/listeners"
	"gopkg.in/yaml.v3"

	mqtt "github.com/mochi-mqtt/server/v2"
)

const (
	LoggingOutputJSON = "JSON"
	LoggingOutputText = "TEXT"
)

// Config defines the structure of configuration data to be parsed from a config source.
type Config struct {
	Options        mqtt.Options       `yaml:"options" json:"options"`
	Listeners      []listeners.Config `yaml:"listeners" json:"listeners"`
	Auth           redisauth.Options  `yaml:"auth" json:"auth"`
	Logging        *Logging           `yaml:"logging" json:"logging"`
	MetricsAddress string             `yaml:"metrics_address" json:"metrics_address"`
}

// Logging configures the log output of the broker and hook.
type Logging struct {
	Output string `yaml:"output" json:"output"` // JSON or TEXT
	Level  string `yaml:"level" json:"level"`
}

// FromBytes unmarshals a byte slice of JSON or YAML config data into a config.
// An empty slice returns the default configuration.
func FromBytes(b []byte) (*Config, error) {
	c := new(Config)
	if len(b) == 0 {
		return c, nil
	}

	if b[0] == '{' {
		if err := json.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("failed to parse json config: %w", err)
		}
		return c, nil
	}

	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("failed to parse yaml config: %w", err)
	}

	return c, nil
}

// FromFile reads and unmarshals a JSON or YAML config file.
func FromFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return FromBytes(b)
}

// Logger returns a logger configured by the logging section, or the default
// logger if there is none.
func (c *Config) Logger() *slog.Logger {
	if c.Logging == nil {
		return slog.Default()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		slog.Warn("logging level not recognized, defaulting to info", "level", c.Logging.Level)
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Logging.Output, LoggingOutputJSON) {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// ServerOptions converts the config into server options with the auth hook
// attached. The metrics are handed to the hook and may be nil.
func (c *Config) ServerOptions(metrics *redisauth.Metrics) *mqtt.Options {
	o := c.Options
	o.Listeners = c.Listeners
	o.Logger = c.Logger()

	auth := c.Auth
	auth.Metrics = metrics
	o.Hooks = []mqtt.HookLoadConfig{
		{
			Hook:   new(redisauth.Hook),
			Config: &auth,
		},
	}

	return &o
}
