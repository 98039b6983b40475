// Package config loads appserve settings from an optional YAML file and
// APPSERVE_* environment variables. Environment wins over the file; command
// line flags are applied by the CLI on top of both.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ln64-git/dynamic-server-app-template/internal/observability/logger"
)

// DefaultPath is the config file read when none is given. It may be absent.
const DefaultPath = "appserve.yaml"

type Config struct {
	Server struct {
		Host        string        `yaml:"host"`
		Port        int           `yaml:"port"`
		MaxAttempts int           `yaml:"max_attempts"`
		Grace       time.Duration `yaml:"grace"`
	} `yaml:"server"`

	Probe struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"probe"`

	State struct {
		Validate bool   `yaml:"validate"`
		File     string `yaml:"file"`
	} `yaml:"state"`

	Log struct {
		Level string `yaml:"level"`
		Env   string `yaml:"env"`
	} `yaml:"log"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// Default returns the built-in settings.
func Default() *Config {
	var c Config
	c.Server.Host = "127.0.0.1"
	c.Server.Port = 2000
	c.Server.MaxAttempts = 50
	c.Server.Grace = 5 * time.Second
	c.Probe.Timeout = time.Second
	c.State.Validate = true
	c.Log.Level = "info"
	c.Log.Env = "dev"
	c.Metrics.Enabled = true
	return &c
}

// Load reads path over the defaults and applies environment overrides.
// An empty path, or a missing DefaultPath, skips the file.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(b, c); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APPSERVE_HOST"); ok {
		c.Server.Host = v
	}
	if v, ok := getEnvInt("APPSERVE_PORT"); ok {
		c.Server.Port = v
	}
	if v, ok := getEnvInt("APPSERVE_MAX_ATTEMPTS"); ok {
		c.Server.MaxAttempts = v
	}
	if v, ok := getEnvDur("APPSERVE_GRACE"); ok {
		c.Server.Grace = v
	}
	if v, ok := getEnvDur("APPSERVE_PROBE_TIMEOUT"); ok {
		c.Probe.Timeout = v
	}
	if v, ok := getEnvBool("APPSERVE_VALIDATE"); ok {
		c.State.Validate = v
	}
	if v, ok := getEnvStr("APPSERVE_STATE_FILE"); ok {
		c.State.File = v
	}
	if v, ok := getEnvStr("APPSERVE_LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := getEnvStr("APPSERVE_LOG_ENV"); ok {
		c.Log.Env = strings.ToLower(v)
	}
	if v, ok := getEnvBool("APPSERVE_METRICS"); ok {
		c.Metrics.Enabled = v
	}
}

// Validate rejects settings the runtime cannot use.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("server.max_attempts must be positive, got %d", c.Server.MaxAttempts))
	}
	if c.Server.Grace <= 0 {
		errs = append(errs, fmt.Errorf("server.grace must be positive, got %s", c.Server.Grace))
	}
	if c.Probe.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("probe.timeout must be positive, got %s", c.Probe.Timeout))
	}
	if _, ok := logger.ParseLevel(c.Log.Level); !ok {
		errs = append(errs, fmt.Errorf("log.level %q unknown", c.Log.Level))
	}
	if c.Log.Env != "dev" && c.Log.Env != "prod" {
		errs = append(errs, fmt.Errorf("log.env must be dev or prod, got %q", c.Log.Env))
	}
	return errors.Join(errs...)
}

// Logger returns the logger settings.
func (c *Config) Logger() logger.Config {
	return logger.Config{Env: c.Log.Env, Level: c.Log.Level, ServiceName: "appserve"}
}

// ---- env helpers ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
