// Package config loads the optional .venvpipe.yaml file, overlaid by a .env
// file and by VENVPIPE_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the working directory.
const FileName = ".venvpipe.yaml"

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "VENVPIPE_"

// Default values.
const (
	DefaultTimeout       = 10 * time.Minute
	DefaultCompressAbove = 0
	DefaultLogLevel      = "info"
)

// Config holds the parsed configuration. All fields are optional; zero
// values represent defaults.
type Config struct {
	// Python is the base interpreter used to create environments.
	Python string `yaml:"python"`

	// PythonVersion pins created environments, e.g. "3.11".
	PythonVersion string `yaml:"python_version"`

	// EnvRoot is where named environments are created.
	EnvRoot string `yaml:"env_root"`

	// SuppressEncodeErrors controls whether unencodable results are dropped
	// (the default) or reported as errors.
	SuppressEncodeErrors *bool `yaml:"suppress_encode_errors"`

	// CompressAbove compresses envelope bodies larger than this many bytes.
	CompressAbove int `yaml:"compress_above"`

	// DecodeReportedErrors turns a failed run into the error the child
	// reported on stderr.
	DecodeReportedErrors bool `yaml:"decode_reported_errors"`

	RawLogLevel string `yaml:"log_level"` // debug, info, warn, error
	RawTimeout  string `yaml:"timeout"`   // e.g. "5m", "30s"

	// Packages are installed into newly created environments.
	Packages []string `yaml:"packages"`
}

// Timeout returns the configured run timeout or the default.
func (c *Config) Timeout() time.Duration {
	if c.RawTimeout != "" {
		d, err := time.ParseDuration(c.RawTimeout)
		if err == nil && d > 0 {
			return d
		}
	}
	return DefaultTimeout
}

// LogLevel returns the configured level, falling back to info.
func (c *Config) LogLevel() slog.Level {
	var l slog.Level
	raw := c.RawLogLevel
	if raw == "" {
		raw = DefaultLogLevel
	}
	if err := l.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// SuppressErrors reports whether encode failures are suppressed.
func (c *Config) SuppressErrors() bool {
	return c.SuppressEncodeErrors == nil || *c.SuppressEncodeErrors
}

// Load reads FileName and .env from dir and applies environment overrides.
// Missing files are not an error.
func Load(dir string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", FileName, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	dotenv, err := godotenv.Read(filepath.Join(dir, ".env"))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}
	if err := cfg.apply(dotenv); err != nil {
		return nil, fmt.Errorf(".env: %w", err)
	}
	if err := cfg.apply(environ()); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	return cfg, nil
}

func environ() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, EnvPrefix) {
			out[k] = v
		}
	}
	return out
}

// apply overrides fields from VENVPIPE_* variables in vars.
func (c *Config) apply(vars map[string]string) error {
	for k, v := range vars {
		name, ok := strings.CutPrefix(k, EnvPrefix)
		if !ok {
			continue
		}
		switch name {
		case "PYTHON":
			c.Python = v
		case "PYTHON_VERSION":
			c.PythonVersion = v
		case "ENV_ROOT":
			c.EnvRoot = v
		case "LOG_LEVEL":
			c.RawLogLevel = v
		case "TIMEOUT":
			c.RawTimeout = v
		case "PACKAGES":
			c.Packages = strings.Fields(strings.ReplaceAll(v, ",", " "))
		case "SUPPRESS_ENCODE_ERRORS":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			c.SuppressEncodeErrors = &b
		case "DECODE_REPORTED_ERRORS":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			c.DecodeReportedErrors = b
		case "COMPRESS_ABOVE":
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			c.CompressAbove = n
		}
	}
	return nil
}
