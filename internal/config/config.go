// Package config loads the host configuration from a TOML file with
// MODHOST_ environment overrides layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is the prefix for all environment overrides.
const EnvPrefix = "MODHOST_"

// Config is the top-level host configuration.
type Config struct {
	Plugins PluginsConfig `toml:"plugins"`
	Build   BuildConfig   `toml:"build"`
	Server  ServerConfig  `toml:"server"`
	Logging LoggingConfig `toml:"logging"`
}

// PluginsConfig controls bundle loading and invocation.
type PluginsConfig struct {
	BundleDir        string   `toml:"bundle_dir"`
	CallTimeout      Duration `toml:"call_timeout"`
	InstructionLimit int64    `toml:"instruction_limit"`
}

// BuildConfig controls the bundle build pipeline.
type BuildConfig struct {
	SourcesDir    string   `toml:"sources_dir"`
	StepTimeout   Duration `toml:"step_timeout"`
	MaxConcurrent int      `toml:"max_concurrent"`
	Shell         string   `toml:"shell"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration wraps time.Duration so TOML values can be written as "5s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file or overrides exist.
func Default() Config {
	return Config{
		Plugins: PluginsConfig{
			BundleDir:        "bundles",
			CallTimeout:      Duration(5 * time.Second),
			InstructionLimit: 10_000_000,
		},
		Build: BuildConfig{
			SourcesDir:    "sources",
			StepTimeout:   Duration(5 * time.Minute),
			MaxConcurrent: 4,
			Shell:         "/bin/sh",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the TOML file at path, applies environment overrides, and
// validates the result. A missing file is not an error; defaults plus
// overrides are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults
		case err != nil:
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the host cannot run with.
func (c Config) Validate() error {
	if c.Plugins.BundleDir == "" {
		return fmt.Errorf("plugins.bundle_dir must not be empty")
	}
	if c.Plugins.CallTimeout <= 0 {
		return fmt.Errorf("plugins.call_timeout must be positive")
	}
	if c.Plugins.InstructionLimit < 0 {
		return fmt.Errorf("plugins.instruction_limit must not be negative")
	}
	if c.Build.StepTimeout <= 0 {
		return fmt.Errorf("build.step_timeout must be positive")
	}
	if c.Build.MaxConcurrent < 1 {
		return fmt.Errorf("build.max_concurrent must be at least 1")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}

// applyEnv overlays MODHOST_ variables onto the configuration.
func applyEnv(cfg *Config) {
	setString(&cfg.Plugins.BundleDir, "BUNDLE_DIR")
	setDuration(&cfg.Plugins.CallTimeout, "CALL_TIMEOUT")
	setInt64(&cfg.Plugins.InstructionLimit, "INSTRUCTION_LIMIT")
	setString(&cfg.Build.SourcesDir, "SOURCES_DIR")
	setDuration(&cfg.Build.StepTimeout, "STEP_TIMEOUT")
	setInt(&cfg.Build.MaxConcurrent, "MAX_CONCURRENT")
	setString(&cfg.Build.Shell, "SHELL")
	setString(&cfg.Server.Addr, "ADDR")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
}

func setString(dst *string, key string) {
	if val, ok := os.LookupEnv(EnvPrefix + key); ok {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val, ok := os.LookupEnv(EnvPrefix + key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			*dst = parsed
		}
	}
}

func setInt64(dst *int64, key string) {
	if val, ok := os.LookupEnv(EnvPrefix + key); ok {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *Duration, key string) {
	if val, ok := os.LookupEnv(EnvPrefix + key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			*dst = Duration(parsed)
		}
	}
}
