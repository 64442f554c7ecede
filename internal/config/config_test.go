package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modhost.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Plugins.BundleDir != "bundles" {
		t.Errorf("BundleDir = %q, want bundles", cfg.Plugins.BundleDir)
	}
	if cfg.Plugins.CallTimeout.Std() != 5*time.Second {
		t.Errorf("CallTimeout = %v, want 5s", cfg.Plugins.CallTimeout.Std())
	}
	if cfg.Build.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want 4", cfg.Build.MaxConcurrent)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
[plugins]
bundle_dir = "/srv/bundles"
call_timeout = "2s"
instruction_limit = 500000

[build]
sources_dir = "/srv/sources"
step_timeout = "1m"
max_concurrent = 2

[server]
addr = ":9090"

[logging]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Plugins.BundleDir != "/srv/bundles" {
		t.Errorf("BundleDir = %q", cfg.Plugins.BundleDir)
	}
	if cfg.Plugins.CallTimeout.Std() != 2*time.Second {
		t.Errorf("CallTimeout = %v, want 2s", cfg.Plugins.CallTimeout.Std())
	}
	if cfg.Plugins.InstructionLimit != 500000 {
		t.Errorf("InstructionLimit = %d", cfg.Plugins.InstructionLimit)
	}
	if cfg.Build.StepTimeout.Std() != time.Minute {
		t.Errorf("StepTimeout = %v, want 1m", cfg.Build.StepTimeout.Std())
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = ":7000"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Plugins.BundleDir != "bundles" {
		t.Errorf("BundleDir = %q, want the default", cfg.Plugins.BundleDir)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MODHOST_BUNDLE_DIR", "/env/bundles")
	t.Setenv("MODHOST_CALL_TIMEOUT", "250ms")
	t.Setenv("MODHOST_MAX_CONCURRENT", "8")
	t.Setenv("MODHOST_LOG_LEVEL", "warn")

	path := writeConfig(t, `
[plugins]
bundle_dir = "/file/bundles"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Plugins.BundleDir != "/env/bundles" {
		t.Errorf("BundleDir = %q, env should override the file", cfg.Plugins.BundleDir)
	}
	if cfg.Plugins.CallTimeout.Std() != 250*time.Millisecond {
		t.Errorf("CallTimeout = %v, want 250ms", cfg.Plugins.CallTimeout.Std())
	}
	if cfg.Build.MaxConcurrent != 8 {
		t.Errorf("MaxConcurrent = %d, want 8", cfg.Build.MaxConcurrent)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := writeConfig(t, `this is not toml ===`)
	if _, err := Load(path); err == nil {
		t.Error("Load() with invalid TOML should return error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty bundle dir", func(c *Config) { c.Plugins.BundleDir = "" }},
		{"zero call timeout", func(c *Config) { c.Plugins.CallTimeout = 0 }},
		{"negative instruction limit", func(c *Config) { c.Plugins.InstructionLimit = -1 }},
		{"zero step timeout", func(c *Config) { c.Build.StepTimeout = 0 }},
		{"zero max concurrent", func(c *Config) { c.Build.MaxConcurrent = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}
