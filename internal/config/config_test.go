package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timeout() != DefaultTimeout {
		t.Errorf("Timeout() = %v, want %v", cfg.Timeout(), DefaultTimeout)
	}
	if !cfg.SuppressErrors() {
		t.Error("SuppressErrors() = false, want true by default")
	}
	if cfg.LogLevel() != slog.LevelInfo {
		t.Errorf("LogLevel() = %v", cfg.LogLevel())
	}
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`python: /usr/bin/python3.11
python_version: "3.11"
suppress_encode_errors: false
compress_above: 4096
timeout: 30s
log_level: debug
packages: [requests, "pandas>=2"]
`)
	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Python != "/usr/bin/python3.11" || cfg.PythonVersion != "3.11" {
		t.Errorf("Python = %q, PythonVersion = %q", cfg.Python, cfg.PythonVersion)
	}
	if cfg.SuppressErrors() {
		t.Error("SuppressErrors() = true, want false")
	}
	if cfg.CompressAbove != 4096 {
		t.Errorf("CompressAbove = %d", cfg.CompressAbove)
	}
	if cfg.Timeout() != 30*time.Second {
		t.Errorf("Timeout() = %v", cfg.Timeout())
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("LogLevel() = %v", cfg.LogLevel())
	}
	if !slices.Equal(cfg.Packages, []string{"requests", "pandas>=2"}) {
		t.Errorf("Packages = %q", cfg.Packages)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("timeout: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_Overlays(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("python_version: \"3.10\"\ntimeout: 1m\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	dotenv := "VENVPIPE_PYTHON_VERSION=3.12\nVENVPIPE_COMPRESS_ABOVE=100\nVENVPIPE_PACKAGES=six,attrs\nOTHER=ignored\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VENVPIPE_COMPRESS_ABOVE", "200")
	t.Setenv("VENVPIPE_DECODE_REPORTED_ERRORS", "true")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PythonVersion != "3.12" {
		t.Errorf("PythonVersion = %q, want .env value", cfg.PythonVersion)
	}
	if cfg.CompressAbove != 200 {
		t.Errorf("CompressAbove = %d, want environment value", cfg.CompressAbove)
	}
	if !cfg.DecodeReportedErrors {
		t.Error("DecodeReportedErrors = false")
	}
	if cfg.Timeout() != time.Minute {
		t.Errorf("Timeout() = %v, want YAML value", cfg.Timeout())
	}
	if !slices.Equal(cfg.Packages, []string{"six", "attrs"}) {
		t.Errorf("Packages = %q", cfg.Packages)
	}
}

func TestLoad_BadOverride(t *testing.T) {
	t.Setenv("VENVPIPE_SUPPRESS_ENCODE_ERRORS", "maybe")
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for a non boolean override")
	}
}

func TestTimeout_Invalid(t *testing.T) {
	for _, raw := range []string{"soon", "-5s", "0s"} {
		cfg := &Config{RawTimeout: raw}
		if cfg.Timeout() != DefaultTimeout {
			t.Errorf("Timeout(%q) = %v, want default", raw, cfg.Timeout())
		}
	}
}
