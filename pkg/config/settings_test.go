package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/deployengine/pkg/retry"
)

func TestLoadSettings_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper() error = %v", err)
	}
	s, err := LoadSettings(v)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}

	if s.MaxParallel != 0 {
		t.Errorf("expected unbounded parallelism, got %d", s.MaxParallel)
	}
	if s.RetryAttempts != retry.DefaultAttempts || s.RetryDelay != retry.DefaultDelay {
		t.Errorf("unexpected retry defaults %d/%s", s.RetryAttempts, s.RetryDelay)
	}
	if s.HelmBinary != "helm" || s.KubectlBinary != "kubectl" {
		t.Errorf("unexpected binaries %s/%s", s.HelmBinary, s.KubectlBinary)
	}

	cfg := s.Telemetry()
	if cfg.Metrics.Enabled || cfg.Tracing.Enabled {
		t.Error("metrics and tracing should be off by default")
	}
}

func TestLoadSettings_Environment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FROYO_MAX_PARALLEL", "4")
	t.Setenv("FROYO_RETRY_DELAY", "500ms")
	t.Setenv("FROYO_METRICS_ADDR", ":9090")

	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper() error = %v", err)
	}
	s, err := LoadSettings(v)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}

	if s.MaxParallel != 4 {
		t.Errorf("expected max parallel 4, got %d", s.MaxParallel)
	}
	if s.RetryDelay != 500*time.Millisecond {
		t.Errorf("expected retry delay 500ms, got %s", s.RetryDelay)
	}
	cfg := s.Telemetry()
	if !cfg.Metrics.Enabled || cfg.Metrics.ListenAddress != ":9090" {
		t.Errorf("metrics not enabled on :9090: %+v", cfg.Metrics)
	}
}

func TestLoadSettings_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := "max_parallel: 2\nretry_attempts: 3\ntrace_exporter: stdout\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write settings: %v", err)
	}

	v, err := NewViper(path)
	if err != nil {
		t.Fatalf("NewViper() error = %v", err)
	}
	s, err := LoadSettings(v)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}

	if s.MaxParallel != 2 {
		t.Errorf("expected max parallel 2, got %d", s.MaxParallel)
	}
	if p := s.RetryPolicy(); p.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", p.Attempts)
	}
	cfg := s.Telemetry()
	if !cfg.Tracing.Enabled || cfg.Tracing.Exporter != "stdout" {
		t.Errorf("tracing not enabled with stdout: %+v", cfg.Tracing)
	}
}

func TestNewViper_MissingExplicitFile(t *testing.T) {
	if _, err := NewViper(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected a missing explicit file to fail")
	}
}

func TestLoadSettings_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
	}{
		{name: "negative parallelism", env: "FROYO_MAX_PARALLEL", val: "-1"},
		{name: "no attempt", env: "FROYO_RETRY_ATTEMPTS", val: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())
			t.Setenv(tt.env, tt.val)

			v, err := NewViper("")
			if err != nil {
				t.Fatalf("NewViper() error = %v", err)
			}
			if _, err := LoadSettings(v); err == nil {
				t.Errorf("expected %s=%s to be rejected", tt.env, tt.val)
			}
		})
	}
}
