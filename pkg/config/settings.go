package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openfroyo/deployengine/pkg/retry"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// EnvPrefix prefixes the environment variables overriding settings,
// e.g. FROYO_MAX_PARALLEL.
const EnvPrefix = "FROYO"

// Settings are the engine settings of the CLI, as opposed to the manifest
// which describes what to deploy.
type Settings struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// MaxParallel bounds the charts of a level running at once, 0 is
	// unbounded.
	MaxParallel int `mapstructure:"max_parallel"`

	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`

	HelmBinary    string `mapstructure:"helm_binary"`
	KubectlBinary string `mapstructure:"kubectl_binary"`

	DatabasePath string `mapstructure:"database_path"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
	PolicyDir    string `mapstructure:"policy_dir"`

	TraceExporter string `mapstructure:"trace_exporter"`
	TraceEndpoint string `mapstructure:"trace_endpoint"`
}

// DefaultHome is the settings directory under the user home.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".froyo"
	}
	return filepath.Join(home, ".froyo")
}

// SetDefaults registers the default settings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("max_parallel", 0)
	v.SetDefault("retry_attempts", retry.DefaultAttempts)
	v.SetDefault("retry_delay", retry.DefaultDelay)
	v.SetDefault("helm_binary", "helm")
	v.SetDefault("kubectl_binary", "kubectl")
	v.SetDefault("database_path", filepath.Join(DefaultHome(), "froyo.db"))
	v.SetDefault("metrics_addr", "")
	v.SetDefault("policy_dir", "")
	v.SetDefault("trace_exporter", "none")
	v.SetDefault("trace_endpoint", "")
}

// NewViper returns a viper instance reading file, or config.yaml in the
// settings directory when file is empty, and FROYO_* variables.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(DefaultHome())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
	}
	return v, nil
}

// LoadSettings decodes and checks the settings held by v.
func LoadSettings(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if s.MaxParallel < 0 {
		return nil, fmt.Errorf("max_parallel must not be negative, got %d", s.MaxParallel)
	}
	if s.RetryAttempts < 1 {
		return nil, fmt.Errorf("retry_attempts must be at least 1, got %d", s.RetryAttempts)
	}
	return &s, nil
}

// RetryPolicy returns the retry schedule of the external tool adapters.
func (s *Settings) RetryPolicy() retry.Policy {
	return retry.Policy{Attempts: s.RetryAttempts, Delay: s.RetryDelay}
}

// Telemetry returns the telemetry configuration matching the settings.
func (s *Settings) Telemetry() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = s.LogLevel
	cfg.Logging.Format = s.LogFormat
	if s.MetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = s.MetricsAddr
	}
	if s.TraceExporter != "" && s.TraceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = s.TraceExporter
		cfg.Tracing.Endpoint = s.TraceEndpoint
	}
	return cfg
}
