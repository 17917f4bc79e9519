package telemetry

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Config is the telemetry setup of one froyo process.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Environment is reported as the deployment.environment resource
	// attribute of every span.
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string // trace, debug, info, warn, error or fatal
	Format string // console or json

	EnableCaller bool
	NoColor      bool
	TimeFormat   string // unix, unixms or rfc3339

	// Sampling keeps SamplingInitial messages per second, then every
	// SamplingThereafter-th one.
	EnableSampling     bool
	SamplingInitial    int
	SamplingThereafter int
}

// TracingConfig configures the OpenTelemetry tracer.
type TracingConfig struct {
	Enabled  bool
	Exporter string // otlp, stdout or none
	Endpoint string // host:port of the OTLP collector

	SamplingRate       float64
	MaxExportBatchSize int
	ExportTimeout      time.Duration
	Headers            map[string]string
	Insecure           bool
}

// MetricsConfig configures the prometheus registry and its endpoint.
type MetricsConfig struct {
	Enabled       bool
	ListenAddress string
	Path          string
	Namespace     string

	// DurationBuckets are the buckets, in seconds, of the deployment and
	// chart duration histograms. Helm waits are measured in minutes.
	DurationBuckets []float64
}

// EventsConfig configures the event publisher.
type EventsConfig struct {
	Enabled    bool
	BufferSize int

	// EnableAsync delivers events to subscribers from a background goroutine.
	// Synchronous delivery guarantees subscribers saw every event once Log returns.
	EnableAsync bool
}

// DefaultConfig returns the configuration of the froyo CLI: console logs,
// events delivered synchronously, no tracing and no metrics endpoint.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "froyo",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			ListenAddress:   ":9090",
			Path:            "/metrics",
			Namespace:       "froyo",
			DurationBuckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 180, 300, 600, 1200},
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 1000,
		},
	}
}

var (
	validLogLevels = map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	validExporters = map[string]bool{"otlp": true, "stdout": true, "none": true}
)

// Validate reports every invalid setting of the configuration.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.ServiceName == "" {
		errs = multierror.Append(errs, fmt.Errorf("service name is required"))
	}
	if c.ServiceVersion == "" {
		errs = multierror.Append(errs, fmt.Errorf("service version is required"))
	}

	if !validLogLevels[c.Logging.Level] {
		errs = multierror.Append(errs, fmt.Errorf("invalid log level: %s", c.Logging.Level))
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		errs = multierror.Append(errs, fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format))
	}

	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		errs = multierror.Append(errs, fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter))
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = multierror.Append(errs, fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate))
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		errs = multierror.Append(errs, fmt.Errorf("metrics listen address is required when metrics are enabled"))
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize))
	}

	return errs.ErrorOrNil()
}
