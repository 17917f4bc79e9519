package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_DisabledAndNilAreNoops(t *testing.T) {
	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	var nilMetrics *Metrics
	for _, m := range []*Metrics{disabled, nilMetrics} {
		assert.NotPanics(t, func() {
			m.RecordDeployment("succeeded", time.Second)
			m.RecordLevel("failed")
			m.RecordChartExecution("deploy", "succeeded", time.Second)
			m.RecordLifecycle("application", "create", "succeeded")
			m.RecordExternalCall("helm", "upgrade", "failed", time.Second)
			m.RecordRetry("history")
			m.RecordEvent("info")
			m.RecordError("TIMEOUT")
		})
		assert.Nil(t, m.Registry())
		assert.NoError(t, m.StartMetricsServer(nil))
		assert.NoError(t, m.Shutdown(context.Background()))
	}
}

func TestMetrics_Record(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "froyo"})
	require.NoError(t, err)

	m.RecordChartExecution("deploy", "succeeded", 2*time.Second)
	m.RecordChartExecution("deploy", "succeeded", time.Second)
	m.RecordRetry("history")
	m.RecordError("")
	m.RecordError("TIMEOUT")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.chartExecutions.WithLabelValues("deploy", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("history")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsByCode.WithLabelValues("UNKNOWN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsByCode.WithLabelValues("TIMEOUT")))
}

func TestMetrics_Handler(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "froyo"})
	require.NoError(t, err)
	m.RecordDeployment("succeeded", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `froyo_deployments_total{status="succeeded"} 1`))
}

func TestTracer_NilIsNoop(t *testing.T) {
	var tracer *Tracer

	ctx, span := tracer.StartChartSpan(context.Background(), "coredns", "deploy")
	assert.NotNil(t, ctx)
	RecordError(span, errors.New("boom"))
	RecordSuccess(span)
	span.End()

	assert.NoError(t, tracer.Shutdown(context.Background()))
	assert.NoError(t, tracer.ForceFlush(context.Background()))
}

func TestTracer_Disabled(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{Enabled: false}, "froyo", "test", "test")
	require.NoError(t, err)

	_, span := tracer.StartDeploySpan(context.Background(), 2, 5, true)
	span.End()
	assert.NoError(t, tracer.Shutdown(context.Background()))
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "jaeger"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddress = ""
	assert.Error(t, cfg.Validate())
}
