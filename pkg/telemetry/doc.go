// Package telemetry provides observability for the froyo deployment engine.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and event publishing.
//
// # Engine Events
//
// Engine components never log through a global logger. They receive an
// EventLogger and emit EngineEvents:
//
//	details := telemetry.EventDetails{ExecutionID: id}.
//	    WithStage(telemetry.EnvironmentStage(telemetry.StepDeploy)).
//	    WithTransmitter(telemetry.TransmitterChart("coredns"))
//	events.Log(telemetry.LogLevelWarning, telemetry.NewEngineEvent(details,
//	    telemetry.NewEventMessage("unable to compute diff", stderr)))
//
// An EventMessage keeps the operator-safe summary apart from the full
// diagnostics. EventLog is the production EventLogger: it writes every event
// to the Logger, counts it in Metrics and publishes it on the EventPublisher
// so subscribers such as the run journal can persist it.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	rt := &engine.Runtime{Events: tel.EventLog, Metrics: tel.Metrics, Tracer: tel.Tracer}
//
// # Metrics
//
// Metrics live on a private registry and are exposed by StartMetricsServer:
//
//   - froyo_deployments_total{status}, froyo_deployment_duration_seconds{status}
//   - froyo_levels_executed_total{status}
//   - froyo_chart_executions_total{action,status}, froyo_chart_execution_duration_seconds{action}
//   - froyo_lifecycle_operations_total{kind,operation,status}
//   - froyo_external_calls_total{tool,operation,status}, froyo_external_call_duration_seconds{tool,operation}
//   - froyo_retries_total{operation}
//   - froyo_events_total{level}, froyo_errors_by_code_total{code}
//
// A disabled or nil Metrics ignores every call, as does a nil Tracer.
package telemetry
