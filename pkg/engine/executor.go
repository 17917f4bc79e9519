package engine

import (
	"context"
	"time"

	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// Executor runs the lifecycle of a single chart:
// check_prerequisites, pre_execute, execute, post_execute, and
// on_deploy_failure when execute fails.
//
// The executor never retries a phase and never touches the payload; it only
// threads it from one phase to the next.
type Executor struct{}

// NewExecutor creates a chart executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Run executes every phase of chart and returns the final payload.
func (x *Executor) Run(ctx context.Context, chart Chart, rt *Runtime) (Payload, error) {
	unit := chart.Info()
	ctx, span := rt.Tracer.StartChartSpan(ctx, unit.Name, string(unit.Action))
	defer span.End()
	telemetry.SetAttributes(span, telemetry.AttrNamespace.String(unit.NamespaceName()))

	start := time.Now()
	payload, err := x.run(ctx, chart, rt)
	status := string(UnitStatusSucceeded)
	if err != nil {
		status = string(UnitStatusFailed)
		telemetry.RecordError(span, err)
		rt.Metrics.RecordError(CodeOf(err))
	} else {
		telemetry.RecordSuccess(span)
	}
	rt.Metrics.RecordChartExecution(string(unit.Action), status, time.Since(start))
	return payload, err
}

func (x *Executor) run(ctx context.Context, chart Chart, rt *Runtime) (Payload, error) {
	unit := chart.Info()
	rt.Infof(unit, "prepare and deploy chart %s", unit.Name)

	payload, err := chart.CheckPrerequisites(ctx)
	if err != nil {
		return nil, annotate(err, PhaseCheckPrerequisites, unit.Name)
	}

	payload, err = chart.PreExec(ctx, rt, payload)
	if err != nil {
		return nil, annotate(err, PhasePreExecute, unit.Name)
	}

	execPayload, err := chart.Exec(ctx, rt, payload)
	if err != nil {
		err = annotate(err, PhaseExecute, unit.Name)
		rt.Log(telemetry.LogLevelError, unit, telemetry.NewEventMessage(
			"error while deploying chart "+unit.Name, err.Error(),
		))
		if _, ferr := chart.OnDeployFailure(ctx, rt, payload); ferr != nil {
			return nil, annotate(ferr, PhaseOnDeployFailure, unit.Name)
		}
		return nil, err
	}

	payload, err = chart.PostExec(ctx, rt, execPayload)
	if err != nil {
		return nil, annotate(err, PhasePostExecute, unit.Name)
	}
	return payload, nil
}

