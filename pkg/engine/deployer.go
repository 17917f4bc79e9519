package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// UnitDiff is the diff of one Deploy unit against the live release.
type UnitDiff struct {
	Unit      string `json:"unit" yaml:"unit"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Level     int    `json:"level" yaml:"level"`
	Diff      string `json:"diff" yaml:"diff"`
}

// Deployer is the leveled deployment planner. It diffs every Deploy unit of
// the batch, then applies levels in order through a LevelRunner.
type Deployer struct {
	runner *LevelRunner
}

// NewDeployer creates a deployer running levels with runner.
func NewDeployer(runner *LevelRunner) *Deployer {
	if runner == nil {
		runner = NewLevelRunner(0, nil)
	}
	return &Deployer{runner: runner}
}

// Diff computes the diff of every Deploy unit across all levels. Diffs are
// observability only: failures are logged as warnings and returned
// aggregated, never as a reason to stop.
func (d *Deployer) Diff(ctx context.Context, levels Levels, rt *Runtime) ([]UnitDiff, error) {
	var (
		diffs []UnitDiff
		errs  *multierror.Error
	)
	for i, level := range levels {
		for _, chart := range level {
			unit := chart.Info()
			if unit.Action != ActionDeploy {
				continue
			}
			out, err := rt.Tools.Release.Diff(ctx, rt.Env, unit)
			if err != nil {
				rt.Warn(unit, fmt.Sprintf("unable to compute diff for chart %s", unit.Name), err)
				errs = multierror.Append(errs, annotate(err, "diff", unit.Name))
				continue
			}
			diffs = append(diffs, UnitDiff{Unit: unit.Name, Namespace: unit.NamespaceName(), Level: i, Diff: out})
			if out == "" {
				rt.Infof(unit, "no changes detected for chart %s", unit.Name)
				continue
			}
			rt.Log(telemetry.LogLevelInfo, unit, telemetry.NewEventMessage(
				fmt.Sprintf("diff for chart %s", unit.Name), out,
			))
		}
	}
	return diffs, errs.ErrorOrNil()
}

// Deploy runs the batch. The diff pass always completes over every level
// before anything is applied; with dryRun the batch stops after it. Levels
// then run in order and the first failing level aborts the batch.
func (d *Deployer) Deploy(ctx context.Context, levels Levels, rt *Runtime, dryRun bool) error {
	ctx, span := rt.Tracer.StartDeploySpan(ctx, len(levels), levels.Size(), dryRun)
	defer span.End()

	start := time.Now()
	status, err := d.deploy(ctx, levels, rt, dryRun)
	rt.Metrics.RecordDeployment(string(status), time.Since(start))
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	return err
}

func (d *Deployer) deploy(ctx context.Context, levels Levels, rt *Runtime, dryRun bool) (RunStatus, error) {
	log := func(level telemetry.LogLevel, msg telemetry.EventMessage) {
		rt.events().Log(level, telemetry.NewEngineEvent(rt.Details.WithTransmitter(telemetry.TransmitterEngine()), msg))
	}

	for _, level := range levels {
		for _, chart := range level {
			if err := chart.Info().Validate(); err != nil {
				return RunStatusFailed, err
			}
		}
	}

	// diff errors were already logged per unit
	_, _ = d.Diff(ctx, levels, rt)

	if dryRun {
		log(telemetry.LogLevelInfo, telemetry.NewEventMessageSafef(
			"dry run: %d charts in %d levels diffed, nothing applied", levels.Size(), len(levels)))
		return RunStatusDryRun, nil
	}

	for i, level := range levels {
		log(telemetry.LogLevelInfo, telemetry.NewEventMessageSafef(
			"deploying level %d/%d (%d charts)", i+1, len(levels), len(level)))
		if err := d.runner.RunLevel(ctx, i, level, rt); err != nil {
			log(telemetry.LogLevelError, telemetry.NewEventMessage(
				fmt.Sprintf("level %d failed, aborting deployment", i+1), err.Error()))
			return RunStatusFailed, err
		}
	}

	log(telemetry.LogLevelInfo, telemetry.NewEventMessageSafef("deployment of %d charts succeeded", levels.Size()))
	return RunStatusSucceeded, nil
}
