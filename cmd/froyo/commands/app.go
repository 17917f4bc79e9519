package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/deployengine/pkg/config"
	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/kube"
	"github.com/openfroyo/deployengine/pkg/policy"
	"github.com/openfroyo/deployengine/pkg/release"
	"github.com/openfroyo/deployengine/pkg/retry"
	"github.com/openfroyo/deployengine/pkg/stores"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

// newToolbox builds the helm and kubectl adapters. Tests replace it with
// fakes.
var newToolbox = func(settings *config.Settings, logger *telemetry.Logger) (engine.Toolbox, error) {
	helm, err := release.New(settings.HelmBinary, logger)
	if err != nil {
		return engine.Toolbox{}, err
	}
	kubectl, err := kube.New(settings.KubectlBinary, logger)
	if err != nil {
		return engine.Toolbox{}, err
	}
	return engine.Toolbox{Release: helm, Cluster: kubectl}, nil
}

// app holds what every command needs once the settings are loaded.
type app struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
	out      io.Writer
}

func newApp(cmd *cobra.Command) (*app, error) {
	v, err := config.NewViper(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		v.Set("log_level", logLevel)
	}
	settings, err := config.LoadSettings(v)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(settings.Telemetry())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}
	cmd.SetContext(tel.WithContext(cmd.Context()))

	return &app{
		settings: settings,
		tel:      tel,
		logger:   tel.Logger.NewComponentLogger("cli"),
		out:      cmd.OutOrStdout(),
	}, nil
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("failed to shut down telemetry")
	}
}

// runtime returns the deployment runtime of manifest m, correlated with
// executionID.
func (a *app) runtime(m *config.Manifest, executionID string) (*engine.Runtime, error) {
	tools, err := newToolbox(a.settings, a.logger)
	if err != nil {
		return nil, err
	}

	details := telemetry.EventDetails{
		ClusterID:   m.Cluster.ID,
		ExecutionID: executionID,
		Region:      m.Cluster.Region,
	}
	reporter := retry.Reporter{
		Events:  a.tel.EventLog,
		Details: details.WithTransmitter(telemetry.TransmitterEngine()),
		Metrics: a.tel.Metrics,
	}

	return &engine.Runtime{
		Env:     m.Credentials(),
		Tools:   retry.Toolbox(tools, a.settings.RetryPolicy(), reporter),
		Events:  a.tel.EventLog,
		Details: details,
		Metrics: a.tel.Metrics,
		Tracer:  a.tel.Tracer,
	}, nil
}

// policies returns the policy engine with the built-in policies and the
// ones of the configured policy directory.
func (a *app) policies(ctx context.Context) (*policy.Engine, error) {
	pe, err := policy.NewEngine(a.logger)
	if err != nil {
		return nil, err
	}
	if a.settings.PolicyDir != "" {
		if err := pe.LoadPolicies(ctx, a.settings.PolicyDir); err != nil {
			return nil, err
		}
	}
	return pe, nil
}

// journal is an open run of the run journal.
type journal struct {
	store    *stores.SQLiteStore
	run      *stores.Run
	recorder *stores.RunRecorder
	logger   *telemetry.Logger
}

// startRun opens the journal and records a new running run. Events of the
// run are journaled from then on.
func (a *app) startRun(ctx context.Context, run *stores.Run) (*journal, error) {
	store, err := openJournal(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := store.CreateRun(ctx, run); err != nil {
		_ = store.Close()
		return nil, err
	}

	recorder := stores.NewRunRecorder(store, run.ID, a.logger)
	recorder.Attach(a.tel.Events)
	a.logger.WithExecutionID(run.ID).Infof("started %s run of %s", run.Operation, run.Manifest)

	return &journal{
		store:    store,
		run:      run,
		recorder: recorder,
		logger:   a.logger.WithExecutionID(run.ID),
	}, nil
}

// finish completes the run and closes the journal.
func (j *journal) finish(ctx context.Context, status engine.RunStatus, runErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := j.store.CompleteRun(ctx, j.run.ID, status, runErr); err != nil {
		j.logger.WithError(err).Warn("failed to complete run")
	}
	if err := j.store.Close(); err != nil {
		j.logger.WithError(err).Warn("failed to close run journal")
	}
}

// runStatus maps the outcome of a batch to its run status.
func runStatus(dryRun bool, err error) engine.RunStatus {
	switch {
	case err != nil:
		return engine.RunStatusFailed
	case dryRun:
		return engine.RunStatusDryRun
	default:
		return engine.RunStatusSucceeded
	}
}

func units(charts []engine.Chart) []*engine.Unit {
	result := make([]*engine.Unit, 0, len(charts))
	for _, c := range charts {
		result = append(result, c.Info())
	}
	return result
}

// printStructured writes v as JSON or YAML and reports whether the output
// format asked for it.
func printStructured(w io.Writer, v interface{}) (bool, error) {
	switch outputFormat {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return true, err
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("failed to marshal YAML: %w", err)
		}
		_, err = fmt.Fprint(w, string(data))
		return true, err
	case "", "table":
		return false, nil
	default:
		return true, fmt.Errorf("unknown output format %q, expected table, json or yaml", outputFormat)
	}
}
