package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/blang/semver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/engine/enginetest"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

func TestExecutor_SkipMakesNoExternalCalls(t *testing.T) {
	rig := enginetest.NewRig()
	unit := engine.NewUnit("skipped", "charts/skipped")
	unit.Action = engine.ActionSkip
	chart := &payloadChart{CommonChart: engine.CommonChart{Unit: unit}, initial: engine.Payload{"k": "v"}}

	payload, err := engine.NewExecutor().Run(context.Background(), chart, rig.Runtime)

	require.NoError(t, err)
	assert.Equal(t, engine.Payload{"k": "v"}, payload)
	assert.Empty(t, rig.Release.Calls())
	assert.Empty(t, rig.Cluster.Calls())
}

func TestExecutor_DestroyAbsentReleaseIsNoop(t *testing.T) {
	rig := enginetest.NewRig()
	unit := engine.NewUnit("absent", "charts/absent")
	unit.Action = engine.ActionDestroy

	_, err := engine.NewExecutor().Run(context.Background(), engine.NewCommonChart(unit), rig.Runtime)

	require.NoError(t, err)
	assert.Equal(t, 1, rig.Release.Count("is_deployed:absent"))
	assert.Zero(t, rig.Release.Count("uninstall:absent"))
}

func TestExecutor_DestroyDeployedRelease(t *testing.T) {
	rig := enginetest.NewRig()
	rig.Release.Deployed["present"] = true
	unit := engine.NewUnit("present", "charts/present")
	unit.Action = engine.ActionDestroy

	_, err := engine.NewExecutor().Run(context.Background(), engine.NewCommonChart(unit), rig.Runtime)

	require.NoError(t, err)
	assert.Equal(t, 1, rig.Release.Count("uninstall:present"))
	assert.False(t, rig.Release.Deployed["present"])
}

func TestExecutor_DeployTwiceIsIdempotent(t *testing.T) {
	rig := enginetest.NewRig()
	unit := engine.NewUnit("app", "charts/app")
	unit.Values = []engine.SetValue{{Key: "replicas", Value: "2"}}
	chart := engine.NewCommonChart(unit)

	_, err := engine.NewExecutor().Run(context.Background(), chart, rig.Runtime)
	require.NoError(t, err)
	_, err = engine.NewExecutor().Run(context.Background(), chart, rig.Runtime)
	require.NoError(t, err)

	assert.Equal(t, 2, rig.Release.Count("upgrade:app"))
	assert.Equal(t, 1, rig.Release.Revision("app"))
}

func TestExecutor_PreExecCleansCrashLoopingPods(t *testing.T) {
	rig := enginetest.NewRig()
	unit := engine.NewUnit("Metrics-Server", "charts/metrics-server")

	_, err := engine.NewExecutor().Run(context.Background(), engine.NewCommonChart(unit), rig.Runtime)

	require.NoError(t, err)
	assert.Contains(t, rig.Cluster.Calls(), "delete_crashloop:kube-system:app=metrics-server")
}

func TestExecutor_MissingValuesFile(t *testing.T) {
	rig := enginetest.NewRig()
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	unit := engine.NewUnit("cert-manager", "charts/cert-manager")
	unit.ValuesFiles = []string{missing}

	_, err := engine.NewExecutor().Run(context.Background(), engine.NewCommonChart(unit), rig.Runtime)

	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeValidation, engine.CodeOf(err))
	assert.Contains(t, engine.SafeMessageOf(err), "Can't access helm chart override file "+missing+" for chart cert-manager")

	var engineErr *engine.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, engine.PhaseCheckPrerequisites, engineErr.Stage)
	assert.Equal(t, "cert-manager", engineErr.Unit)
	assert.Empty(t, rig.Release.Calls())
}

func TestExecutor_ReadableValuesFile(t *testing.T) {
	rig := enginetest.NewRig()
	file := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(file, []byte("replicas: 1\n"), 0o600))
	unit := engine.NewUnit("cert-manager", "charts/cert-manager")
	unit.ValuesFiles = []string{file}

	_, err := engine.NewExecutor().Run(context.Background(), engine.NewCommonChart(unit), rig.Runtime)

	require.NoError(t, err)
	assert.Equal(t, 1, rig.Release.Count("upgrade:cert-manager"))
}

func TestExecutor_BreakingVersionDestroysBeforeUpgrade(t *testing.T) {
	rig := enginetest.NewRig()
	rig.Release.Deployed["coredns"] = true
	rig.Release.SetHistory("coredns",
		engine.HistoryEntry{Revision: 1, Status: engine.ReleaseStatusDeployed, Chart: "coredns-config-0.1.0"},
	)
	unit := engine.NewUnit("coredns", "charts/coredns")
	marker := semver.MustParse("0.2.0")
	unit.BreakingVersion = &marker

	_, err := engine.NewExecutor().Run(context.Background(), engine.NewCommonChart(unit), rig.Runtime)

	require.NoError(t, err)
	calls := rig.Release.Calls()
	assert.Equal(t, []string{"history:coredns", "uninstall:coredns", "upgrade:coredns"}, calls)
}

func TestExecutor_BreakingVersionDestroyFailureDoesNotAbortUpgrade(t *testing.T) {
	rig := enginetest.NewRig()
	rig.Release.SetHistory("coredns",
		engine.HistoryEntry{Revision: 1, Status: engine.ReleaseStatusDeployed, Chart: "coredns-0.1.0"},
	)
	rig.Release.UninstallErr["coredns"] = engine.NewExternalToolError("uninstall failed", "stderr", nil)
	unit := engine.NewUnit("coredns", "charts/coredns")
	marker := semver.MustParse("1.0.0")
	unit.BreakingVersion = &marker

	_, err := engine.NewExecutor().Run(context.Background(), engine.NewCommonChart(unit), rig.Runtime)

	require.NoError(t, err)
	assert.Equal(t, 1, rig.Release.Count("uninstall:coredns"))
	assert.Equal(t, 1, rig.Release.Count("upgrade:coredns"))
	assert.NotEmpty(t, rig.Events.AtLevel(telemetry.LogLevelWarning))
}

func TestExecutor_BreakingVersionNotReached(t *testing.T) {
	rig := enginetest.NewRig()
	rig.Release.SetHistory("coredns",
		engine.HistoryEntry{Revision: 1, Status: engine.ReleaseStatusDeployed, Chart: "coredns-1.2.0"},
		engine.HistoryEntry{Revision: 2, Status: engine.ReleaseStatusFailed, Chart: "coredns-0.1.0"},
	)
	unit := engine.NewUnit("coredns", "charts/coredns")
	marker := semver.MustParse("1.0.0")
	unit.BreakingVersion = &marker

	_, err := engine.NewExecutor().Run(context.Background(), engine.NewCommonChart(unit), rig.Runtime)

	require.NoError(t, err)
	assert.Zero(t, rig.Release.Count("uninstall:coredns"))
}

func TestExecutor_ExecFailureCapturesEvents(t *testing.T) {
	rig := enginetest.NewRig()
	rig.Cluster.Warnings = []engine.ClusterEvent{{Type: "Warning", Reason: "BackOff", Object: "pod/app-0", Message: "restarting", Count: 3}}
	rig.Release.UpgradeErr["app"] = engine.NewExternalToolError("helm upgrade failed", "Error: timed out", nil)
	unit := engine.NewUnit("app", "charts/app")

	_, err := engine.NewExecutor().Run(context.Background(), engine.NewCommonChart(unit), rig.Runtime)

	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeExternalTool, engine.CodeOf(err))
	assert.Contains(t, rig.Cluster.Calls(), "events:kube-system")

	var engineErr *engine.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, engine.PhaseExecute, engineErr.Stage)

	warnings := rig.Events.AtLevel(telemetry.LogLevelWarning)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message.FullDetails, "BackOff")
}

func TestExecutor_FailureHookErrorReplacesExecError(t *testing.T) {
	rig := enginetest.NewRig()
	rig.Cluster.EventsErr = engine.NewTimeoutError("events timed out", nil)
	rig.Release.UpgradeErr["app"] = engine.NewExternalToolError("helm upgrade failed", "", nil)

	_, err := engine.NewExecutor().Run(context.Background(), engine.NewCommonChart(engine.NewUnit("app", "charts/app")), rig.Runtime)

	require.Error(t, err)
	assert.True(t, engine.IsTimeout(err))
	var engineErr *engine.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, engine.PhaseOnDeployFailure, engineErr.Stage)
}

func TestExecutor_PreExecFailureSkipsExec(t *testing.T) {
	rig := enginetest.NewRig()
	unit := engine.NewUnit("coredns", "charts/coredns")
	chart := engine.NewConfigReloadChart(unit, "Corefile")

	_, err := engine.NewExecutor().Run(context.Background(), chart, rig.Runtime)

	require.Error(t, err)
	assert.True(t, engine.IsNotFound(err))
	assert.Zero(t, rig.Release.Count("upgrade:coredns"))
}

func TestExecutor_PayloadThreading(t *testing.T) {
	rig := enginetest.NewRig()
	chart := &payloadChart{CommonChart: engine.CommonChart{Unit: engine.NewUnit("p", "charts/p")}, initial: engine.Payload{"checksum": "1"}}

	payload, err := engine.NewExecutor().Run(context.Background(), chart, rig.Runtime)

	require.NoError(t, err)
	assert.Equal(t, engine.Payload{"checksum": "1"}, chart.seenInPost)
	assert.Equal(t, engine.Payload{"checksum": "1", "post": "done"}, payload)
}

func TestExecutor_NonEngineErrorIsAnnotated(t *testing.T) {
	rig := enginetest.NewRig()
	chart := enginetest.NewFuncChart("plain", func(context.Context) error { return errors.New("boom") })

	_, err := engine.NewExecutor().Run(context.Background(), chart, rig.Runtime)

	require.Error(t, err)
	var engineErr *engine.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, engine.ErrCodeInternal, engineErr.Code)
	assert.Equal(t, "plain", engineErr.Unit)
	assert.Equal(t, engine.PhaseExecute, engineErr.Stage)
	assert.Equal(t, "internal engine error", engine.SafeMessageOf(errors.New("x")))
}

// payloadChart returns a payload from PreExec and records what PostExec saw.
type payloadChart struct {
	engine.CommonChart
	initial    engine.Payload
	seenInPost engine.Payload
}

func (c *payloadChart) PreExec(_ context.Context, _ *engine.Runtime, _ engine.Payload) (engine.Payload, error) {
	return c.initial.Clone(), nil
}

func (c *payloadChart) PostExec(_ context.Context, _ *engine.Runtime, payload engine.Payload) (engine.Payload, error) {
	if c.Unit.Action == engine.ActionSkip {
		return payload, nil
	}
	c.seenInPost = payload.Clone()
	out := payload.Clone()
	out["post"] = "done"
	return out, nil
}
