package release

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/blang/semver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployengine/pkg/command"
	"github.com/openfroyo/deployengine/pkg/command/commandtest"
	"github.com/openfroyo/deployengine/pkg/engine"
)

var testEnv = engine.Environment{Kubeconfig: "/tmp/kubeconfig", KubeContext: "prod"}

func TestHelm_UpgradeInstallArgs(t *testing.T) {
	runner := commandtest.NewRunner()
	h := NewWithRunner("helm", runner)

	unit := engine.NewCustomNamespaceUnit("app", "charts/app", "env-1", 60*time.Second, []string{"values.yaml"})
	unit.ForceUpgrade = true
	unit.Values = []engine.SetValue{{Key: "replicas", Value: "2"}, {Key: "image.tag", Value: "abc"}}

	require.NoError(t, h.UpgradeInstall(context.Background(), testEnv, unit))

	cmd := runner.Last()
	line := strings.Join(cmd.Args, " ")
	assert.Equal(t, "helm", cmd.Binary)
	assert.True(t, strings.HasPrefix(line, "upgrade --install app charts/app --namespace env-1 --create-namespace --timeout 60s"))
	assert.Contains(t, line, "--atomic --force --wait")
	assert.NotContains(t, line, "--dry-run")
	assert.Contains(t, line, "-f values.yaml --set replicas=2 --set image.tag=abc")
	assert.True(t, strings.HasSuffix(line, "--kube-context prod"))
	assert.Contains(t, cmd.Env, "KUBECONFIG=/tmp/kubeconfig")
	assert.Equal(t, 90*time.Second, cmd.Timeout)
}

func TestHelm_GeneratedValuesAreWrittenAndRemoved(t *testing.T) {
	runner := commandtest.NewRunner()
	var generated []string
	runner.OnRun = func(cmd command.Command) {
		for i, arg := range cmd.Args {
			if arg == "-f" && i+1 < len(cmd.Args) {
				content, err := os.ReadFile(cmd.Args[i+1])
				require.NoError(t, err)
				generated = append(generated, cmd.Args[i+1]+"="+string(content))
			}
		}
	}
	h := NewWithRunner("helm", runner)
	unit := engine.NewUnit("router", "charts/router")
	unit.GeneratedValues = []engine.GeneratedValues{{Filename: "../escape/values.yaml", Content: "domain: a.example.com\n"}}

	require.NoError(t, h.UpgradeInstall(context.Background(), engine.Environment{}, unit))

	require.Len(t, generated, 1)
	assert.Contains(t, generated[0], "00-values.yaml=domain: a.example.com")
	path := strings.SplitN(generated[0], "=", 2)[0]
	assert.NotContains(t, path, "escape")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestHelm_UpgradeFailureIsClassified(t *testing.T) {
	runner := commandtest.NewRunner().On("upgrade --install app", commandtest.Response{
		ExitCode: 1,
		Stderr:   "Error: UPGRADE FAILED: timed out waiting for the condition",
	})
	h := NewWithRunner("helm", runner)

	err := h.UpgradeInstall(context.Background(), engine.Environment{}, engine.NewUnit("app", "charts/app"))

	require.Error(t, err)
	assert.True(t, engine.IsTimeout(err))
	assert.Equal(t, "helm upgrade failed for release app: timed out", engine.SafeMessageOf(err))
}

func TestHelm_StderrErrorWithZeroExit(t *testing.T) {
	runner := commandtest.NewRunner().On("upgrade", commandtest.Response{
		Stderr: "Error: unable to build kubernetes objects",
	})
	h := NewWithRunner("helm", runner)
	unit := engine.NewUnit("app", "charts/app")

	err := h.UpgradeInstall(context.Background(), engine.Environment{}, unit)
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeExternalTool, engine.CodeOf(err))

	unit.ParseStderrForError = false
	assert.NoError(t, h.UpgradeInstall(context.Background(), engine.Environment{}, unit))
}

func TestHelm_UninstallAbsentRelease(t *testing.T) {
	runner := commandtest.NewRunner().On("uninstall app", commandtest.Response{
		ExitCode: 1,
		Stderr:   "Error: uninstall: Release not loaded: app: release: not found",
	})
	h := NewWithRunner("helm", runner)

	assert.NoError(t, h.Uninstall(context.Background(), engine.Environment{}, engine.NewUnit("app", "charts/app")))
	assert.Contains(t, runner.Lines()[0], "uninstall app --namespace kube-system --wait --timeout 180s")
}

func TestHelm_IsDeployed(t *testing.T) {
	runner := commandtest.NewRunner().
		On("list --all --namespace apps --filter ^app$", commandtest.Response{
			Stdout: `[{"name":"app","namespace":"apps","status":"failed"}]`,
		}).
		On("list --all --namespace apps --filter ^other$", commandtest.Response{Stdout: "[]"})
	h := NewWithRunner("helm", runner)

	deployed, err := h.IsDeployed(context.Background(), engine.Environment{}, "app", "apps")
	require.NoError(t, err)
	assert.True(t, deployed)

	deployed, err = h.IsDeployed(context.Background(), engine.Environment{}, "other", "apps")
	require.NoError(t, err)
	assert.False(t, deployed)
}

func TestHelm_IsDeployedMalformedOutput(t *testing.T) {
	runner := commandtest.NewRunner().On("list", commandtest.Response{Stdout: "not json"})
	h := NewWithRunner("helm", runner)

	_, err := h.IsDeployed(context.Background(), engine.Environment{}, "app", "apps")
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeExternalTool, engine.CodeOf(err))
}

func TestHelm_History(t *testing.T) {
	runner := commandtest.NewRunner().On("history coredns", commandtest.Response{Stdout: `[
		{"revision":2,"updated":"2024-01-02","status":"failed","chart":"coredns-config-0.2.0","app_version":"1.0","description":"Upgrade failed"},
		{"revision":1,"updated":"2024-01-01","status":"deployed","chart":"coredns-config-0.1.0","app_version":"1.0","description":"Install complete"}
	]`})
	h := NewWithRunner("helm", runner)

	history, err := h.History(context.Background(), engine.Environment{}, "coredns", "kube-system")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Revision)

	latest, err := engine.LatestSuccessfulDeployment(history)
	require.NoError(t, err)
	v, err := latest.ChartVersion()
	require.NoError(t, err)
	assert.True(t, v.Equals(semver.MustParse("0.1.0")))
}

func TestHelm_HistoryOfUnknownRelease(t *testing.T) {
	runner := commandtest.NewRunner().On("history", commandtest.Response{ExitCode: 1, Stderr: "Error: release: not found"})
	h := NewWithRunner("helm", runner)

	history, err := h.History(context.Background(), engine.Environment{}, "app", "apps")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHelm_Diff(t *testing.T) {
	runner := commandtest.NewRunner().
		On("template app", commandtest.Response{Stdout: "kind: Deployment\nreplicas: 2\n"}).
		On("get manifest app", commandtest.Response{Stdout: "kind: Deployment\nreplicas: 1\n"})
	h := NewWithRunner("helm", runner)

	diff, err := h.Diff(context.Background(), engine.Environment{}, engine.NewUnit("app", "charts/app"))

	require.NoError(t, err)
	assert.Contains(t, diff, "--- live/app")
	assert.Contains(t, diff, "+++ desired/app")
	assert.Contains(t, diff, "-replicas: 1")
	assert.Contains(t, diff, "+replicas: 2")
}

func TestHelm_DiffNewRelease(t *testing.T) {
	runner := commandtest.NewRunner().
		On("template app", commandtest.Response{Stdout: "kind: Service\n"}).
		On("get manifest app", commandtest.Response{ExitCode: 1, Stderr: "Error: release: not found"})
	h := NewWithRunner("helm", runner)

	diff, err := h.Diff(context.Background(), engine.Environment{}, engine.NewUnit("app", "charts/app"))

	require.NoError(t, err)
	assert.Contains(t, diff, "+kind: Service")
}

func TestUnifiedDiff_Identical(t *testing.T) {
	diff, err := UnifiedDiff("app", "a: 1\n", "a: 1\n")
	require.NoError(t, err)
	assert.Empty(t, diff)
}
