package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployengine/pkg/engine"
)

func newApplication() *Application {
	return &Application{
		Meta:         Meta{ResourceID: "a1b2c3", ResourceName: "My_API"},
		CommitID:     "abcdef0123456789",
		Image:        "api",
		Ports:        []Port{{Port: 8080, Public: true, Protocol: "HTTP"}},
		MinInstances: 1,
		MaxInstances: 3,
		StartTimeout: 60 * time.Second,
	}
}

func TestApplication_Identity(t *testing.T) {
	app := newApplication()

	assert.Equal(t, "application-My_API-a1b2c3", app.ReleaseName())
	assert.Equal(t, "appId=a1b2c3", app.Selector())
	assert.Equal(t, "app-my-api", app.SanitizedName())
	assert.Equal(t, "abcdef0123456789", app.Version())
	assert.Equal(t, 280*time.Second, app.DeployTimeout())
	assert.False(t, app.Capabilities().Stateful)

	long := newApplication()
	long.ResourceName = strings.Repeat("x", 60)
	assert.Len(t, long.ReleaseName(), 50)

	var unset Application
	assert.Equal(t, (DefaultStartTimeout+10*time.Second)*4, unset.DeployTimeout())
}

func TestApplication_CreateDeploysRenderedRelease(t *testing.T) {
	rig := newServiceRig()
	app := newApplication()

	err := NewDriver(rig.target).Create(context.Background(), app)

	require.NoError(t, err)
	unit := rig.Release.Unit(app.ReleaseName())
	require.NotNil(t, unit)
	assert.Equal(t, "env-42", unit.NamespaceName())
	assert.Equal(t, "/charts/application", unit.Path)
	assert.Equal(t, app.DeployTimeout(), unit.Timeout)
	require.Len(t, unit.GeneratedValues, 1)
	assert.Equal(t, GeneratedValuesFile, unit.GeneratedValues[0].Filename)
	assert.Contains(t, unit.GeneratedValues[0].Content, "helm_app_version: abcdef0")
	assert.Contains(t, unit.GeneratedValues[0].Content, "container_registry_url: registry.example.dev")
	assert.Empty(t, rig.warnings())
}

func TestApplication_MissingRegistryIsWarning(t *testing.T) {
	rig := newServiceRig()
	rig.target.Cluster.RegistryURL = ""

	err := NewDriver(rig.target).Create(context.Background(), newApplication())

	require.NoError(t, err)
	require.Len(t, rig.warnings(), 1)
}

func TestApplication_CreateCheckRejectsInvertedBounds(t *testing.T) {
	rig := newServiceRig()
	app := newApplication()
	app.MinInstances = 4

	err := NewDriver(rig.target).Create(context.Background(), app)

	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeValidation, engine.CodeOf(err))
	assert.Zero(t, rig.Release.Count("upgrade:"+app.ReleaseName()))
}

func TestApplication_CreateFailureCleansFailedRelease(t *testing.T) {
	rig := newServiceRig()
	app := newApplication()
	rig.Release.UpgradeErr[app.ReleaseName()] = engine.NewExternalToolError("helm upgrade failed", "Error: timed out", nil)
	rig.Release.SetHistory(app.ReleaseName(), engine.HistoryEntry{Revision: 1, Status: engine.ReleaseStatusFailed})

	err := NewDriver(rig.target).Create(context.Background(), app)

	require.Error(t, err)
	assert.Contains(t, engine.SafeMessageOf(err), "helm upgrade failed")
	assert.Equal(t, 1, rig.Release.Count("uninstall:"+app.ReleaseName()))
}

func TestApplication_CreateFailureKeepsHealthyRelease(t *testing.T) {
	rig := newServiceRig()
	app := newApplication()
	rig.Release.UpgradeErr[app.ReleaseName()] = engine.NewExternalToolError("helm upgrade failed", "", nil)
	rig.Release.SetHistory(app.ReleaseName(), engine.HistoryEntry{Revision: 3, Status: engine.ReleaseStatusDeployed})

	require.Error(t, NewDriver(rig.target).Create(context.Background(), app))
	assert.Zero(t, rig.Release.Count("uninstall:"+app.ReleaseName()))
}

func TestApplication_PauseScalesDeployment(t *testing.T) {
	rig := newServiceRig()
	app := newApplication()
	rig.Cluster.SetReplicas(engine.WorkloadDeployment, app.Selector(), 2)

	require.NoError(t, NewDriver(rig.target).Pause(context.Background(), app))

	assert.Equal(t, 1, rig.Cluster.Count("scale:deployment/appId=a1b2c3=0"))
}

func TestApplication_PauseIsIdempotent(t *testing.T) {
	rig := newServiceRig()
	app := newApplication()
	rig.Cluster.SetReplicas(engine.WorkloadDeployment, app.Selector(), 2)
	driver := NewDriver(rig.target)

	require.NoError(t, driver.Pause(context.Background(), app))
	require.NoError(t, driver.Pause(context.Background(), app))

	assert.Equal(t, 1, rig.Cluster.Count("scale:deployment/appId=a1b2c3=0"))
	assert.Equal(t, 2, rig.Cluster.Count("replicas:deployment/appId=a1b2c3"))
}

func TestApplication_PauseWithStorageScalesStatefulSet(t *testing.T) {
	rig := newServiceRig()
	app := newApplication()
	app.Storage = []Storage{{ID: "s1", Name: "data", SizeInGiB: 10, MountPoint: "/data"}}
	rig.Cluster.SetReplicas(engine.WorkloadStatefulSet, app.Selector(), 1)

	require.NoError(t, NewDriver(rig.target).Pause(context.Background(), app))

	assert.True(t, app.Capabilities().Stateful)
	assert.Equal(t, 1, rig.Cluster.Count("scale:statefulset/appId=a1b2c3=0"))
}

func TestApplication_DeleteKeepsVolumes(t *testing.T) {
	rig := newServiceRig()
	app := newApplication()
	rig.Release.Deployed[app.ReleaseName()] = true

	require.NoError(t, NewDriver(rig.target).Delete(context.Background(), app))

	assert.Equal(t, 1, rig.Release.Count("uninstall:"+app.ReleaseName()))
	assert.Zero(t, rig.Cluster.Count("delete:pvc:appId=a1b2c3"))
}

func TestApplication_DeleteFailureRunsFinalDelete(t *testing.T) {
	rig := newServiceRig()
	app := newApplication()
	rig.Release.Deployed[app.ReleaseName()] = true
	rig.Release.UninstallErr[app.ReleaseName()] = engine.NewConflictError("another operation is in progress", nil)

	err := NewDriver(rig.target).Delete(context.Background(), app)

	require.Error(t, err)
	assert.True(t, engine.IsConflict(errors.Unwrap(err)))
	// the error hook retried in final mode and failed the same way
	assert.Equal(t, 2, rig.Release.Count("uninstall:"+app.ReleaseName()))
	assert.Len(t, rig.warnings(), 1)
}

func TestApplication_FinalDeleteRemovesVolumes(t *testing.T) {
	rig := newServiceRig()
	app := newApplication()

	require.NoError(t, app.OnDeleteError(context.Background(), rig.target))

	assert.Equal(t, 1, rig.Cluster.Count("delete:pvc:appId=a1b2c3"))
}
