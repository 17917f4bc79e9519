package service

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// runtime returns the chart runtime of the target.
func (t *Target) runtime() *engine.Runtime {
	if t.Runtime == nil {
		return &engine.Runtime{}
	}
	return t.Runtime
}

// releaseUnit returns the chart unit of a resource release.
func releaseUnit(res Resource, t *Target, chartPath string, timeout time.Duration) *engine.Unit {
	return engine.NewCustomNamespaceUnit(res.ReleaseName(), chartPath, t.Namespace, timeout, nil)
}

// deployRelease installs or upgrades the release of res with the rendered
// values, through the leveled deployer as a single-chart batch.
func deployRelease(ctx context.Context, t *Target, res Resource, chartPath string, timeout time.Duration, files []engine.GeneratedValues) error {
	unit := releaseUnit(res, t, chartPath, timeout)
	unit.GeneratedValues = files
	return t.deployer().Deploy(ctx, engine.Levels{{engine.NewCommonChart(unit)}}, t.runtime(), false)
}

// deleteRelease uninstalls the release of res. A final delete also removes
// the persistent volume claims of the resource.
func deleteRelease(ctx context.Context, t *Target, res Resource, chartPath string, final bool) error {
	unit := releaseUnit(res, t, chartPath, 0)
	unit.Action = engine.ActionDestroy
	if err := t.deployer().Deploy(ctx, engine.Levels{{engine.NewCommonChart(unit)}}, t.runtime(), false); err != nil {
		return err
	}
	if !final {
		return nil
	}
	t.infof(res, telemetry.StepDelete, "deleting persistent volumes of %s", res.Name())
	return t.tools().Cluster.DeleteBySelector(ctx, t.env(), t.Namespace, "pvc", res.Selector())
}

// scaleDown scales the workloads of res to zero. Pausing a workload that
// already runs no replica is a no-op.
func scaleDown(ctx context.Context, t *Target, res Resource, kind engine.WorkloadKind) error {
	cluster := t.tools().Cluster
	current, err := cluster.Replicas(ctx, t.env(), t.Namespace, kind, res.Selector())
	if err != nil {
		return err
	}
	if current == 0 {
		t.infof(res, telemetry.StepPause, "%s %s is already paused", res.Capabilities().Kind, res.Name())
		return nil
	}
	t.infof(res, telemetry.StepPause, "scaling down %s %s from %d replicas", kind, res.Selector(), current)
	return cluster.Scale(ctx, t.env(), t.Namespace, kind, res.Selector(), 0)
}

// cleanupFailedRelease uninstalls the release of res when its latest
// revision failed, so the next create starts from a clean state.
func cleanupFailedRelease(ctx context.Context, t *Target, res Resource, chartPath string) error {
	release := t.tools().Release
	history, err := release.History(ctx, t.env(), res.ReleaseName(), t.Namespace)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}
	latest := history[len(history)-1]
	if latest.Status != engine.ReleaseStatusFailed && latest.Status != engine.ReleaseStatusPendingInstall {
		return nil
	}
	t.warn(res, telemetry.StepDeploy, fmt.Sprintf("removing release %s left in %s state", res.ReleaseName(), latest.Status), nil)
	unit := releaseUnit(res, t, chartPath, 0)
	return release.Uninstall(ctx, t.env(), unit)
}

// latestRevisionDeployed fails unless the newest revision of the release
// of res is deployed.
func latestRevisionDeployed(ctx context.Context, t *Target, res Resource) error {
	history, err := t.tools().Release.History(ctx, t.env(), res.ReleaseName(), t.Namespace)
	if err != nil {
		return err
	}
	if len(history) > 0 && history[len(history)-1].IsSuccessfullyDeployed() {
		return nil
	}
	status := "absent"
	if len(history) > 0 {
		status = history[len(history)-1].Status
	}
	return engine.NewPermanentError(fmt.Sprintf("%s %s failed to deploy", res.Capabilities().Kind, res.Name()), nil).
		WithCode(ErrCodeRouterFailedToDeploy).
		WithResource(res.ID()).
		WithFullDetails(fmt.Sprintf("latest revision of release %s is %s", res.ReleaseName(), status))
}
