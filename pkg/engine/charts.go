package engine

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// CommonChart implements the default behaviour of every lifecycle phase.
// Specialized charts embed it and override individual phases.
type CommonChart struct {
	Unit *Unit
}

// NewCommonChart wraps a unit with the default lifecycle.
func NewCommonChart(unit *Unit) *CommonChart {
	return &CommonChart{Unit: unit}
}

// Info returns the unit definition.
func (c *CommonChart) Info() *Unit {
	return c.Unit
}

// CheckPrerequisites verifies that every declared values file is readable.
func (c *CommonChart) CheckPrerequisites(_ context.Context) (Payload, error) {
	for _, file := range c.Unit.ValuesFiles {
		f, err := os.Open(file)
		if err != nil {
			return nil, NewValidationError(
				fmt.Sprintf("Can't access helm chart override file %s for chart %s", file, c.Unit.Name),
				err,
			).WithUnit(c.Unit.Name)
		}
		_ = f.Close()
	}
	return nil, nil
}

// PreExec removes crash-looping pods of the release so they do not
// interfere with diffing or rollout.
func (c *CommonChart) PreExec(ctx context.Context, rt *Runtime, payload Payload) (Payload, error) {
	if c.Unit.Action == ActionSkip {
		return payload, nil
	}
	if err := rt.Tools.Cluster.DeleteCrashLoopingPods(ctx, rt.Env, c.Unit.NamespaceName(), c.Unit.Selector()); err != nil {
		return nil, err
	}
	return payload, nil
}

// Exec runs the action of the unit.
func (c *CommonChart) Exec(ctx context.Context, rt *Runtime, payload Payload) (Payload, error) {
	switch c.Unit.Action {
	case ActionDeploy:
		return payload, deployRelease(ctx, rt, c.Unit)
	case ActionDestroy:
		_, err := destroyRelease(ctx, rt, c.Unit)
		return payload, err
	default:
		return payload, nil
	}
}

// PostExec passes the payload through.
func (c *CommonChart) PostExec(_ context.Context, _ *Runtime, payload Payload) (Payload, error) {
	return payload, nil
}

// OnDeployFailure captures recent cluster events of the namespace so the
// failure can be diagnosed.
func (c *CommonChart) OnDeployFailure(ctx context.Context, rt *Runtime, payload Payload) (Payload, error) {
	events, err := rt.Tools.Cluster.Events(ctx, rt.Env, c.Unit.NamespaceName())
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		rt.Log(telemetry.LogLevelWarning, c.Unit, telemetry.NewEventMessage(
			fmt.Sprintf("cluster event in namespace %s", c.Unit.NamespaceName()),
			ev.String(),
		))
	}
	return payload, nil
}

// deployRelease upgrades the release, destroying it first when the deployed
// version predates the unit's breaking-change marker.
func deployRelease(ctx context.Context, rt *Runtime, u *Unit) error {
	if u.BreakingVersion != nil {
		if err := destroyIfBreakingVersion(ctx, rt, u); err != nil {
			// the upgrade below may still succeed or fail with a clearer error
			rt.Warn(u, fmt.Sprintf("error while trying to destroy chart %s on breaking version change", u.Name), err)
		}
	}
	return rt.Tools.Release.UpgradeInstall(ctx, rt.Env, u)
}

func destroyIfBreakingVersion(ctx context.Context, rt *Runtime, u *Unit) error {
	history, err := rt.Tools.Release.History(ctx, rt.Env, u.Name, u.NamespaceName())
	if err != nil {
		return err
	}
	latest, err := LatestSuccessfulDeployment(history)
	if err != nil {
		// nothing live to compare against
		return nil
	}
	deployed, err := latest.ChartVersion()
	if err != nil {
		return err
	}
	if !deployed.LT(*u.BreakingVersion) {
		return nil
	}
	rt.Infof(u, "chart %s deployed version %s is older than breaking version %s, destroying it before upgrade",
		u.Name, deployed, u.BreakingVersion)
	return rt.Tools.Release.Uninstall(ctx, rt.Env, u)
}

// destroyRelease uninstalls the release when it exists.
func destroyRelease(ctx context.Context, rt *Runtime, u *Unit) (bool, error) {
	deployed, err := rt.Tools.Release.IsDeployed(ctx, rt.Env, u.Name, u.NamespaceName())
	if err != nil {
		return false, err
	}
	if !deployed {
		rt.Infof(u, "chart %s is not deployed, nothing to destroy", u.Name)
		return false, nil
	}
	if err := rt.Tools.Release.Uninstall(ctx, rt.Env, u); err != nil {
		return false, err
	}
	return true, nil
}

// ChecksumKey is the payload key holding the pre-deployment checksum.
const ChecksumKey = "checksum"

// ConfigReloadChart deploys a chart that owns shared configuration whose
// consumers do not pick up changes on their own. The live configuration is
// hashed before and after the upgrade and the consumer workload is restarted
// only when it changed.
type ConfigReloadChart struct {
	CommonChart

	// ConfigMap is the name of the watched config map (defaults to the unit name).
	ConfigMap string

	// Key is the watched entry inside the config map.
	Key string

	// Workload is the deployment restarted on change (defaults to the unit name).
	Workload string
}

// NewConfigReloadChart returns a chart watching key in the config map named after the unit.
func NewConfigReloadChart(unit *Unit, key string) *ConfigReloadChart {
	return &ConfigReloadChart{CommonChart: CommonChart{Unit: unit}, Key: key}
}

func (c *ConfigReloadChart) configMapName() string {
	if c.ConfigMap != "" {
		return c.ConfigMap
	}
	return c.Unit.Name
}

func (c *ConfigReloadChart) workloadName() string {
	if c.Workload != "" {
		return c.Workload
	}
	return c.Unit.Name
}

func (c *ConfigReloadChart) checksum(ctx context.Context, rt *Runtime) (string, error) {
	data, err := rt.Tools.Cluster.GetConfigMap(ctx, rt.Env, c.Unit.NamespaceName(), c.configMapName())
	if err != nil {
		return "", err
	}
	value, ok := data[c.Key]
	if !ok {
		return "", NewValidationError(
			fmt.Sprintf("%s data structure is not found in %s configmap", c.Key, c.configMapName()), nil,
		).WithUnit(c.Unit.Name)
	}
	return strconv.FormatUint(xxhash.Sum64String(value), 10), nil
}

// PreExec records the checksum of the live configuration and hands the
// config map over to the release tool.
func (c *ConfigReloadChart) PreExec(ctx context.Context, rt *Runtime, payload Payload) (Payload, error) {
	if c.Unit.Action == ActionSkip {
		return payload, nil
	}
	ns := c.Unit.NamespaceName()
	if err := rt.Tools.Cluster.DeleteCrashLoopingPods(ctx, rt.Env, ns, c.Unit.Selector()); err != nil {
		return nil, err
	}

	sum, err := c.checksum(ctx, rt)
	if err != nil {
		return nil, err
	}
	out := payload.Clone()
	if out == nil {
		out = make(Payload, 1)
	}
	out[ChecksumKey] = sum

	rt.Infof(c.Unit, "setting annotations and labels on configmap/%s", c.configMapName())
	if err := rt.Tools.Cluster.Annotate(ctx, rt.Env, ns, "configmap", c.configMapName(), map[string]string{
		"meta.helm.sh/release-name":      c.Unit.Name,
		"meta.helm.sh/release-namespace": ns,
	}); err != nil {
		return nil, err
	}
	if err := rt.Tools.Cluster.Label(ctx, rt.Env, ns, "configmap", c.configMapName(), map[string]string{
		"app.kubernetes.io/managed-by": "Helm",
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// Exec refuses to deploy without the checksum computed by PreExec.
func (c *ConfigReloadChart) Exec(ctx context.Context, rt *Runtime, payload Payload) (Payload, error) {
	if c.Unit.Action == ActionDeploy {
		if _, ok := payload[ChecksumKey]; !ok {
			return nil, NewValidationError(
				fmt.Sprintf("%s configmap checksum couldn't be computed, can't deploy chart %s", c.configMapName(), c.Unit.Name), nil,
			).WithUnit(c.Unit.Name)
		}
	}
	return c.CommonChart.Exec(ctx, rt, payload)
}

// PostExec restarts the workload when the configuration changed.
func (c *ConfigReloadChart) PostExec(ctx context.Context, rt *Runtime, payload Payload) (Payload, error) {
	if c.Unit.Action != ActionDeploy {
		return payload, nil
	}
	previous, ok := payload[ChecksumKey]
	if !ok {
		return nil, NewValidationError(
			fmt.Sprintf("missing configmap checksum, can't check %s update", c.Unit.Name), nil,
		).WithUnit(c.Unit.Name)
	}
	current, err := c.checksum(ctx, rt)
	if err != nil {
		return nil, err
	}
	if previous == current {
		rt.Infof(c.Unit, "no %s config change detected, nothing to restart", c.Unit.Name)
		return payload, nil
	}

	rt.Infof(c.Unit, "%s config change detected, proceed to config reload", c.Unit.Name)
	if err := rt.Tools.Cluster.RolloutRestart(ctx, rt.Env, c.Unit.NamespaceName(), WorkloadDeployment, c.workloadName()); err != nil {
		return nil, err
	}
	return payload, nil
}

// PrometheusOperatorCRDs are the CRDs left behind by the prometheus operator chart.
var PrometheusOperatorCRDs = []string{
	"prometheuses.monitoring.coreos.com",
	"prometheusrules.monitoring.coreos.com",
	"servicemonitors.monitoring.coreos.com",
	"podmonitors.monitoring.coreos.com",
	"alertmanagers.monitoring.coreos.com",
	"thanosrulers.monitoring.coreos.com",
}

// CRDCleanupChart is a chart whose CRDs survive an uninstall and must be
// removed explicitly on destroy.
type CRDCleanupChart struct {
	CommonChart
	CRDs []string
}

// NewCRDCleanupChart returns a chart that deletes crds on destroy.
func NewCRDCleanupChart(unit *Unit, crds []string) *CRDCleanupChart {
	return &CRDCleanupChart{CommonChart: CommonChart{Unit: unit}, CRDs: crds}
}

// Exec destroys the release and its CRDs, or behaves like CommonChart.
// The CRDs of a release that is not deployed are left alone.
func (c *CRDCleanupChart) Exec(ctx context.Context, rt *Runtime, payload Payload) (Payload, error) {
	if c.Unit.Action != ActionDestroy {
		return c.CommonChart.Exec(ctx, rt, payload)
	}
	uninstalled, err := destroyRelease(ctx, rt, c.Unit)
	if err != nil || !uninstalled {
		return payload, err
	}
	for _, crd := range c.CRDs {
		if err := rt.Tools.Cluster.DeleteCRD(ctx, rt.Env, crd); err != nil {
			return nil, err
		}
	}
	return payload, nil
}
