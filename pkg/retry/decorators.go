package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// Reporter turns retries into warning events and metrics.
type Reporter struct {
	Events  telemetry.EventLogger
	Details telemetry.EventDetails
	Metrics *telemetry.Metrics
}

// Observe returns p with OnRetry reporting through r.
func (r Reporter) Observe(p Policy) Policy {
	p.OnRetry = func(operation string, attempt int, err error, wait time.Duration) {
		r.Metrics.RecordRetry(operation)
		if r.Events == nil {
			return
		}
		r.Events.Log(telemetry.LogLevelWarning, telemetry.NewEngineEvent(
			r.Details,
			telemetry.NewEventMessage(
				fmt.Sprintf("%s failed (attempt %d), retrying in %s", operation, attempt, wait),
				err.Error(),
			),
		))
	}
	return p
}

// ReleaseTool retries the idempotent operations of a release tool.
// UpgradeInstall is never retried: a half-applied upgrade must surface.
type ReleaseTool struct {
	inner  engine.ReleaseTool
	policy Policy
}

// NewReleaseTool wraps inner.
func NewReleaseTool(inner engine.ReleaseTool, policy Policy, reporter Reporter) *ReleaseTool {
	return &ReleaseTool{inner: inner, policy: reporter.Observe(policy)}
}

func (t *ReleaseTool) UpgradeInstall(ctx context.Context, env engine.Environment, unit *engine.Unit) error {
	return t.inner.UpgradeInstall(ctx, env, unit)
}

func (t *ReleaseTool) Uninstall(ctx context.Context, env engine.Environment, unit *engine.Unit) error {
	return Do(ctx, t.policy, "helm uninstall "+unit.Name, func(ctx context.Context) error {
		return t.inner.Uninstall(ctx, env, unit)
	})
}

func (t *ReleaseTool) IsDeployed(ctx context.Context, env engine.Environment, name, namespace string) (bool, error) {
	return Value(ctx, t.policy, "helm status "+name, func(ctx context.Context) (bool, error) {
		return t.inner.IsDeployed(ctx, env, name, namespace)
	})
}

func (t *ReleaseTool) Diff(ctx context.Context, env engine.Environment, unit *engine.Unit) (string, error) {
	return Value(ctx, t.policy, "helm diff "+unit.Name, func(ctx context.Context) (string, error) {
		return t.inner.Diff(ctx, env, unit)
	})
}

func (t *ReleaseTool) History(ctx context.Context, env engine.Environment, name, namespace string) ([]engine.HistoryEntry, error) {
	return Value(ctx, t.policy, "helm history "+name, func(ctx context.Context) ([]engine.HistoryEntry, error) {
		return t.inner.History(ctx, env, name, namespace)
	})
}

// Cluster retries the idempotent operations of a cluster client.
// RolloutRestart is never retried since every call restarts the workload again.
type Cluster struct {
	inner  engine.Cluster
	policy Policy
}

// NewCluster wraps inner.
func NewCluster(inner engine.Cluster, policy Policy, reporter Reporter) *Cluster {
	return &Cluster{inner: inner, policy: reporter.Observe(policy)}
}

func (c *Cluster) DeleteCrashLoopingPods(ctx context.Context, env engine.Environment, namespace, selector string) error {
	return Do(ctx, c.policy, "delete crashlooping pods "+selector, func(ctx context.Context) error {
		return c.inner.DeleteCrashLoopingPods(ctx, env, namespace, selector)
	})
}

func (c *Cluster) GetConfigMap(ctx context.Context, env engine.Environment, namespace, name string) (map[string]string, error) {
	return Value(ctx, c.policy, "get configmap "+name, func(ctx context.Context) (map[string]string, error) {
		return c.inner.GetConfigMap(ctx, env, namespace, name)
	})
}

func (c *Cluster) Annotate(ctx context.Context, env engine.Environment, namespace, kind, name string, annotations map[string]string) error {
	return Do(ctx, c.policy, "annotate "+kind+"/"+name, func(ctx context.Context) error {
		return c.inner.Annotate(ctx, env, namespace, kind, name, annotations)
	})
}

func (c *Cluster) Label(ctx context.Context, env engine.Environment, namespace, kind, name string, labels map[string]string) error {
	return Do(ctx, c.policy, "label "+kind+"/"+name, func(ctx context.Context) error {
		return c.inner.Label(ctx, env, namespace, kind, name, labels)
	})
}

func (c *Cluster) RolloutRestart(ctx context.Context, env engine.Environment, namespace string, kind engine.WorkloadKind, name string) error {
	return c.inner.RolloutRestart(ctx, env, namespace, kind, name)
}

func (c *Cluster) Events(ctx context.Context, env engine.Environment, namespace string) ([]engine.ClusterEvent, error) {
	return Value(ctx, c.policy, "get events "+namespace, func(ctx context.Context) ([]engine.ClusterEvent, error) {
		return c.inner.Events(ctx, env, namespace)
	})
}

func (c *Cluster) ExternalIngressHostname(ctx context.Context, env engine.Environment, namespace, service string) (string, error) {
	return Value(ctx, c.policy, "get ingress hostname "+service, func(ctx context.Context) (string, error) {
		return c.inner.ExternalIngressHostname(ctx, env, namespace, service)
	})
}

func (c *Cluster) Replicas(ctx context.Context, env engine.Environment, namespace string, kind engine.WorkloadKind, selector string) (int, error) {
	return Value(ctx, c.policy, "get replicas "+selector, func(ctx context.Context) (int, error) {
		return c.inner.Replicas(ctx, env, namespace, kind, selector)
	})
}

func (c *Cluster) Scale(ctx context.Context, env engine.Environment, namespace string, kind engine.WorkloadKind, selector string, replicas int) error {
	return Do(ctx, c.policy, "scale "+selector, func(ctx context.Context) error {
		return c.inner.Scale(ctx, env, namespace, kind, selector, replicas)
	})
}

func (c *Cluster) DeleteCRD(ctx context.Context, env engine.Environment, name string) error {
	return Do(ctx, c.policy, "delete crd "+name, func(ctx context.Context) error {
		return c.inner.DeleteCRD(ctx, env, name)
	})
}

func (c *Cluster) DeleteBySelector(ctx context.Context, env engine.Environment, namespace, kind, selector string) error {
	return Do(ctx, c.policy, "delete "+kind+" "+selector, func(ctx context.Context) error {
		return c.inner.DeleteBySelector(ctx, env, namespace, kind, selector)
	})
}

// Toolbox wraps both collaborators of tb.
func Toolbox(tb engine.Toolbox, policy Policy, reporter Reporter) engine.Toolbox {
	return engine.Toolbox{
		Release: NewReleaseTool(tb.Release, policy, reporter),
		Cluster: NewCluster(tb.Cluster, policy, reporter),
	}
}

var (
	_ engine.ReleaseTool = (*ReleaseTool)(nil)
	_ engine.Cluster     = (*Cluster)(nil)
)
