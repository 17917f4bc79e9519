// Package enginetest provides in-memory release and cluster fakes for tests
// of packages built on the engine.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// calls is a concurrency-safe call log.
type calls struct {
	mu  sync.Mutex
	log []string
}

func (c *calls) record(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, fmt.Sprintf(format, args...))
}

// Calls returns a copy of the call log.
func (c *calls) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.log))
	copy(out, c.log)
	return out
}

// Count returns how many times call was recorded.
func (c *calls) Count(call string) int {
	n := 0
	for _, got := range c.Calls() {
		if got == call {
			n++
		}
	}
	return n
}

// Release is a fake engine.ReleaseTool. Calls are logged as
// "<operation>:<release>".
type Release struct {
	calls

	mu        sync.Mutex
	Deployed  map[string]bool
	Histories map[string][]engine.HistoryEntry
	Units     map[string]*engine.Unit
	Diffs     map[string]string

	// applied holds the values last applied per release; an upgrade with
	// the same values does not create a revision.
	applied   map[string]string
	revisions map[string]int

	UpgradeErr   map[string]error
	UninstallErr map[string]error
	DiffErr      map[string]error
	HistoryErr   error

	// OnUpgrade runs after a successful upgrade, e.g. to append history.
	OnUpgrade func(unit *engine.Unit)
}

// NewRelease returns an empty fake release tool.
func NewRelease() *Release {
	return &Release{
		Deployed:     make(map[string]bool),
		Histories:    make(map[string][]engine.HistoryEntry),
		Units:        make(map[string]*engine.Unit),
		Diffs:        make(map[string]string),
		applied:      make(map[string]string),
		revisions:    make(map[string]int),
		UpgradeErr:   make(map[string]error),
		UninstallErr: make(map[string]error),
		DiffErr:      make(map[string]error),
	}
}

// SetHistory replaces the history of a release.
func (r *Release) SetHistory(name string, entries ...engine.HistoryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Histories[name] = entries
}

// Revision returns how many upgrades of name changed its values.
func (r *Release) Revision(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revisions[name]
}

// Unit returns the last unit upgraded under name.
func (r *Release) Unit(name string) *engine.Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Units[name]
}

// UpgradeInstall implements engine.ReleaseTool.
func (r *Release) UpgradeInstall(_ context.Context, _ engine.Environment, unit *engine.Unit) error {
	r.record("upgrade:%s", unit.Name)
	r.mu.Lock()
	if err := r.UpgradeErr[unit.Name]; err != nil {
		r.mu.Unlock()
		return err
	}
	values := fmt.Sprint(unit.Values)
	if !r.Deployed[unit.Name] || r.applied[unit.Name] != values {
		r.revisions[unit.Name]++
	}
	r.Deployed[unit.Name] = true
	r.applied[unit.Name] = values
	r.Units[unit.Name] = unit
	hook := r.OnUpgrade
	r.mu.Unlock()
	if hook != nil {
		hook(unit)
	}
	return nil
}

// Uninstall implements engine.ReleaseTool.
func (r *Release) Uninstall(_ context.Context, _ engine.Environment, unit *engine.Unit) error {
	r.record("uninstall:%s", unit.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.UninstallErr[unit.Name]; err != nil {
		return err
	}
	delete(r.Deployed, unit.Name)
	delete(r.applied, unit.Name)
	return nil
}

// IsDeployed implements engine.ReleaseTool.
func (r *Release) IsDeployed(_ context.Context, _ engine.Environment, name, _ string) (bool, error) {
	r.record("is_deployed:%s", name)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Deployed[name], nil
}

// Diff implements engine.ReleaseTool.
func (r *Release) Diff(_ context.Context, _ engine.Environment, unit *engine.Unit) (string, error) {
	r.record("diff:%s", unit.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.DiffErr[unit.Name]; err != nil {
		return "", err
	}
	return r.Diffs[unit.Name], nil
}

// History implements engine.ReleaseTool.
func (r *Release) History(_ context.Context, _ engine.Environment, name, _ string) ([]engine.HistoryEntry, error) {
	r.record("history:%s", name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.HistoryErr != nil {
		return nil, r.HistoryErr
	}
	return append([]engine.HistoryEntry(nil), r.Histories[name]...), nil
}

// Cluster is a fake engine.Cluster. Replica counts are keyed by
// "<kind>/<selector>".
type Cluster struct {
	calls

	mu         sync.Mutex
	replicas   map[string]int
	ConfigMaps map[string]map[string]string
	Hostname   string
	HostErr    error
	ScaleErr   error
	DeleteErr  error

	// Warnings are the events returned for every namespace.
	Warnings  []engine.ClusterEvent
	EventsErr error
}

// NewCluster returns an empty fake cluster.
func NewCluster() *Cluster {
	return &Cluster{
		replicas:   make(map[string]int),
		ConfigMaps: make(map[string]map[string]string),
	}
}

// SetConfigMap replaces the data of a configmap with a single key.
func (c *Cluster) SetConfigMap(name, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConfigMaps[name] = map[string]string{key: value}
}

// SetReplicas sets the replica count of the workloads matching selector.
func (c *Cluster) SetReplicas(kind engine.WorkloadKind, selector string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replicas[string(kind)+"/"+selector] = n
}

// DeleteCrashLoopingPods implements engine.Cluster.
func (c *Cluster) DeleteCrashLoopingPods(_ context.Context, _ engine.Environment, namespace, selector string) error {
	c.record("delete_crashloop:%s:%s", namespace, selector)
	return nil
}

// GetConfigMap implements engine.Cluster.
func (c *Cluster) GetConfigMap(_ context.Context, _ engine.Environment, _ string, name string) (map[string]string, error) {
	c.record("get_configmap:%s", name)
	c.mu.Lock()
	defer c.mu.Unlock()
	cm, ok := c.ConfigMaps[name]
	if !ok {
		return nil, engine.NewNotFoundError("configmap "+name+" not found", nil)
	}
	out := make(map[string]string, len(cm))
	for k, v := range cm {
		out[k] = v
	}
	return out, nil
}

// Annotate implements engine.Cluster.
func (c *Cluster) Annotate(_ context.Context, _ engine.Environment, _, kind, name string, _ map[string]string) error {
	c.record("annotate:%s/%s", kind, name)
	return nil
}

// Label implements engine.Cluster.
func (c *Cluster) Label(_ context.Context, _ engine.Environment, _, kind, name string, _ map[string]string) error {
	c.record("label:%s/%s", kind, name)
	return nil
}

// RolloutRestart implements engine.Cluster.
func (c *Cluster) RolloutRestart(_ context.Context, _ engine.Environment, _ string, kind engine.WorkloadKind, name string) error {
	c.record("restart:%s/%s", kind, name)
	return nil
}

// Events implements engine.Cluster.
func (c *Cluster) Events(_ context.Context, _ engine.Environment, namespace string) ([]engine.ClusterEvent, error) {
	c.record("events:%s", namespace)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EventsErr != nil {
		return nil, c.EventsErr
	}
	return append([]engine.ClusterEvent(nil), c.Warnings...), nil
}

// ExternalIngressHostname implements engine.Cluster.
func (c *Cluster) ExternalIngressHostname(_ context.Context, _ engine.Environment, namespace, service string) (string, error) {
	c.record("ingress_hostname:%s/%s", namespace, service)
	return c.Hostname, c.HostErr
}

// Replicas implements engine.Cluster.
func (c *Cluster) Replicas(_ context.Context, _ engine.Environment, _ string, kind engine.WorkloadKind, selector string) (int, error) {
	c.record("replicas:%s/%s", kind, selector)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replicas[string(kind)+"/"+selector], nil
}

// Scale implements engine.Cluster.
func (c *Cluster) Scale(_ context.Context, _ engine.Environment, _ string, kind engine.WorkloadKind, selector string, replicas int) error {
	c.record("scale:%s/%s=%d", kind, selector, replicas)
	if c.ScaleErr != nil {
		return c.ScaleErr
	}
	c.SetReplicas(kind, selector, replicas)
	return nil
}

// DeleteCRD implements engine.Cluster.
func (c *Cluster) DeleteCRD(_ context.Context, _ engine.Environment, name string) error {
	c.record("delete_crd:%s", name)
	return nil
}

// DeleteBySelector implements engine.Cluster.
func (c *Cluster) DeleteBySelector(_ context.Context, _ engine.Environment, _, kind, selector string) error {
	c.record("delete:%s:%s", kind, selector)
	return c.DeleteErr
}

// Rig bundles the fakes into a runtime that records events.
type Rig struct {
	Release *Release
	Cluster *Cluster
	Events  *telemetry.EventRecorder
	Runtime *engine.Runtime
}

// NewRig returns a runtime wired to fresh fakes.
func NewRig() *Rig {
	release := NewRelease()
	cluster := NewCluster()
	events := telemetry.NewEventRecorder(nil)
	return &Rig{
		Release: release,
		Cluster: cluster,
		Events:  events,
		Runtime: &engine.Runtime{
			Tools:   engine.Toolbox{Release: release, Cluster: cluster},
			Events:  events,
			Details: telemetry.EventDetails{ExecutionID: "test"},
		},
	}
}
