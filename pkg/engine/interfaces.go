package engine

import (
	"context"

	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// Chart is a chart unit plus the behaviour of its lifecycle phases.
// Every phase receives the payload produced by the previous one and returns
// the payload handed to the next; the executor never modifies it.
type Chart interface {
	// Info returns the unit definition.
	Info() *Unit

	// CheckPrerequisites verifies local inputs such as values files.
	CheckPrerequisites(ctx context.Context) (Payload, error)

	// PreExec prepares live state and may compute a payload.
	PreExec(ctx context.Context, rt *Runtime, payload Payload) (Payload, error)

	// Exec dispatches on the unit action.
	Exec(ctx context.Context, rt *Runtime, payload Payload) (Payload, error)

	// PostExec runs after a successful Exec.
	PostExec(ctx context.Context, rt *Runtime, payload Payload) (Payload, error)

	// OnDeployFailure runs after a failed Exec. A non-nil error replaces the
	// Exec error as the surfaced failure.
	OnDeployFailure(ctx context.Context, rt *Runtime, payload Payload) (Payload, error)
}

// ReleaseTool is the external package/release manager.
type ReleaseTool interface {
	// UpgradeInstall installs the release or upgrades it in place.
	// Re-running with unchanged inputs must not change live state.
	UpgradeInstall(ctx context.Context, env Environment, unit *Unit) error

	// Uninstall removes the release.
	Uninstall(ctx context.Context, env Environment, unit *Unit) error

	// IsDeployed reports whether a release exists in the namespace.
	IsDeployed(ctx context.Context, env Environment, name, namespace string) (bool, error)

	// Diff returns a textual diff between the unit and the live release.
	Diff(ctx context.Context, env Environment, unit *Unit) (string, error)

	// History returns past release attempts, oldest first.
	History(ctx context.Context, env Environment, name, namespace string) ([]HistoryEntry, error)
}

// Cluster is the set of cluster control operations used by charts and services.
type Cluster interface {
	DeleteCrashLoopingPods(ctx context.Context, env Environment, namespace, selector string) error
	GetConfigMap(ctx context.Context, env Environment, namespace, name string) (map[string]string, error)
	Annotate(ctx context.Context, env Environment, namespace, kind, name string, annotations map[string]string) error
	Label(ctx context.Context, env Environment, namespace, kind, name string, labels map[string]string) error
	RolloutRestart(ctx context.Context, env Environment, namespace string, kind WorkloadKind, name string) error
	Events(ctx context.Context, env Environment, namespace string) ([]ClusterEvent, error)
	ExternalIngressHostname(ctx context.Context, env Environment, namespace, service string) (string, error)
	Replicas(ctx context.Context, env Environment, namespace string, kind WorkloadKind, selector string) (int, error)
	Scale(ctx context.Context, env Environment, namespace string, kind WorkloadKind, selector string, replicas int) error
	DeleteCRD(ctx context.Context, env Environment, name string) error
	DeleteBySelector(ctx context.Context, env Environment, namespace, kind, selector string) error
}

// Toolbox groups the external collaborators a chart may call.
type Toolbox struct {
	Release ReleaseTool
	Cluster Cluster
}

// Recorder receives unit outcomes as they complete. Implementations must be
// safe for concurrent use since units of a level finish concurrently.
type Recorder interface {
	RecordUnit(ctx context.Context, result UnitResult)
}

// Runtime is the read-only context shared by every worker of a deployment.
type Runtime struct {
	Env     Environment
	Tools   Toolbox
	Events  telemetry.EventLogger
	Details telemetry.EventDetails
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// events returns the configured event logger or a no-op one.
func (rt *Runtime) events() telemetry.EventLogger {
	if rt == nil || rt.Events == nil {
		return telemetry.NopEventLogger{}
	}
	return rt.Events
}

// chartDetails returns event details tagged with the chart transmitter.
func (rt *Runtime) chartDetails(u *Unit) telemetry.EventDetails {
	return rt.Details.WithTransmitter(telemetry.TransmitterChart(u.Name))
}

// Log emits an event for the given unit.
func (rt *Runtime) Log(level telemetry.LogLevel, u *Unit, msg telemetry.EventMessage) {
	rt.events().Log(level, telemetry.NewEngineEvent(rt.chartDetails(u), msg))
}

// Infof emits an info event with a safe message.
func (rt *Runtime) Infof(u *Unit, format string, args ...interface{}) {
	rt.Log(telemetry.LogLevelInfo, u, telemetry.NewEventMessageSafef(format, args...))
}

// Warn emits a warning carrying the full details of err.
func (rt *Runtime) Warn(u *Unit, safe string, err error) {
	full := ""
	if err != nil {
		full = err.Error()
	}
	rt.Log(telemetry.LogLevelWarning, u, telemetry.NewEventMessage(safe, full))
}
