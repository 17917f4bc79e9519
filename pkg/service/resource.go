package service

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/retry"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// Kind is the kind of a deployable resource.
type Kind string

const (
	KindApplication Kind = "application"
	KindRouter      Kind = "router"
	KindDatabase    Kind = "database"
)

// Action is the lifecycle operation requested for a resource.
type Action string

const (
	ActionCreate Action = "create"
	ActionPause  Action = "pause"
	ActionDelete Action = "delete"
)

// Validate checks if the action is known.
func (a Action) Validate() error {
	switch a {
	case ActionCreate, ActionPause, ActionDelete:
		return nil
	default:
		return fmt.Errorf("invalid resource action: %s", a)
	}
}

// step maps the action to the environment event step.
func (a Action) step() string {
	switch a {
	case ActionPause:
		return telemetry.StepPause
	case ActionDelete:
		return telemetry.StepDelete
	default:
		return telemetry.StepDeploy
	}
}

// Capabilities are the kind-specific properties the lifecycle driver and
// the router need to know about a resource.
type Capabilities struct {
	Kind Kind

	// Stateful resources own persistent volumes and are pinned to a
	// single instance.
	Stateful bool

	// ManagedExternally resources are paused and provisioned by the
	// cloud provider instead of in-cluster.
	ManagedExternally bool

	MinInstances int
	MaxInstances int

	// Domains the resource answers on, default domain first.
	Domains []string
}

// Resource is a deployable domain object with a Create/Pause/Delete
// lifecycle. Every operation has a paired check, run before it, and an
// error hook, run after any failure.
type Resource interface {
	ID() string
	Name() string
	Action() Action
	Capabilities() Capabilities
	Transmitter() telemetry.Transmitter

	// SanitizedName is the name used for cluster objects.
	SanitizedName() string

	// Selector matches the workloads of the resource.
	Selector() string

	// ReleaseName is the release installed for the resource.
	ReleaseName() string

	// TemplateContext builds the configuration context of the resource.
	TemplateContext(ctx context.Context, target *Target) (Values, error)

	OnCreate(ctx context.Context, target *Target) error
	OnCreateCheck(ctx context.Context, target *Target) error
	OnCreateError(ctx context.Context, target *Target) error

	OnPause(ctx context.Context, target *Target) error
	OnPauseCheck(ctx context.Context, target *Target) error
	OnPauseError(ctx context.Context, target *Target) error

	OnDelete(ctx context.Context, target *Target) error
	OnDeleteCheck(ctx context.Context, target *Target) error
	OnDeleteError(ctx context.Context, target *Target) error
}

// Cluster describes the cluster the environment is deployed to.
type Cluster struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Region        string `json:"region,omitempty" yaml:"region,omitempty"`
	DNSDomain     string `json:"dns_domain" yaml:"dns_domain" validate:"omitempty,hostname"`
	RegistryURL   string `json:"registry_url,omitempty" yaml:"registry_url,omitempty"`
	IsTestCluster bool   `json:"test_cluster" yaml:"test_cluster"`
}

// Target is everything a resource needs to run an operation: the chart
// runtime, the environment namespace and the external capabilities.
type Target struct {
	Runtime   *engine.Runtime
	Deployer  *engine.Deployer
	Cluster   Cluster
	Namespace string

	// ChartsDir is the root directory of the chart packages.
	ChartsDir string

	Renderer Renderer
	Resolver Resolver
	Provider ProviderControl

	// Applications of the environment, used by routers to resolve routes.
	Applications []*Application

	// Retry is the schedule of DNS checks.
	Retry retry.Policy
}

// chartPath returns the package path of a chart under ChartsDir.
func (t *Target) chartPath(parts ...string) string {
	return filepath.Join(append([]string{t.ChartsDir}, parts...)...)
}

func (t *Target) deployer() *engine.Deployer {
	if t.Deployer == nil {
		return engine.NewDeployer(nil)
	}
	return t.Deployer
}

func (t *Target) renderer() Renderer {
	if t.Renderer == nil {
		return ValuesRenderer{}
	}
	return t.Renderer
}

// log emits an event for res at the stage of step.
func (t *Target) log(res Resource, step string, level telemetry.LogLevel, msg telemetry.EventMessage) {
	var events telemetry.EventLogger = telemetry.NopEventLogger{}
	if t.Runtime != nil && t.Runtime.Events != nil {
		events = t.Runtime.Events
	}
	details := t.details().
		WithStage(telemetry.EnvironmentStage(step)).
		WithTransmitter(res.Transmitter())
	events.Log(level, telemetry.NewEngineEvent(details, msg))
}

func (t *Target) infof(res Resource, step, format string, args ...interface{}) {
	t.log(res, step, telemetry.LogLevelInfo, telemetry.NewEventMessageSafef(format, args...))
}

func (t *Target) warn(res Resource, step, safe string, err error) {
	full := ""
	if err != nil {
		full = err.Error()
	}
	t.log(res, step, telemetry.LogLevelWarning, telemetry.NewEventMessage(safe, full))
}

func (t *Target) details() telemetry.EventDetails {
	if t.Runtime == nil {
		return telemetry.EventDetails{}
	}
	return t.Runtime.Details
}

func (t *Target) env() engine.Environment {
	if t.Runtime == nil {
		return engine.Environment{}
	}
	return t.Runtime.Env
}

func (t *Target) tools() engine.Toolbox {
	if t.Runtime == nil {
		return engine.Toolbox{}
	}
	return t.Runtime.Tools
}
