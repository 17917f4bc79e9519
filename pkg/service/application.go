package service

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// Meta is the identity shared by every resource kind.
type Meta struct {
	ResourceID      string `json:"id" yaml:"id" validate:"required"`
	ResourceName    string `json:"name" yaml:"name" validate:"required"`
	RequestedAction Action `json:"action" yaml:"action" validate:"omitempty,oneof=create pause delete"`
}

// ID returns the resource id.
func (m Meta) ID() string { return m.ResourceID }

// Name returns the resource name.
func (m Meta) Name() string { return m.ResourceName }

// Action returns the requested action, create by default.
func (m Meta) Action() Action {
	if m.RequestedAction == "" {
		return ActionCreate
	}
	return m.RequestedAction
}

// Port is a port exposed by an application.
type Port struct {
	Port     int    `json:"port" yaml:"port" validate:"required,min=1,max=65535"`
	Public   bool   `json:"public" yaml:"public"`
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty" validate:"omitempty,oneof=HTTP TCP UDP"`
}

// EnvironmentVariable is a variable injected in the application containers.
type EnvironmentVariable struct {
	Key   string `json:"key" yaml:"key" validate:"required"`
	Value string `json:"value" yaml:"value"`
}

// Storage is a persistent volume owned by an application.
type Storage struct {
	ID         string `json:"id" yaml:"id" validate:"required"`
	Name       string `json:"name" yaml:"name" validate:"required"`
	Type       string `json:"type,omitempty" yaml:"type,omitempty"`
	SizeInGiB  int    `json:"size_in_gib" yaml:"size_in_gib" validate:"min=1"`
	MountPoint string `json:"mount_point" yaml:"mount_point" validate:"required"`
}

// DefaultStartTimeout is the time an application gets to become ready.
const DefaultStartTimeout = 5 * time.Minute

// Application is a stateless service built from a commit. It becomes
// stateful, and is paused as a StatefulSet, when it owns storage.
type Application struct {
	Meta `yaml:",inline"`

	CommitID             string                `json:"commit_id" yaml:"commit_id" validate:"required"`
	Image                string                `json:"image" yaml:"image"`
	Ports                []Port                `json:"ports,omitempty" yaml:"ports,omitempty" validate:"dive"`
	EnvironmentVariables []EnvironmentVariable `json:"environment_variables,omitempty" yaml:"environment_variables,omitempty" validate:"dive"`
	Storage              []Storage             `json:"storage,omitempty" yaml:"storage,omitempty" validate:"dive"`
	CPU                  string                `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	RAMInMiB             int                   `json:"ram_in_mib,omitempty" yaml:"ram_in_mib,omitempty" validate:"min=0"`
	MinInstances         int                   `json:"min_instances" yaml:"min_instances" validate:"min=0"`
	MaxInstances         int                   `json:"max_instances" yaml:"max_instances" validate:"min=0"`
	StartTimeout         time.Duration         `json:"start_timeout,omitempty" yaml:"start_timeout,omitempty"`
}

var _ Resource = (*Application)(nil)

// Capabilities implements Resource.
func (a *Application) Capabilities() Capabilities {
	return Capabilities{
		Kind:         KindApplication,
		Stateful:     a.HasStorage(),
		MinInstances: a.MinInstances,
		MaxInstances: a.MaxInstances,
	}
}

// HasStorage reports whether the application owns persistent volumes.
func (a *Application) HasStorage() bool {
	return len(a.Storage) > 0
}

// Transmitter implements Resource.
func (a *Application) Transmitter() telemetry.Transmitter {
	return telemetry.TransmitterApplication(a.ResourceID, a.ResourceName, a.CommitID)
}

// SanitizedName implements Resource.
func (a *Application) SanitizedName() string {
	return SanitizeName("app", a.ResourceName)
}

// Selector implements Resource.
func (a *Application) Selector() string {
	return "appId=" + a.ResourceID
}

// ReleaseName implements Resource.
func (a *Application) ReleaseName() string {
	return Cut(fmt.Sprintf("application-%s-%s", a.ResourceName, a.ResourceID), 50)
}

// Version is the commit the application is built from.
func (a *Application) Version() string {
	return a.CommitID
}

// PrivatePort is the first declared port.
func (a *Application) PrivatePort() (int, bool) {
	if len(a.Ports) == 0 {
		return 0, false
	}
	return a.Ports[0].Port, true
}

// DeployTimeout is the release timeout: the start timeout plus a grace
// period, for every attempt of the rollout.
func (a *Application) DeployTimeout() time.Duration {
	start := a.StartTimeout
	if start <= 0 {
		start = DefaultStartTimeout
	}
	return (start + 10*time.Second) * 4
}

func (a *Application) workloadKind() engine.WorkloadKind {
	if a.HasStorage() {
		return engine.WorkloadStatefulSet
	}
	return engine.WorkloadDeployment
}

func (a *Application) chartPath(t *Target) string {
	return t.chartPath("application")
}

// TemplateContext implements Resource.
func (a *Application) TemplateContext(_ context.Context, t *Target) (Values, error) {
	values := baseContext(a, t)
	values["version"] = a.CommitID
	values["helm_app_version"] = Cut(a.CommitID, 7)
	values["image_name"] = a.Image
	values["selector"] = a.Selector()
	values["cpu"] = a.CPU
	values["ram_in_mib"] = a.RAMInMiB
	values["start_timeout_in_seconds"] = int(a.DeployTimeout().Seconds())

	if t.Cluster.RegistryURL == "" {
		t.warn(a, telemetry.StepLoadConfiguration, "container registry url is not set, using the image name as is", nil)
	} else {
		values["container_registry_url"] = t.Cluster.RegistryURL
	}

	ports := make([]map[string]interface{}, 0, len(a.Ports))
	for _, p := range a.Ports {
		ports = append(ports, map[string]interface{}{
			"port":     p.Port,
			"public":   p.Public,
			"protocol": p.Protocol,
		})
	}
	values["ports"] = ports

	env := make([]map[string]string, 0, len(a.EnvironmentVariables))
	for _, v := range a.EnvironmentVariables {
		env = append(env, map[string]string{"key": v.Key, "value": v.Value})
	}
	values["environment_variables"] = env

	storage := make([]map[string]interface{}, 0, len(a.Storage))
	for _, s := range a.Storage {
		storage = append(storage, map[string]interface{}{
			"id":          s.ID,
			"name":        s.Name,
			"type":        s.Type,
			"size_in_gib": s.SizeInGiB,
			"mount_point": s.MountPoint,
		})
	}
	values["storage"] = storage
	return values, nil
}

// OnCreate renders the application and deploys its release.
func (a *Application) OnCreate(ctx context.Context, t *Target) error {
	_, files, err := render(ctx, a, t)
	if err != nil {
		return err
	}
	return deployRelease(ctx, t, a, a.chartPath(t), a.DeployTimeout(), files)
}

// OnCreateCheck validates the scaling bounds.
func (a *Application) OnCreateCheck(_ context.Context, _ *Target) error {
	if a.MaxInstances > 0 && a.MinInstances > a.MaxInstances {
		return engine.NewValidationError(fmt.Sprintf(
			"application %s has min_instances %d greater than max_instances %d",
			a.ResourceName, a.MinInstances, a.MaxInstances), nil).WithResource(a.ResourceID)
	}
	return nil
}

// OnCreateError removes a release left in a failed state.
func (a *Application) OnCreateError(ctx context.Context, t *Target) error {
	return cleanupFailedRelease(ctx, t, a, a.chartPath(t))
}

// OnPause scales the application workload to zero.
func (a *Application) OnPause(ctx context.Context, t *Target) error {
	return scaleDown(ctx, t, a, a.workloadKind())
}

// OnPauseCheck implements Resource.
func (a *Application) OnPauseCheck(context.Context, *Target) error { return nil }

// OnPauseError implements Resource.
func (a *Application) OnPauseError(context.Context, *Target) error { return nil }

// OnDelete uninstalls the release and keeps the volumes.
func (a *Application) OnDelete(ctx context.Context, t *Target) error {
	return deleteRelease(ctx, t, a, a.chartPath(t), false)
}

// OnDeleteCheck implements Resource.
func (a *Application) OnDeleteCheck(context.Context, *Target) error { return nil }

// OnDeleteError retries the delete in final mode, volumes included.
func (a *Application) OnDeleteError(ctx context.Context, t *Target) error {
	return deleteRelease(ctx, t, a, a.chartPath(t), true)
}
