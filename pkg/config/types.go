package config

import (
	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/service"
)

// ChartKind selects the lifecycle behaviour of a chart.
type ChartKind string

const (
	// ChartKindCommon is the default install/upgrade/uninstall lifecycle.
	ChartKindCommon ChartKind = "common"

	// ChartKindConfigReload restarts a workload when the watched
	// configuration changed during the upgrade.
	ChartKindConfigReload ChartKind = "config-reload"

	// ChartKindCRDCleanup deletes the chart CRDs on destroy.
	ChartKindCRDCleanup ChartKind = "crd-cleanup"
)

// Manifest describes one deployment: the charts of the batch and the
// services of the environment.
type Manifest struct {
	// Name identifies the deployment in the run journal.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Namespace is the environment namespace services are deployed to.
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty" validate:"omitempty,dns_rfc1035_label"`

	// ChartsDir is where relative chart paths are resolved, relative to the
	// manifest file. Defaults to "charts".
	ChartsDir string `json:"charts_dir,omitempty" yaml:"charts_dir,omitempty"`

	Environment EnvironmentConfig `json:"environment,omitempty" yaml:"environment,omitempty"`
	Cluster     service.Cluster   `json:"cluster,omitempty" yaml:"cluster,omitempty"`

	Charts       []ChartConfig          `json:"charts,omitempty" yaml:"charts,omitempty" validate:"dive"`
	Applications []*service.Application `json:"applications,omitempty" yaml:"applications,omitempty" validate:"dive"`
	Routers      []*service.Router      `json:"routers,omitempty" yaml:"routers,omitempty" validate:"dive"`
	Databases    []*service.Database    `json:"databases,omitempty" yaml:"databases,omitempty" validate:"dive"`

	// SourceFile is the file the manifest was loaded from, if any.
	SourceFile string `json:"-" yaml:"-"`
}

// EnvironmentConfig is the credential set shared by every chart.
type EnvironmentConfig struct {
	Kubeconfig  string            `json:"kubeconfig,omitempty" yaml:"kubeconfig,omitempty"`
	KubeContext string            `json:"kube_context,omitempty" yaml:"kube_context,omitempty"`
	Variables   map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// ChartConfig is the declaration of one chart unit.
type ChartConfig struct {
	Name string `json:"name" yaml:"name" validate:"required,max=53"`

	// Path of the chart package. Defaults to <charts_dir>/<name>.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Namespace is a well-known namespace or any custom namespace name.
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`

	Action engine.Action `json:"action,omitempty" yaml:"action,omitempty" validate:"omitempty,oneof=deploy destroy skip"`
	Kind   ChartKind     `json:"kind,omitempty" yaml:"kind,omitempty" validate:"omitempty,oneof=common config-reload crd-cleanup"`

	// Atomic and Wait default to true.
	Atomic         *bool `json:"atomic,omitempty" yaml:"atomic,omitempty"`
	Wait           *bool `json:"wait,omitempty" yaml:"wait,omitempty"`
	Force          bool  `json:"force,omitempty" yaml:"force,omitempty"`
	DryRun         bool  `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	TimeoutSeconds int   `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" validate:"min=0"`

	// BreakingVersion forces a destroy before upgrading releases deployed
	// from an older chart version.
	BreakingVersion string `json:"breaking_version,omitempty" yaml:"breaking_version,omitempty" validate:"omitempty,semver"`

	Set         []engine.SetValue `json:"set,omitempty" yaml:"set,omitempty" validate:"dive"`
	ValuesFiles []string          `json:"values_files,omitempty" yaml:"values_files,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// config-reload charts
	ConfigMap string `json:"config_map,omitempty" yaml:"config_map,omitempty"`
	ConfigKey string `json:"config_key,omitempty" yaml:"config_key,omitempty" validate:"required_if=Kind config-reload"`
	Workload  string `json:"workload,omitempty" yaml:"workload,omitempty"`

	// crd-cleanup charts, the prometheus operator CRDs when empty
	CRDs []string `json:"crds,omitempty" yaml:"crds,omitempty"`
}

// Problem is one validation finding with its location in the manifest.
type Problem struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// Error implements error.
func (p Problem) Error() string {
	loc := p.Path
	if p.File != "" {
		loc = p.File
		if p.Line > 0 {
			loc = fmtPosition(p.File, p.Line, p.Column)
		}
	}
	if loc == "" {
		return p.Message
	}
	return loc + ": " + p.Message
}
