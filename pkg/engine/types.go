package engine

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/blang/semver"
)

// Action selects which branch of the chart lifecycle runs.
type Action string

const (
	// ActionDeploy installs or upgrades the release.
	ActionDeploy Action = "deploy"

	// ActionDestroy uninstalls the release if it is deployed.
	ActionDestroy Action = "destroy"

	// ActionSkip leaves live state untouched.
	ActionSkip Action = "skip"
)

// Validate checks if the action is known.
func (a Action) Validate() error {
	switch a {
	case ActionDeploy, ActionDestroy, ActionSkip:
		return nil
	default:
		return fmt.Errorf("invalid chart action: %s", a)
	}
}

// Namespace is one of the well-known chart namespaces or NamespaceCustom.
type Namespace string

const (
	NamespaceKubeSystem   Namespace = "kube-system"
	NamespacePrometheus   Namespace = "prometheus"
	NamespaceLogging      Namespace = "logging"
	NamespaceCertManager  Namespace = "cert-manager"
	NamespaceNginxIngress Namespace = "nginx-ingress"
	NamespaceQovery       Namespace = "qovery"
	NamespaceCustom       Namespace = "custom"
)

// SetValue is a single --set override.
type SetValue struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// GeneratedValues is a values file whose content is produced at runtime.
type GeneratedValues struct {
	Filename string `json:"filename" yaml:"filename"`
	Content  string `json:"content" yaml:"content"`
}

// Default execution parameters of a unit.
const (
	DefaultTimeout = 180 * time.Second
)

// Unit is a named, versioned deployable chart.
//
// The name is immutable once the unit is handed to an executor.
type Unit struct {
	Name            string
	Path            string
	Namespace       Namespace
	CustomNamespace string
	Action          Action

	Atomic       bool
	ForceUpgrade bool
	Timeout      time.Duration
	DryRun       bool
	Wait         bool

	// BreakingVersion forces a destroy before upgrade when the deployed
	// chart version is older.
	BreakingVersion *semver.Version

	Values          []SetValue
	ValuesFiles     []string
	GeneratedValues []GeneratedValues

	// ParseStderrForError makes the release adapter fail on stderr output
	// even when the command exits successfully.
	ParseStderrForError bool
}

// NewUnit returns a unit populated with the default execution parameters.
func NewUnit(name, path string) *Unit {
	return &Unit{
		Name:                name,
		Path:                path,
		Namespace:           NamespaceKubeSystem,
		Action:              ActionDeploy,
		Atomic:              true,
		Timeout:             DefaultTimeout,
		Wait:                true,
		ParseStderrForError: true,
	}
}

// NewCustomNamespaceUnit returns a unit deployed to an arbitrary namespace.
func NewCustomNamespaceUnit(name, path, namespace string, timeout time.Duration, valuesFiles []string) *Unit {
	u := NewUnit(name, path)
	u.Namespace = NamespaceCustom
	u.CustomNamespace = namespace
	u.ValuesFiles = valuesFiles
	if timeout > 0 {
		u.Timeout = timeout
	}
	return u
}

// NamespaceName resolves the namespace the release lives in.
func (u *Unit) NamespaceName() string {
	if u.Namespace == NamespaceCustom {
		if u.CustomNamespace != "" {
			return u.CustomNamespace
		}
		return string(NamespaceCustom)
	}
	if u.Namespace == "" {
		return string(NamespaceKubeSystem)
	}
	return string(u.Namespace)
}

// Selector is the label selector of the workloads managed by the unit.
func (u *Unit) Selector() string {
	return "app=" + strings.ToLower(u.Name)
}

// EffectiveTimeout returns the unit timeout or the system default.
func (u *Unit) EffectiveTimeout() time.Duration {
	if u.Timeout <= 0 {
		return DefaultTimeout
	}
	return u.Timeout
}

// Validate checks the structural invariants of a unit.
func (u *Unit) Validate() error {
	if u.Name == "" {
		return NewValidationError("chart unit has an empty name", nil)
	}
	if u.Path == "" && u.Action == ActionDeploy {
		return NewValidationError(fmt.Sprintf("chart %s has no package path", u.Name), nil).WithUnit(u.Name)
	}
	if err := u.Action.Validate(); err != nil {
		return NewValidationError(err.Error(), nil).WithUnit(u.Name)
	}
	return nil
}

// Payload is per-run data handed from pre-execute to post-execute and the
// failure hook of the same unit. A nil Payload means "no payload".
type Payload map[string]string

// Clone returns an independent copy.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Levels is an ordered sequence of chart sets. Level i+1 starts only after
// every chart of level i has returned.
type Levels [][]Chart

// Size returns the total number of charts across all levels.
func (l Levels) Size() int {
	n := 0
	for _, level := range l {
		n += len(level)
	}
	return n
}

// Environment is the namespace-scoped credential set shared read-only by
// every worker of a deployment.
type Environment struct {
	Kubeconfig  string
	KubeContext string
	Variables   map[string]string
}

// Environ returns the process environment extended with the credential set.
func (e Environment) Environ() []string {
	env := os.Environ()
	if e.Kubeconfig != "" {
		env = append(env, "KUBECONFIG="+e.Kubeconfig)
	}
	keys := make([]string, 0, len(e.Variables))
	for k := range e.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+e.Variables[k])
	}
	return env
}

// ClusterEvent is a cluster event captured for diagnostics.
type ClusterEvent struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason"`
	Object   string    `json:"object"`
	Message  string    `json:"message"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

// String formats the event on one line.
func (e ClusterEvent) String() string {
	return fmt.Sprintf("%s %s %s: %s (x%d)", e.Type, e.Reason, e.Object, e.Message, e.Count)
}

// WorkloadKind is the shape of a scalable workload.
type WorkloadKind string

const (
	WorkloadDeployment  WorkloadKind = "deployment"
	WorkloadStatefulSet WorkloadKind = "statefulset"
)

// UnitResult is the outcome of one executor run.
type UnitResult struct {
	Unit      string        `json:"unit"`
	Namespace string        `json:"namespace"`
	Action    Action        `json:"action"`
	Level     int           `json:"level"`
	Status    UnitStatus    `json:"status"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
