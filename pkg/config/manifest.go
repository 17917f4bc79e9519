package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/service"
)

// DefaultChartsDir is where chart packages are looked up when the manifest
// does not say otherwise.
const DefaultChartsDir = "charts"

// Load reads a manifest file. Files ending in .cue are evaluated with CUE
// and checked against the manifest schema, anything else is parsed as YAML.
// The manifest is validated before it is returned.
func Load(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, engine.NewNotFoundError(fmt.Sprintf("unable to read manifest %s", path), err)
	}

	var m *Manifest
	switch {
	case info.IsDir():
		m, err = NewCUEParser().ParseDir(path)
	case strings.HasSuffix(path, ".cue"):
		var data []byte
		if data, err = os.ReadFile(path); err == nil {
			m, err = NewCUEParser().Parse(path, data)
		}
	default:
		var data []byte
		if data, err = os.ReadFile(path); err == nil {
			m, err = ParseYAML(data)
		}
	}
	if err != nil {
		return nil, err
	}
	m.SourceFile = path
	if info.IsDir() {
		// relative paths of a package resolve inside the package directory
		m.SourceFile = filepath.Join(path, "manifest.cue")
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseYAML decodes a YAML manifest. Unknown fields are rejected.
func ParseYAML(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, engine.NewValidationError("invalid manifest", err).WithFullDetails(err.Error())
	}
	return &m, nil
}

// baseDir is the directory relative paths of the manifest are resolved in.
func (m *Manifest) baseDir() string {
	if m.SourceFile == "" {
		return "."
	}
	return filepath.Dir(m.SourceFile)
}

// ChartsPath returns the absolute or manifest-relative charts directory.
func (m *Manifest) ChartsPath() string {
	dir := m.ChartsDir
	if dir == "" {
		dir = DefaultChartsDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(m.baseDir(), dir)
}

func (m *Manifest) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.baseDir(), path)
}

// Credentials returns the credential set of the deployment.
func (m *Manifest) Credentials() engine.Environment {
	return engine.Environment{
		Kubeconfig:  m.resolve(m.Environment.Kubeconfig),
		KubeContext: m.Environment.KubeContext,
		Variables:   m.Environment.Variables,
	}
}

// Unit builds the chart unit of c.
func (m *Manifest) Unit(c ChartConfig) (*engine.Unit, error) {
	path := c.Path
	if path == "" {
		path = filepath.Join(m.ChartsPath(), c.Name)
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(m.ChartsPath(), path)
	}

	unit := engine.NewUnit(c.Name, path)
	switch ns := engine.Namespace(c.Namespace); ns {
	case "":
	case engine.NamespaceKubeSystem, engine.NamespacePrometheus, engine.NamespaceLogging,
		engine.NamespaceCertManager, engine.NamespaceNginxIngress, engine.NamespaceQovery:
		unit.Namespace = ns
	default:
		unit.Namespace = engine.NamespaceCustom
		unit.CustomNamespace = c.Namespace
	}

	if c.Action != "" {
		unit.Action = c.Action
	}
	if c.Atomic != nil {
		unit.Atomic = *c.Atomic
	}
	if c.Wait != nil {
		unit.Wait = *c.Wait
	}
	unit.ForceUpgrade = c.Force
	unit.DryRun = c.DryRun
	if c.TimeoutSeconds > 0 {
		unit.Timeout = time.Duration(c.TimeoutSeconds) * time.Second
	}
	if c.BreakingVersion != "" {
		v, err := semver.ParseTolerant(c.BreakingVersion)
		if err != nil {
			return nil, engine.NewValidationError(
				fmt.Sprintf("chart %s has an invalid breaking_version %q", c.Name, c.BreakingVersion), err,
			).WithUnit(c.Name)
		}
		unit.BreakingVersion = &v
	}
	unit.Values = append(unit.Values, c.Set...)
	for _, f := range c.ValuesFiles {
		unit.ValuesFiles = append(unit.ValuesFiles, m.resolve(f))
	}
	return unit, nil
}

// Chart builds the chart of c with the lifecycle selected by its kind.
func (m *Manifest) Chart(c ChartConfig) (engine.Chart, error) {
	unit, err := m.Unit(c)
	if err != nil {
		return nil, err
	}
	switch c.Kind {
	case ChartKindConfigReload:
		chart := engine.NewConfigReloadChart(unit, c.ConfigKey)
		chart.ConfigMap = c.ConfigMap
		chart.Workload = c.Workload
		return chart, nil
	case ChartKindCRDCleanup:
		crds := c.CRDs
		if len(crds) == 0 {
			crds = engine.PrometheusOperatorCRDs
		}
		return engine.NewCRDCleanupChart(unit, crds), nil
	default:
		return engine.NewCommonChart(unit), nil
	}
}

// BuildCharts builds every chart of the manifest, in declaration order.
func (m *Manifest) BuildCharts() ([]engine.Chart, error) {
	charts := make([]engine.Chart, 0, len(m.Charts))
	for _, c := range m.Charts {
		chart, err := m.Chart(c)
		if err != nil {
			return nil, err
		}
		charts = append(charts, chart)
	}
	return charts, nil
}

// Dependencies maps every chart name to the charts it depends on.
func (m *Manifest) Dependencies() map[string][]string {
	deps := make(map[string][]string, len(m.Charts))
	for _, c := range m.Charts {
		if len(c.DependsOn) > 0 {
			deps[c.Name] = c.DependsOn
		}
	}
	return deps
}

// Levels builds the Level Graph of the chart batch.
func (m *Manifest) Levels() (engine.Levels, error) {
	charts, err := m.BuildCharts()
	if err != nil {
		return nil, err
	}
	return engine.BuildLevels(charts, m.Dependencies())
}

// Services returns the services in creation order: databases first, then
// applications, then the routers pointing at them.
func (m *Manifest) Services() []service.Resource {
	resources := make([]service.Resource, 0, len(m.Databases)+len(m.Applications)+len(m.Routers))
	for _, db := range m.Databases {
		resources = append(resources, db)
	}
	for _, app := range m.Applications {
		resources = append(resources, app)
	}
	for _, r := range m.Routers {
		resources = append(resources, r)
	}
	return resources
}

// Service returns the service with the given id.
func (m *Manifest) Service(id string) (service.Resource, bool) {
	for _, res := range m.Services() {
		if res.ID() == id {
			return res, true
		}
	}
	return nil, false
}

// Validate checks the manifest structure and the cross references between
// charts and services. Every problem found is reported.
func (m *Manifest) Validate() error {
	var result *multierror.Error
	if err := validate.Struct(m); err != nil {
		result = multierror.Append(result, structProblems(err)...)
	}

	seen := make(map[string]bool, len(m.Charts))
	for i, c := range m.Charts {
		if seen[c.Name] {
			result = multierror.Append(result, Problem{
				Path:    fmt.Sprintf("charts[%d].name", i),
				Message: fmt.Sprintf("duplicate chart name %s", c.Name),
			})
		}
		seen[c.Name] = true
	}
	for i, c := range m.Charts {
		for _, dep := range c.DependsOn {
			if !seen[dep] {
				result = multierror.Append(result, Problem{
					Path:    fmt.Sprintf("charts[%d].depends_on", i),
					Message: fmt.Sprintf("chart %s depends on unknown chart %s", c.Name, dep),
				})
			}
		}
	}

	ids := make(map[string]bool)
	for _, res := range m.Services() {
		if res.ID() == "" {
			continue
		}
		if ids[res.ID()] {
			result = multierror.Append(result, Problem{
				Path:    string(res.Capabilities().Kind),
				Message: fmt.Sprintf("duplicate service id %s", res.ID()),
			})
		}
		ids[res.ID()] = true
	}
	for _, r := range m.Routers {
		for _, route := range r.Routes {
			if !m.hasApplication(route.ApplicationName) {
				result = multierror.Append(result, Problem{
					Path:    "routers." + r.ResourceID,
					Message: fmt.Sprintf("route %s points to unknown application %s", route.Path, route.ApplicationName),
				})
			}
		}
	}

	// cycles are only worth reporting on an otherwise sound graph
	if result.ErrorOrNil() == nil {
		if _, err := m.Levels(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return engine.NewValidationError(
			fmt.Sprintf("manifest %s is invalid: %d problem(s)", m.Name, len(result.Errors)), err,
		).WithFullDetails(err.Error())
	}
	return nil
}

func (m *Manifest) hasApplication(name string) bool {
	for _, app := range m.Applications {
		if app.ResourceName == name {
			return true
		}
	}
	return false
}

// Problems returns the individual findings carried by a validation error.
func Problems(err error) []error {
	var merr *multierror.Error
	if errors.As(err, &merr) {
		return merr.Errors
	}
	if err == nil {
		return nil
	}
	return []error{err}
}

func fmtPosition(file string, line, column int) string {
	pos := file + ":" + strconv.Itoa(line)
	if column > 0 {
		pos += ":" + strconv.Itoa(column)
	}
	return pos
}
