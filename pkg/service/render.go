package service

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// GeneratedValuesFile is the name of the values file produced from a
// template context.
const GeneratedValuesFile = "generated-values.yaml"

// Values is a template context: the configuration of one resource for one
// deployment target.
type Values map[string]interface{}

// Keys returns the keys in sorted order.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the value at key formatted as a string.
func (v Values) String(key string) string {
	val, ok := v[key]
	if !ok || val == nil {
		return ""
	}
	return fmt.Sprint(val)
}

// Renderer turns a template context into the values files of a chart.
type Renderer interface {
	Render(ctx context.Context, res Resource, values Values) ([]engine.GeneratedValues, error)
}

// ValuesRenderer serializes the context as a single YAML values file.
type ValuesRenderer struct{}

// Render implements Renderer.
func (ValuesRenderer) Render(_ context.Context, res Resource, values Values) ([]engine.GeneratedValues, error) {
	out, err := yaml.Marshal(map[string]interface{}(values))
	if err != nil {
		return nil, engine.NewValidationError(
			fmt.Sprintf("unable to render configuration of %s %s", res.Capabilities().Kind, res.Name()), err,
		).WithFullDetails(err.Error())
	}
	return []engine.GeneratedValues{{Filename: GeneratedValuesFile, Content: string(out)}}, nil
}

// render builds the template context of res and renders it. It runs once
// per operation; every failure is a load configuration error.
func render(ctx context.Context, res Resource, t *Target) (Values, []engine.GeneratedValues, error) {
	values, err := res.TemplateContext(ctx, t)
	if err != nil {
		return nil, nil, engine.AnnotateResource(err, telemetry.StepLoadConfiguration, res.ID())
	}
	files, err := t.renderer().Render(ctx, res, values)
	if err != nil {
		return nil, nil, engine.AnnotateResource(err, telemetry.StepLoadConfiguration, res.ID())
	}
	return values, files, nil
}

// baseContext is the context shared by every resource kind.
func baseContext(res Resource, t *Target) Values {
	caps := res.Capabilities()
	return Values{
		"id":                      res.ID(),
		"name":                    res.Name(),
		"sanitized_name":          res.SanitizedName(),
		"namespace":               t.Namespace,
		"kubernetes_cluster_id":   t.Cluster.ID,
		"kubernetes_cluster_name": t.Cluster.Name,
		"region":                  t.Cluster.Region,
		"min_instances":           caps.MinInstances,
		"max_instances":           caps.MaxInstances,
		"is_storage":              caps.Stateful,
	}
}
