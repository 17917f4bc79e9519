package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/hashicorp/go-multierror"

	"github.com/openfroyo/deployengine/pkg/engine"
)

// CUEParser evaluates CUE manifests and checks them against the manifest
// schema before decoding.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:            ctx,
		schemaRegistry: NewSchemaRegistryWithContext(ctx),
	}
}

// Parse evaluates a single CUE file.
func (cp *CUEParser) Parse(filename string, data []byte) (*Manifest, error) {
	val := cp.ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, cp.invalid(filename, err)
	}
	return cp.decode(filename, val)
}

// ParseDir evaluates the CUE package in dir. Every file of the package is
// unified into a single manifest.
func (cp *CUEParser) ParseDir(dir string) (*Manifest, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, engine.NewValidationError(fmt.Sprintf("no CUE files found in %s", dir), nil)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, cp.invalid(dir, inst.Err)
	}
	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return nil, cp.invalid(dir, err)
	}
	return cp.decode(dir, val)
}

// decode checks val against the manifest schema and decodes it. The
// concrete value is exported as JSON and read by the YAML decoder, so CUE
// and YAML manifests share field names and defaults.
func (cp *CUEParser) decode(source string, val cue.Value) (*Manifest, error) {
	unified, err := cp.schemaRegistry.Check(SchemaManifest, val)
	if err != nil {
		return nil, cp.invalid(source, err)
	}
	data, err := unified.MarshalJSON()
	if err != nil {
		return nil, cp.invalid(source, err)
	}
	return ParseYAML(data)
}

// invalid reports every CUE error with its position.
func (cp *CUEParser) invalid(source string, err error) error {
	var result *multierror.Error
	for _, p := range cp.problems(err) {
		result = multierror.Append(result, p)
	}
	merr := result.ErrorOrNil()
	if merr == nil {
		merr = err
	}
	return engine.NewValidationError(fmt.Sprintf("invalid CUE manifest %s", source), merr).
		WithFullDetails(cueerrors.Details(err, nil))
}

// problems converts CUE errors to problems.
func (cp *CUEParser) problems(err error) []Problem {
	var problems []Problem
	for _, e := range cueerrors.Errors(err) {
		p := Problem{Message: e.Error()}
		if path := e.Path(); len(path) > 0 {
			p.Path = strings.Join(path, ".")
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			p.File = pos[0].Filename()
			p.Line = pos[0].Line()
			p.Column = pos[0].Column()
		}
		problems = append(problems, p)
	}
	return problems
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}
