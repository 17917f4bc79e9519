package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages the CUE definitions manifests are checked against.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry holding the built-in definitions.
func NewSchemaRegistry() *SchemaRegistry {
	return NewSchemaRegistryWithContext(cuecontext.New())
}

// NewSchemaRegistryWithContext creates a registry compiling into ctx.
// Values unified with the schemas must come from the same context.
func NewSchemaRegistryWithContext(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

// Schema names.
const (
	SchemaManifest = "manifest"
	SchemaChart    = "chart"
	SchemaService  = "service"
)

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	// the built-in schemas are constants: a compile failure is a bug
	for name, def := range map[string]string{
		SchemaManifest: "#Manifest",
		SchemaChart:    "#Chart",
		SchemaService:  "#Service",
	} {
		if err := sr.RegisterSchema(name, def, builtinSchema); err != nil {
			panic(err)
		}
	}
}

// RegisterSchema compiles src and registers its definition def under name.
func (sr *SchemaRegistry) RegisterSchema(name, def, src string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(src, cue.Filename("schema:"+name))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	schema := val.LookupPath(cue.ParsePath(def))
	if !schema.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, def)
	}
	sr.schemas[name] = schema
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Check unifies val with the named schema and requires a concrete result.
func (sr *SchemaRegistry) Check(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema encodes data and checks it against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) error {
	val := sr.ctx.Encode(data)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if _, err := sr.Check(schemaName, val); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtinSchema describes a deployment manifest. Services are open: their
// fields are checked by struct validation after decoding.
const builtinSchema = `
#Name: string & =~"^[a-z0-9]([-a-z0-9]*[a-z0-9])?$"

#Chart: {
	// release name
	name: #Name

	path?:      string
	namespace?: string
	action?:    "deploy" | "destroy" | "skip"
	kind?:      "common" | "config-reload" | "crd-cleanup"

	atomic?:           bool
	wait?:             bool
	force?:            bool
	dry_run?:          bool
	timeout_seconds?:  int & >0
	breaking_version?: string

	set?: [...{key: string, value: string}]
	values_files?: [...string]
	depends_on?: [...#Name]

	config_map?: string
	config_key?: string
	workload?:   string
	crds?: [...string]
}

#Service: {
	id:      string & !=""
	name:    string & !=""
	action?: "create" | "pause" | "delete"
	...
}

#Manifest: {
	name:        string & !=""
	namespace?:  #Name
	charts_dir?: string

	environment?: {
		kubeconfig?:   string
		kube_context?: string
		variables?: {[string]: string}
	}

	cluster?: {
		id?:           string
		name?:         string
		region?:       string
		dns_domain?:   string
		registry_url?: string
		test_cluster?: bool
	}

	charts?: [...#Chart]
	applications?: [...#Service]
	routers?: [...#Service]
	databases?: [...#Service]
}
`
