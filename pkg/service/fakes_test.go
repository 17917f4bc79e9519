package service

import (
	"context"
	"errors"
	"sync"

	"github.com/openfroyo/deployengine/pkg/engine/enginetest"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// fakeResolver answers from static tables; unknown hosts fail.
type fakeResolver struct {
	hosts  map[string][]string
	cnames map[string]string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{hosts: map[string][]string{}, cnames: map[string]string{}}
}

func (r *fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	addrs, ok := r.hosts[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

func (r *fakeResolver) LookupCNAME(_ context.Context, host string) (string, error) {
	cname, ok := r.cnames[host]
	if !ok {
		return "", errors.New("no such host")
	}
	return cname, nil
}

// fakeProvider records managed database calls.
type fakeProvider struct {
	mu        sync.Mutex
	calls     []string
	lastValue Values
	err       error
}

func (p *fakeProvider) record(call string, values Values) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	if values != nil {
		p.lastValue = values
	}
	return p.err
}

func (p *fakeProvider) Provision(_ context.Context, db *Database, values Values) error {
	return p.record("provision:"+db.ResourceID, values)
}

func (p *fakeProvider) Deprovision(_ context.Context, db *Database, values Values) error {
	return p.record("deprovision:"+db.ResourceID, values)
}

func (p *fakeProvider) ScaleDown(_ context.Context, db *Database) error {
	return p.record("scale_down:"+db.ResourceID, nil)
}

type serviceRig struct {
	*enginetest.Rig
	resolver *fakeResolver
	provider *fakeProvider
	target   *Target
}

func newServiceRig() *serviceRig {
	rig := enginetest.NewRig()
	resolver := newFakeResolver()
	provider := &fakeProvider{}
	return &serviceRig{
		Rig:      rig,
		resolver: resolver,
		provider: provider,
		target: &Target{
			Runtime:   rig.Runtime,
			Namespace: "env-42",
			ChartsDir: "/charts",
			Cluster:   Cluster{ID: "cluster-1", Name: "staging", DNSDomain: "example.dev", RegistryURL: "registry.example.dev"},
			Resolver:  resolver,
			Provider:  provider,
		},
	}
}

func (r *serviceRig) warnings() []telemetry.EngineEvent {
	return r.Events.AtLevel(telemetry.LogLevelWarning)
}

// scriptedResource is a resource whose hooks are plain functions and which
// records the order they ran in.
type scriptedResource struct {
	Meta

	mu    sync.Mutex
	order []string

	check func() error
	run   func() error
	fail  func() error
}

func newScriptedResource() *scriptedResource {
	return &scriptedResource{Meta: Meta{ResourceID: "res-1", ResourceName: "scripted"}}
}

func (s *scriptedResource) step(name string, fn func() error) error {
	s.mu.Lock()
	s.order = append(s.order, name)
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn()
}

func (s *scriptedResource) Order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *scriptedResource) Capabilities() Capabilities {
	return Capabilities{Kind: KindApplication, MinInstances: 1, MaxInstances: 1}
}

func (s *scriptedResource) Transmitter() telemetry.Transmitter {
	return telemetry.TransmitterApplication(s.ResourceID, s.ResourceName, "")
}

func (s *scriptedResource) SanitizedName() string { return "app-scripted" }
func (s *scriptedResource) Selector() string      { return "appId=res-1" }
func (s *scriptedResource) ReleaseName() string   { return "scripted" }

func (s *scriptedResource) TemplateContext(context.Context, *Target) (Values, error) {
	return Values{}, nil
}

func (s *scriptedResource) OnCreate(context.Context, *Target) error {
	return s.step("create", s.run)
}

func (s *scriptedResource) OnCreateCheck(context.Context, *Target) error {
	return s.step("create_check", s.check)
}

func (s *scriptedResource) OnCreateError(context.Context, *Target) error {
	return s.step("create_error", s.fail)
}

func (s *scriptedResource) OnPause(context.Context, *Target) error {
	return s.step("pause", s.run)
}

func (s *scriptedResource) OnPauseCheck(context.Context, *Target) error {
	return s.step("pause_check", s.check)
}

func (s *scriptedResource) OnPauseError(context.Context, *Target) error {
	return s.step("pause_error", s.fail)
}

func (s *scriptedResource) OnDelete(context.Context, *Target) error {
	return s.step("delete", s.run)
}

func (s *scriptedResource) OnDeleteCheck(context.Context, *Target) error {
	return s.step("delete_check", s.check)
}

func (s *scriptedResource) OnDeleteError(context.Context, *Target) error {
	return s.step("delete_error", s.fail)
}
