package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/deployengine/pkg/engine"
)

const platformYAML = `
name: platform
namespace: env-42
charts_dir: charts
environment:
  kubeconfig: kube/config
  kube_context: staging
cluster:
  id: cluster-1
  name: staging
  dns_domain: example.dev
charts:
  - name: cert-manager
    namespace: cert-manager
  - name: coredns
    kind: config-reload
    config_key: Corefile
    depends_on: [cert-manager]
  - name: prometheus-operator
    namespace: prometheus
    kind: crd-cleanup
    action: destroy
  - name: api-gateway
    path: /opt/charts/gateway
    namespace: gateway
    atomic: false
    timeout_seconds: 600
    breaking_version: 2.0.0
    values_files: [values/gateway.yaml]
    set:
      - key: replicas
        value: "2"
    depends_on: [coredns]
applications:
  - id: a1
    name: api
    commit_id: abcdef0123456789
    ports:
      - port: 8080
        public: true
    min_instances: 1
    max_instances: 2
    start_timeout: 90s
routers:
  - id: r1
    name: main
    default_domain: main.example.dev
    routes:
      - path: /
        application_name: api
databases:
  - id: db1
    name: orders
    version: "13"
    mode: CONTAINER
    login: admin
    password: secret
    port: 5432
    disk_size_in_gib: 10
`

func writeManifest(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeManifest(t, "platform.yaml", platformYAML)

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if m.Name != "platform" || len(m.Charts) != 4 {
		t.Fatalf("unexpected manifest: name=%s charts=%d", m.Name, len(m.Charts))
	}
	if m.Cluster.DNSDomain != "example.dev" {
		t.Errorf("expected cluster dns domain example.dev, got %s", m.Cluster.DNSDomain)
	}
	if got := m.Applications[0].StartTimeout; got != 90*time.Second {
		t.Errorf("expected start timeout 90s, got %s", got)
	}

	env := m.Credentials()
	if env.Kubeconfig != filepath.Join(filepath.Dir(path), "kube/config") {
		t.Errorf("kubeconfig not resolved against the manifest: %s", env.Kubeconfig)
	}
	if env.KubeContext != "staging" {
		t.Errorf("expected kube context staging, got %s", env.KubeContext)
	}
}

func TestManifest_Unit(t *testing.T) {
	m, err := Load(writeManifest(t, "platform.yaml", platformYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	dir := filepath.Dir(m.SourceFile)

	certManager, err := m.Unit(m.Charts[0])
	if err != nil {
		t.Fatalf("Unit() error = %v", err)
	}
	if certManager.Path != filepath.Join(dir, "charts", "cert-manager") {
		t.Errorf("unexpected default path %s", certManager.Path)
	}
	if certManager.Namespace != engine.NamespaceCertManager {
		t.Errorf("expected well-known namespace, got %s", certManager.Namespace)
	}
	if !certManager.Atomic || !certManager.Wait || certManager.Timeout != engine.DefaultTimeout {
		t.Errorf("unit defaults not applied: %+v", certManager)
	}

	gateway, err := m.Unit(m.Charts[3])
	if err != nil {
		t.Fatalf("Unit() error = %v", err)
	}
	if gateway.Path != "/opt/charts/gateway" {
		t.Errorf("absolute path rewritten: %s", gateway.Path)
	}
	if gateway.Namespace != engine.NamespaceCustom || gateway.NamespaceName() != "gateway" {
		t.Errorf("expected custom namespace gateway, got %s/%s", gateway.Namespace, gateway.NamespaceName())
	}
	if gateway.Atomic {
		t.Error("atomic override ignored")
	}
	if gateway.Timeout != 600*time.Second {
		t.Errorf("expected 600s timeout, got %s", gateway.Timeout)
	}
	if gateway.BreakingVersion == nil || gateway.BreakingVersion.String() != "2.0.0" {
		t.Errorf("breaking version not parsed: %v", gateway.BreakingVersion)
	}
	if len(gateway.Values) != 1 || gateway.Values[0].Key != "replicas" {
		t.Errorf("set values not carried: %+v", gateway.Values)
	}
	if gateway.ValuesFiles[0] != filepath.Join(dir, "values/gateway.yaml") {
		t.Errorf("values file not resolved: %s", gateway.ValuesFiles[0])
	}
}

func TestManifest_ChartKinds(t *testing.T) {
	m, err := Load(writeManifest(t, "platform.yaml", platformYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	charts, err := m.BuildCharts()
	if err != nil {
		t.Fatalf("BuildCharts() error = %v", err)
	}
	if _, ok := charts[0].(*engine.CommonChart); !ok {
		t.Errorf("expected a common chart, got %T", charts[0])
	}
	reload, ok := charts[1].(*engine.ConfigReloadChart)
	if !ok || reload.Key != "Corefile" {
		t.Errorf("expected a config reload chart on Corefile, got %T", charts[1])
	}
	cleanup, ok := charts[2].(*engine.CRDCleanupChart)
	if !ok {
		t.Fatalf("expected a CRD cleanup chart, got %T", charts[2])
	}
	if len(cleanup.CRDs) != len(engine.PrometheusOperatorCRDs) {
		t.Errorf("expected the default CRD list, got %v", cleanup.CRDs)
	}
}

func TestManifest_Levels(t *testing.T) {
	m, err := Load(writeManifest(t, "platform.yaml", platformYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	levels, err := m.Levels()
	if err != nil {
		t.Fatalf("Levels() error = %v", err)
	}
	if len(levels) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(levels))
	}
	if levels.Size() != 4 {
		t.Errorf("expected 4 charts, got %d", levels.Size())
	}
	last := levels[2]
	if len(last) != 1 || last[0].Info().Name != "api-gateway" {
		t.Errorf("api-gateway should run last, got %v", last)
	}
}

func TestManifest_Services(t *testing.T) {
	m, err := Load(writeManifest(t, "platform.yaml", platformYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	services := m.Services()
	var ids []string
	for _, s := range services {
		ids = append(ids, s.ID())
	}
	if strings.Join(ids, ",") != "db1,a1,r1" {
		t.Errorf("unexpected service order %v", ids)
	}
	if _, ok := m.Service("r1"); !ok {
		t.Error("router r1 not found")
	}
	if _, ok := m.Service("missing"); ok {
		t.Error("unknown service found")
	}
}

func TestManifest_ValidateReportsEveryProblem(t *testing.T) {
	content := `
name: broken
charts:
  - name: a
    action: upgrade
  - name: a
  - name: b
    depends_on: [ghost]
  - name: c
    kind: config-reload
    breaking_version: not-a-version
routers:
  - id: r1
    name: main
    default_domain: main.example.dev
    routes:
      - path: /
        application_name: missing
`
	_, err := Load(writeManifest(t, "broken.yaml", content))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if engine.CodeOf(err) != engine.ErrCodeValidation {
		t.Errorf("expected validation code, got %s", engine.CodeOf(err))
	}

	problems := Problems(errors.Unwrap(err))
	want := []string{
		"charts[0].action",
		"charts[3].config_key",
		"charts[3].breaking_version",
		"duplicate chart name a",
		"unknown chart ghost",
		"unknown application missing",
	}
	if len(problems) != len(want) {
		t.Fatalf("expected %d problems, got %d: %v", len(want), len(problems), problems)
	}
	joined := err.Error()
	for _, p := range problems {
		joined += "\n" + p.Error()
	}
	for _, w := range want {
		if !strings.Contains(joined, w) {
			t.Errorf("missing problem %q in:\n%s", w, joined)
		}
	}
}

func TestManifest_ValidateRejectsCycles(t *testing.T) {
	content := `
name: cyclic
charts:
  - name: a
    depends_on: [b]
  - name: b
    depends_on: [a]
`
	_, err := Load(writeManifest(t, "cyclic.yaml", content))
	if err == nil {
		t.Fatal("expected cycle to be rejected")
	}
	problems := Problems(errors.Unwrap(err))
	if len(problems) != 1 || !strings.Contains(problems[0].Error(), "circular dependency detected") {
		t.Errorf("expected a single cycle problem, got %v", problems)
	}
}

func TestParseYAML_UnknownField(t *testing.T) {
	_, err := ParseYAML([]byte("name: x\ncharts:\n  - name: a\n    timeout: 10\n"))
	if err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
	if engine.CodeOf(err) != engine.ErrCodeValidation {
		t.Errorf("expected validation code, got %s", engine.CodeOf(err))
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !engine.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}
