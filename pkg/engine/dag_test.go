package engine

import (
	"strings"
	"testing"
)

func chartsNamed(names ...string) []Chart {
	charts := make([]Chart, 0, len(names))
	for _, name := range names {
		charts = append(charts, NewCommonChart(NewUnit(name, "charts/"+name)))
	}
	return charts
}

func levelNames(levels Levels) [][]string {
	out := make([][]string, 0, len(levels))
	for _, level := range levels {
		names := make([]string, 0, len(level))
		for _, chart := range level {
			names = append(names, chart.Info().Name)
		}
		out = append(out, names)
	}
	return out
}

func TestLevelBuilder_Empty(t *testing.T) {
	levels, err := BuildLevels(nil, nil)
	if err != nil {
		t.Fatalf("Expected no error for empty charts, got: %v", err)
	}
	if len(levels) != 0 {
		t.Errorf("Expected 0 levels, got %d", len(levels))
	}
}

func TestLevelBuilder_SingleChart(t *testing.T) {
	levels, err := BuildLevels(chartsNamed("coredns"), nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(levels) != 1 || len(levels[0]) != 1 {
		t.Fatalf("Expected a single level with one chart, got %v", levelNames(levels))
	}
}

func TestLevelBuilder_IndependentChartsShareLevel(t *testing.T) {
	levels, err := BuildLevels(chartsNamed("metrics-server", "cert-manager", "aws-node"), nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	got := levelNames(levels)
	if len(got) != 1 {
		t.Fatalf("Expected 1 level, got %d", len(got))
	}
	want := []string{"aws-node", "cert-manager", "metrics-server"}
	for i, name := range want {
		if got[0][i] != name {
			t.Errorf("Expected level 0 position %d to be %s, got %s", i, name, got[0][i])
		}
	}
}

func TestLevelBuilder_LinearChain(t *testing.T) {
	deps := map[string][]string{
		"cert-manager-config": {"cert-manager"},
		"cert-manager":        {"prometheus-operator"},
	}
	levels, err := BuildLevels(chartsNamed("cert-manager-config", "cert-manager", "prometheus-operator"), deps)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	got := levelNames(levels)
	want := [][]string{{"prometheus-operator"}, {"cert-manager"}, {"cert-manager-config"}}
	if len(got) != len(want) {
		t.Fatalf("Expected %d levels, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i][0] != want[i][0] {
			t.Errorf("Expected level %d to be %v, got %v", i, want[i], got[i])
		}
	}
}

func TestLevelBuilder_Diamond(t *testing.T) {
	deps := map[string][]string{
		"loki":     {"prometheus"},
		"promtail": {"prometheus"},
		"grafana":  {"loki", "promtail"},
	}
	levels, err := BuildLevels(chartsNamed("grafana", "loki", "promtail", "prometheus"), deps)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	got := levelNames(levels)
	if len(got) != 3 {
		t.Fatalf("Expected 3 levels, got %d: %v", len(got), got)
	}
	if len(got[1]) != 2 || got[1][0] != "loki" || got[1][1] != "promtail" {
		t.Errorf("Expected level 1 to be [loki promtail], got %v", got[1])
	}
	if got[2][0] != "grafana" {
		t.Errorf("Expected grafana on the last level, got %v", got[2])
	}
}

func TestLevelBuilder_DeepestDependencyWins(t *testing.T) {
	// app depends on a root and on a chart two levels deep
	deps := map[string][]string{
		"b":   {"a"},
		"app": {"a", "b"},
	}
	levels, err := BuildLevels(chartsNamed("app", "a", "b"), deps)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	got := levelNames(levels)
	if len(got) != 3 || got[2][0] != "app" {
		t.Errorf("Expected app on level 2, got %v", got)
	}
}

func TestLevelBuilder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		charts  []Chart
		deps    map[string][]string
		wantMsg string
	}{
		{
			name:    "duplicate name",
			charts:  chartsNamed("coredns", "coredns"),
			wantMsg: "duplicate chart name: coredns",
		},
		{
			name:    "unknown dependency",
			charts:  chartsNamed("grafana"),
			deps:    map[string][]string{"grafana": {"loki"}},
			wantMsg: "chart grafana depends on unknown chart loki",
		},
		{
			name:    "self dependency",
			charts:  chartsNamed("grafana"),
			deps:    map[string][]string{"grafana": {"grafana"}},
			wantMsg: "chart grafana depends on itself",
		},
		{
			name:    "empty name",
			charts:  chartsNamed(""),
			wantMsg: "empty name",
		},
		{
			name:    "cycle",
			charts:  chartsNamed("a", "b", "c"),
			deps:    map[string][]string{"a": {"c"}, "b": {"a"}, "c": {"b"}},
			wantMsg: "circular dependency detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildLevels(tt.charts, tt.deps)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if CodeOf(err) != ErrCodeValidation {
				t.Errorf("Expected code %s, got %s", ErrCodeValidation, CodeOf(err))
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected error to contain %q, got %q", tt.wantMsg, err.Error())
			}
		})
	}
}

func TestLevelBuilder_CyclePath(t *testing.T) {
	deps := map[string][]string{"a": {"b"}, "b": {"a"}}
	_, err := BuildLevels(chartsNamed("a", "b"), deps)
	if err == nil {
		t.Fatal("Expected cycle error, got nil")
	}
	if !strings.Contains(err.Error(), "a -> b -> a") && !strings.Contains(err.Error(), "b -> a -> b") {
		t.Errorf("Expected cycle path in error, got %q", err.Error())
	}
}

func TestLevelBuilder_ToDOT(t *testing.T) {
	charts := chartsNamed("prometheus", "grafana")
	charts[1].Info().Action = ActionDestroy

	builder := NewLevelBuilder()
	if _, err := builder.Build(charts, map[string][]string{"grafana": {"prometheus"}}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	dot := builder.ToDOT()
	for _, want := range []string{
		"digraph Levels",
		"cluster_level_0",
		"cluster_level_1",
		`"prometheus" -> "grafana"`,
		"lightcoral",
		"lightgreen",
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT output to contain %q", want)
		}
	}

	if got := builder.GetLevels(); len(got) != 2 {
		t.Errorf("Expected 2 levels, got %d", len(got))
	}
}
