package engine

import (
	"fmt"
	"sort"
	"strings"
)

// LevelBuilder builds a Level Graph from charts and their dependencies.
// A chart lands on the level after the deepest of its dependencies, so a
// chart in level N may assume every chart of levels < N is reconciled.
type LevelBuilder struct {
	// charts maps chart names to their charts
	charts map[string]Chart

	// names keeps insertion order for deterministic output
	names []string

	// dependents maps a chart name to the charts that depend on it
	dependents map[string][]string

	// dependencies maps a chart name to the charts it depends on
	dependencies map[string][]string

	// inDegree tracks the number of unresolved dependencies of each chart
	inDegree map[string]int

	// levels holds the computed chart names per level
	levels [][]string
}

// NewLevelBuilder creates a new level builder.
func NewLevelBuilder() *LevelBuilder {
	return &LevelBuilder{
		charts:       make(map[string]Chart),
		dependents:   make(map[string][]string),
		dependencies: make(map[string][]string),
		inDegree:     make(map[string]int),
	}
}

// BuildLevels groups charts into levels. deps maps a chart name to the names
// of the charts that must be reconciled before it.
func BuildLevels(charts []Chart, deps map[string][]string) (Levels, error) {
	return NewLevelBuilder().Build(charts, deps)
}

// Build constructs the levels, validating names and dependencies and
// rejecting cycles.
func (b *LevelBuilder) Build(charts []Chart, deps map[string][]string) (Levels, error) {
	if len(charts) == 0 {
		return Levels{}, nil
	}

	if err := b.initialize(charts, deps); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	levels := make(Levels, 0, len(b.levels))
	for _, names := range b.levels {
		level := make([]Chart, 0, len(names))
		for _, name := range names {
			level = append(level, b.charts[name])
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// initialize indexes charts and builds the adjacency lists.
func (b *LevelBuilder) initialize(charts []Chart, deps map[string][]string) error {
	for _, chart := range charts {
		name := chart.Info().Name
		if name == "" {
			return NewValidationError("chart unit has an empty name", nil)
		}
		if _, exists := b.charts[name]; exists {
			return NewValidationError(fmt.Sprintf("duplicate chart name: %s", name), nil).WithUnit(name)
		}
		b.charts[name] = chart
		b.names = append(b.names, name)
		b.inDegree[name] = 0
	}

	for _, name := range b.names {
		for _, dep := range deps[name] {
			if _, exists := b.charts[dep]; !exists {
				return NewValidationError(
					fmt.Sprintf("chart %s depends on unknown chart %s", name, dep), nil,
				).WithUnit(name)
			}
			if dep == name {
				return NewValidationError(fmt.Sprintf("chart %s depends on itself", name), nil).WithUnit(name)
			}
			// dependency must complete before the chart can start
			b.dependents[dep] = append(b.dependents[dep], name)
			b.dependencies[name] = append(b.dependencies[name], dep)
			b.inDegree[name]++
		}
	}

	return nil
}

// detectCycles uses depth-first search to detect circular dependencies.
func (b *LevelBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, name := range b.names {
		if visited[name] {
			continue
		}
		if cycle := b.detectCyclesUtil(name, visited, recStack, nil); cycle != nil {
			return NewValidationError(
				fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)), nil,
			)
		}
	}

	return nil
}

// detectCyclesUtil returns the cycle path reachable from name, if any.
func (b *LevelBuilder) detectCyclesUtil(
	name string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []string {
	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	for _, dependent := range b.dependents[name] {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					return append(append([]string{}, path[i:]...), dependent)
				}
			}
		}
	}

	recStack[name] = false
	return nil
}

// computeLevels assigns levels with Kahn's algorithm. Names inside a level
// are sorted so the output is stable.
func (b *LevelBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for name, degree := range b.inDegree {
		inDegree[name] = degree
	}

	current := make([]string, 0)
	for _, name := range b.names {
		if inDegree[name] == 0 {
			current = append(current, name)
		}
	}

	processed := 0
	for len(current) > 0 {
		sort.Strings(current)
		b.levels = append(b.levels, current)
		processed += len(current)

		next := make([]string, 0)
		for _, name := range current {
			for _, dependent := range b.dependents[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if processed != len(b.charts) {
		return NewPermanentError("failed to process all charts - possible cycle", nil).
			WithCode(ErrCodeInternal)
	}

	return nil
}

// GetLevels returns the computed chart names per level.
func (b *LevelBuilder) GetLevels() [][]string {
	return b.levels
}

// ToDOT generates a DOT format representation of the levels for visualization.
func (b *LevelBuilder) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Levels {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, names := range b.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, name := range names {
			unit := b.charts[name].Info()
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\\n%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				name, name, unit.NamespaceName(), getActionColor(unit.Action)))
		}

		sb.WriteString("  }\n\n")
	}

	for _, name := range b.names {
		for _, dep := range b.dependencies[name] {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", dep, name))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}

// getActionColor returns a color for visualizing chart actions.
func getActionColor(action Action) string {
	switch action {
	case ActionDeploy:
		return "lightgreen"
	case ActionDestroy:
		return "lightcoral"
	case ActionSkip:
		return "lightgray"
	default:
		return "white"
	}
}
