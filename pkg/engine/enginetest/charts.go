package enginetest

import (
	"context"
	"sync"

	"github.com/openfroyo/deployengine/pkg/engine"
)

// FuncChart is a chart whose Exec phase is a plain function. Its other
// phases do nothing.
type FuncChart struct {
	engine.CommonChart
	exec func(ctx context.Context) error
}

// NewFuncChart returns a chart named name running exec.
func NewFuncChart(name string, exec func(ctx context.Context) error) *FuncChart {
	return &FuncChart{CommonChart: engine.CommonChart{Unit: engine.NewUnit(name, "charts/"+name)}, exec: exec}
}

func (c *FuncChart) PreExec(_ context.Context, _ *engine.Runtime, payload engine.Payload) (engine.Payload, error) {
	return payload, nil
}

func (c *FuncChart) Exec(ctx context.Context, _ *engine.Runtime, payload engine.Payload) (engine.Payload, error) {
	if c.exec == nil {
		return payload, nil
	}
	return payload, c.exec(ctx)
}

func (c *FuncChart) OnDeployFailure(_ context.Context, _ *engine.Runtime, payload engine.Payload) (engine.Payload, error) {
	return payload, nil
}

// MemoryRecorder is an engine.Recorder keeping unit results in memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	results []engine.UnitResult
}

// RecordUnit implements engine.Recorder.
func (r *MemoryRecorder) RecordUnit(_ context.Context, result engine.UnitResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

// Results returns a copy of the recorded results.
func (r *MemoryRecorder) Results() []engine.UnitResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]engine.UnitResult, len(r.results))
	copy(out, r.results)
	return out
}
