package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// PanicMessage is the safe message of the error produced by a panicking worker.
const PanicMessage = "worker panicked during parallel charts deployment"

// LevelRunner executes every chart of a level concurrently and waits for all
// of them to return. Workers are never cancelled once started.
type LevelRunner struct {
	// maxParallel bounds the number of concurrent workers; 0 means one
	// worker per chart.
	maxParallel int

	executor *Executor
	recorder Recorder
}

// NewLevelRunner creates a new level runner.
func NewLevelRunner(maxParallel int, recorder Recorder) *LevelRunner {
	if maxParallel < 0 {
		maxParallel = 0
	}
	return &LevelRunner{
		maxParallel: maxParallel,
		executor:    NewExecutor(),
		recorder:    recorder,
	}
}

// MaxParallel returns the configured worker bound.
func (r *LevelRunner) MaxParallel() int {
	return r.maxParallel
}

// RunLevel runs the charts of one level. It returns the first error by
// completion order, wrapped as an aggregate failure, after every worker has
// finished.
func (r *LevelRunner) RunLevel(ctx context.Context, level int, charts []Chart, rt *Runtime) error {
	if len(charts) == 0 {
		return nil
	}

	ctx, span := rt.Tracer.StartLevelSpan(ctx, level, len(charts))
	defer span.End()

	var sem chan struct{}
	if r.maxParallel > 0 && r.maxParallel < len(charts) {
		sem = make(chan struct{}, r.maxParallel)
	}

	// buffered so that workers never block on a reader that stopped listening
	errCh := make(chan error, len(charts))
	var wg sync.WaitGroup

	for _, chart := range charts {
		wg.Add(1)
		go func(chart Chart) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			errCh <- r.runChart(ctx, level, chart, rt)
		}(chart)
	}

	wg.Wait()
	close(errCh)

	// channel order is completion order
	var firstErr error
	for err := range errCh {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	status := "succeeded"
	if firstErr != nil {
		status = "failed"
		telemetry.RecordError(span, firstErr)
	} else {
		telemetry.RecordSuccess(span)
	}
	rt.Metrics.RecordLevel(status)

	if firstErr != nil {
		return NewAggregateError(
			fmt.Sprintf("level %d failed: %s", level, SafeMessageOf(firstErr)), firstErr,
		).WithDetail("level", level)
	}
	return nil
}

// runChart executes one chart, turning a panic into an error.
func (r *LevelRunner) runChart(ctx context.Context, level int, chart Chart, rt *Runtime) (err error) {
	unit := chart.Info()
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			err = NewPermanentError(PanicMessage, fmt.Errorf("%v", p)).
				WithCode(ErrCodePanic).
				WithUnit(unit.Name).
				WithFullDetails(string(debug.Stack()))
			rt.Log(telemetry.LogLevelError, unit, telemetry.NewEventMessage(PanicMessage, fmt.Sprint(p)))
		}
		r.record(ctx, level, unit, start, err)
	}()

	_, err = r.executor.Run(ctx, chart, rt)
	return err
}

func (r *LevelRunner) record(ctx context.Context, level int, unit *Unit, start time.Time, err error) {
	if r.recorder == nil {
		return
	}
	result := UnitResult{
		Unit:      unit.Name,
		Namespace: unit.NamespaceName(),
		Action:    unit.Action,
		Level:     level,
		Status:    UnitStatusSucceeded,
		StartedAt: start,
		Duration:  time.Since(start),
	}
	if unit.Action == ActionSkip {
		result.Status = UnitStatusSkipped
	}
	if err != nil {
		result.Status = UnitStatusFailed
		result.Error = err.Error()
	}
	r.recorder.RecordUnit(ctx, result)
}
