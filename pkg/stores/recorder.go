package stores

import (
	"context"
	"time"

	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// journalTimeout bounds a journal write made outside of a caller context.
const journalTimeout = 5 * time.Second

// RunRecorder journals the unit outcomes and the events of one run. A
// failing journal write is logged and never fails the deployment.
type RunRecorder struct {
	store  Store
	runID  string
	logger *telemetry.Logger
}

// NewRunRecorder creates a recorder appending to the run runID.
func NewRunRecorder(store Store, runID string, logger *telemetry.Logger) *RunRecorder {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &RunRecorder{
		store:  store,
		runID:  runID,
		logger: logger.NewComponentLogger("journal").WithExecutionID(runID),
	}
}

var _ engine.Recorder = (*RunRecorder)(nil)

// RecordUnit implements engine.Recorder.
func (r *RunRecorder) RecordUnit(ctx context.Context, result engine.UnitResult) {
	// the unit context may already be cancelled when a sibling failed
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	if err := r.store.RecordUnitResult(ctx, r.runID, result); err != nil {
		r.logger.WithError(err).WithUnit(result.Unit, result.Namespace).Warn("failed to journal unit result")
	}
}

// Subscriber returns the event subscriber journaling events.
func (r *RunRecorder) Subscriber() telemetry.EventSubscriber {
	return func(event telemetry.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()

		if err := r.store.RecordEvent(ctx, r.runID, event); err != nil {
			r.logger.WithError(err).Warn("failed to journal event")
		}
	}
}

// Attach subscribes the recorder to the events of its run.
func (r *RunRecorder) Attach(publisher *telemetry.EventPublisher) {
	publisher.Subscribe(r.Subscriber(), telemetry.FilterByExecutionID(r.runID))
}
