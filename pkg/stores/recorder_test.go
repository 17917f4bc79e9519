package stores

import (
	"context"
	"testing"
	"time"

	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

func TestRunRecorder_RecordUnit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &Run{ID: "run-1", Manifest: "platform.yaml", Operation: "apply"}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	recorder := NewRunRecorder(store, run.ID, nil)

	// outcomes arrive on cancelled contexts when a sibling unit failed
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	recorder.RecordUnit(cancelled, engine.UnitResult{
		Unit:      "ingress",
		Namespace: "nginx-ingress",
		Action:    engine.ActionDeploy,
		Status:    engine.UnitStatusSkipped,
		StartedAt: time.Now(),
	})

	results, err := store.ListUnitResults(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list unit results: %v", err)
	}
	if len(results) != 1 || results[0].Unit != "ingress" {
		t.Errorf("expected the unit to be journaled, got %+v", results)
	}

	// a journal failure must not panic or block the deployment
	orphan := NewRunRecorder(store, "missing", nil)
	orphan.RecordUnit(ctx, engine.UnitResult{Unit: "ingress", Status: engine.UnitStatusFailed})
}

func TestRunRecorder_Attach(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &Run{ID: "run-1", Manifest: "platform.yaml", Operation: "apply"}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	publisher, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 10})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}
	t.Cleanup(func() { _ = publisher.Shutdown(context.Background()) })

	NewRunRecorder(store, run.ID, nil).Attach(publisher)

	events := telemetry.NewEventLog(nil, nil, publisher)
	details := telemetry.EventDetails{ExecutionID: run.ID}.WithTransmitter(telemetry.TransmitterChart("ingress"))
	events.Log(telemetry.LogLevelInfo, telemetry.NewEngineEvent(details, telemetry.NewEventMessageSafe("deploying chart")))

	other := telemetry.EventDetails{ExecutionID: "run-2"}.WithTransmitter(telemetry.TransmitterEngine())
	events.Log(telemetry.LogLevelInfo, telemetry.NewEngineEvent(other, telemetry.NewEventMessageSafe("another run")))

	listed, err := store.ListEvents(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected only the events of the run, got %d", len(listed))
	}
	if listed[0].Message != "deploying chart" || listed[0].TransmitterName != "ingress" || listed[0].Level != "info" {
		t.Errorf("unexpected event %+v", listed[0])
	}
}
