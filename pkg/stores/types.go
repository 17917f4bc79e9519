package stores

import (
	"context"
	"time"

	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// Run is one journaled invocation of the engine.
type Run struct {
	ID          string           `json:"id"`
	Manifest    string           `json:"manifest"`
	Operation   string           `json:"operation"` // apply, plan, service.create, ...
	DryRun      bool             `json:"dry_run"`
	Status      engine.RunStatus `json:"status"`
	Levels      int              `json:"levels"`
	Units       int              `json:"units"`
	Error       *string          `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Duration returns how long the run took, or has been running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// UnitResult is the journaled outcome of one chart unit.
type UnitResult struct {
	ID                int64  `json:"id"`
	RunID             string `json:"run_id"`
	engine.UnitResult `yaml:",inline"`
}

// Event is a journaled engine event.
type Event struct {
	ID              int64     `json:"id"`
	RunID           string    `json:"run_id"`
	EventID         string    `json:"event_id"`
	Type            string    `json:"type"`
	Source          string    `json:"source"`
	TransmitterID   string    `json:"transmitter_id,omitempty"`
	TransmitterName string    `json:"transmitter_name,omitempty"`
	Stage           string    `json:"stage,omitempty"`
	Level           string    `json:"level"`
	Message         string    `json:"message"`
	Details         string    `json:"details,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Store defines the interface of the run journal.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, id string, status engine.RunStatus, runErr error) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Unit result operations
	RecordUnitResult(ctx context.Context, runID string, result engine.UnitResult) error
	ListUnitResults(ctx context.Context, runID string) ([]*UnitResult, error)

	// Event operations
	RecordEvent(ctx context.Context, runID string, event telemetry.Event) error
	ListEvents(ctx context.Context, runID string) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
