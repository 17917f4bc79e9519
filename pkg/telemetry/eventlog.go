package telemetry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel is the severity of an engine event.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarning
	LogLevelError
)

// String returns the event level name.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return EventLevelDebug
	case LogLevelInfo:
		return EventLevelInfo
	case LogLevelWarning:
		return EventLevelWarning
	case LogLevelError:
		return EventLevelError
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarning:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// EventMessage separates what may be shown to end users from operator
// diagnostics such as command output.
type EventMessage struct {
	SafeMessage string `json:"safe_message"`
	FullDetails string `json:"full_details,omitempty"`
}

// NewEventMessage creates a message with full details.
func NewEventMessage(safe, full string) EventMessage {
	return EventMessage{SafeMessage: safe, FullDetails: strings.TrimSpace(full)}
}

// NewEventMessageSafe creates a message without details.
func NewEventMessageSafe(safe string) EventMessage {
	return EventMessage{SafeMessage: safe}
}

// NewEventMessageSafef creates a message without details from a format.
func NewEventMessageSafef(format string, args ...interface{}) EventMessage {
	return EventMessage{SafeMessage: fmt.Sprintf(format, args...)}
}

// Message joins the safe message and the details for operator logs.
func (m EventMessage) Message() string {
	if m.FullDetails == "" {
		return m.SafeMessage
	}
	return m.SafeMessage + " / Full details: " + m.FullDetails
}

// StageKind groups stage steps.
type StageKind string

const (
	StageKindGeneral        StageKind = "general"
	StageKindInfrastructure StageKind = "infrastructure"
	StageKindEnvironment    StageKind = "environment"
)

// Environment steps.
const (
	StepBuild             = "build"
	StepDeploy            = "deploy"
	StepPause             = "pause"
	StepResume            = "resume"
	StepUpdate            = "update"
	StepDelete            = "delete"
	StepLoadConfiguration = "load_configuration"
	StepScaleUp           = "scale_up"
	StepScaleDown         = "scale_down"
)

// Infrastructure steps.
const (
	StepCreate  = "create"
	StepUpgrade = "upgrade"
)

// Stage locates an event in the deployment workflow.
type Stage struct {
	Kind StageKind `json:"kind"`
	Step string    `json:"step,omitempty"`
}

// GeneralStage returns a stage outside any workflow.
func GeneralStage() Stage {
	return Stage{Kind: StageKindGeneral}
}

// EnvironmentStage returns an environment stage at step.
func EnvironmentStage(step string) Stage {
	return Stage{Kind: StageKindEnvironment, Step: step}
}

// InfrastructureStage returns an infrastructure stage at step.
func InfrastructureStage(step string) Stage {
	return Stage{Kind: StageKindInfrastructure, Step: step}
}

// String formats the stage as kind/step.
func (s Stage) String() string {
	if s.Kind == "" {
		return ""
	}
	if s.Step == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + "/" + s.Step
}

// TransmitterKind is the kind of object emitting an event.
type TransmitterKind string

const (
	TransmitterKindKubernetes  TransmitterKind = "kubernetes"
	TransmitterKindApplication TransmitterKind = "application"
	TransmitterKindRouter      TransmitterKind = "router"
	TransmitterKindDatabase    TransmitterKind = "database"
	TransmitterKindChart       TransmitterKind = "chart"
	TransmitterKindEngine      TransmitterKind = "engine"
)

// Transmitter identifies the object emitting an event.
type Transmitter struct {
	Kind   TransmitterKind `json:"kind"`
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name,omitempty"`
	Detail string          `json:"detail,omitempty"`
}

// TransmitterApplication returns an application transmitter; detail is the commit id.
func TransmitterApplication(id, name, commitID string) Transmitter {
	return Transmitter{Kind: TransmitterKindApplication, ID: id, Name: name, Detail: commitID}
}

// TransmitterRouter returns a router transmitter.
func TransmitterRouter(id, name string) Transmitter {
	return Transmitter{Kind: TransmitterKindRouter, ID: id, Name: name}
}

// TransmitterDatabase returns a database transmitter; detail is the database type.
func TransmitterDatabase(id, dbType, name string) Transmitter {
	return Transmitter{Kind: TransmitterKindDatabase, ID: id, Name: name, Detail: dbType}
}

// TransmitterChart returns a chart transmitter.
func TransmitterChart(name string) Transmitter {
	return Transmitter{Kind: TransmitterKindChart, ID: name, Name: name}
}

// TransmitterKubernetes returns a cluster transmitter.
func TransmitterKubernetes(clusterID string) Transmitter {
	return Transmitter{Kind: TransmitterKindKubernetes, ID: clusterID}
}

// TransmitterEngine returns the engine transmitter.
func TransmitterEngine() Transmitter {
	return Transmitter{Kind: TransmitterKindEngine, Name: "engine"}
}

// EventDetails is the correlation context carried by every event.
type EventDetails struct {
	ProviderKind   string      `json:"provider_kind,omitempty"`
	OrganisationID string      `json:"organisation_id,omitempty"`
	ClusterID      string      `json:"cluster_id,omitempty"`
	ExecutionID    string      `json:"execution_id,omitempty"`
	Region         string      `json:"region,omitempty"`
	Stage          Stage       `json:"stage"`
	Transmitter    Transmitter `json:"transmitter"`
}

// WithStage returns a copy of the details at stage.
func (d EventDetails) WithStage(stage Stage) EventDetails {
	d.Stage = stage
	return d
}

// WithTransmitter returns a copy of the details emitted by t.
func (d EventDetails) WithTransmitter(t Transmitter) EventDetails {
	d.Transmitter = t
	return d
}

// EngineEvent is one structured event.
type EngineEvent struct {
	Level     LogLevel     `json:"level"`
	Details   EventDetails `json:"details"`
	Message   EventMessage `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewEngineEvent creates an event stamped with the current time.
func NewEngineEvent(details EventDetails, msg EventMessage) EngineEvent {
	return EngineEvent{Details: details, Message: msg, Timestamp: time.Now()}
}

// EventLogger receives engine events. Implementations never fail and must
// be safe for concurrent use.
type EventLogger interface {
	Log(level LogLevel, event EngineEvent)
}

// NopEventLogger discards every event.
type NopEventLogger struct{}

// Log implements EventLogger.
func (NopEventLogger) Log(LogLevel, EngineEvent) {}

// EventLog writes events to the structured logger, counts them and
// publishes them to subscribers.
type EventLog struct {
	logger    *Logger
	metrics   *Metrics
	publisher *EventPublisher
}

// NewEventLog creates an event log. Any collaborator may be nil.
func NewEventLog(logger *Logger, metrics *Metrics, publisher *EventPublisher) *EventLog {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &EventLog{logger: logger, metrics: metrics, publisher: publisher}
}

// Log implements EventLogger.
func (l *EventLog) Log(level LogLevel, event EngineEvent) {
	event.Level = level
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	d := event.Details

	e := l.logger.WithLevel(level.zerolog()).
		Str("stage", d.Stage.String()).
		Str("transmitter", string(d.Transmitter.Kind))
	if d.Transmitter.Name != "" {
		e = e.Str("transmitter_name", d.Transmitter.Name)
	}
	if d.Transmitter.ID != "" && d.Transmitter.ID != d.Transmitter.Name {
		e = e.Str("transmitter_id", d.Transmitter.ID)
	}
	if d.ExecutionID != "" {
		e = e.Str("execution_id", d.ExecutionID)
	}
	if d.ClusterID != "" {
		e = e.Str("cluster_id", d.ClusterID)
	}
	if event.Message.FullDetails != "" {
		e = e.Str("details", event.Message.FullDetails)
	}
	e.Msg(event.Message.SafeMessage)

	l.metrics.RecordEvent(level.String())

	// publishing is best effort
	_ = l.publisher.Publish(Event{
		Timestamp:       event.Timestamp,
		Type:            EventTypeEngine,
		Source:          string(d.Transmitter.Kind),
		ExecutionID:     d.ExecutionID,
		TransmitterID:   d.Transmitter.ID,
		TransmitterName: d.Transmitter.Name,
		Stage:           d.Stage.String(),
		Message:         event.Message.SafeMessage,
		Details:         event.Message.FullDetails,
		Level:           level.String(),
	})
}

// EventRecorder keeps every event in memory. It is used by the CLI to
// summarize warnings and by tests to assert on emitted events.
type EventRecorder struct {
	mu     sync.Mutex
	events []EngineEvent
	next   EventLogger
}

// NewEventRecorder creates a recorder forwarding events to next, if any.
func NewEventRecorder(next EventLogger) *EventRecorder {
	return &EventRecorder{next: next}
}

// Log implements EventLogger.
func (r *EventRecorder) Log(level LogLevel, event EngineEvent) {
	event.Level = level
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	if r.next != nil {
		r.next.Log(level, event)
	}
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []EngineEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EngineEvent, len(r.events))
	copy(out, r.events)
	return out
}

// AtLevel returns the recorded events of the given level.
func (r *EventRecorder) AtLevel(level LogLevel) []EngineEvent {
	var out []EngineEvent
	for _, ev := range r.Events() {
		if ev.Level == level {
			out = append(out, ev)
		}
	}
	return out
}
