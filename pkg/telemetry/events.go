package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is the published form of an engine event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source is the transmitter kind (chart, application, router, ...).
	Source string `json:"source"`

	// ExecutionID correlates every event of one deployment or lifecycle call.
	ExecutionID string `json:"execution_id,omitempty"`

	// TransmitterID and TransmitterName identify the emitting object.
	TransmitterID   string `json:"transmitter_id,omitempty"`
	TransmitterName string `json:"transmitter_name,omitempty"`

	// Stage is the stage kind and step, e.g. "environment/deploy".
	Stage string `json:"stage,omitempty"`

	// Message is the operator-safe event message.
	Message string `json:"message"`

	// Details holds the full diagnostics, if any.
	Details string `json:"details,omitempty"`

	// Level is the event severity level (debug, info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeEngine             = "engine.event"
	EventTypeDeploymentStarted  = "deployment.started"
	EventTypeDeploymentFinished = "deployment.finished"
	EventTypePolicyViolation    = "policy.violation"
)

// EventLevel constants for event severity.
const (
	EventLevelDebug   = "debug"
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event or log warning
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishDeploymentStarted publishes a deployment started event.
func (ep *EventPublisher) PublishDeploymentStarted(executionID string, charts int, dryRun bool) error {
	return ep.Publish(Event{
		Type:        EventTypeDeploymentStarted,
		Source:      string(TransmitterKindEngine),
		ExecutionID: executionID,
		Message:     fmt.Sprintf("Deployment %s started with %d charts", executionID, charts),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"charts":  charts,
			"dry_run": dryRun,
		},
	})
}

// PublishDeploymentFinished publishes a deployment finished event.
func (ep *EventPublisher) PublishDeploymentFinished(executionID, status string, duration time.Duration) error {
	level := EventLevelInfo
	if status == "failed" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:        EventTypeDeploymentFinished,
		Source:      string(TransmitterKindEngine),
		ExecutionID: executionID,
		Message:     fmt.Sprintf("Deployment %s finished with status: %s", executionID, status),
		Level:       level,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(executionID, unit, policyName, reason string) error {
	return ep.Publish(Event{
		Type:            EventTypePolicyViolation,
		Source:          "policy_engine",
		ExecutionID:     executionID,
		TransmitterName: unit,
		Message:         fmt.Sprintf("Policy violation on chart %s: %s - %s", unit, policyName, reason),
		Level:           EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents delivers buffered events until shutdown, then drains the buffer.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers in registration order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelDebug:   0,
		EventLevelInfo:    1,
		EventLevelWarning: 2,
		EventLevelError:   3,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByExecutionID creates a filter that only allows events of one execution.
func FilterByExecutionID(executionID string) EventFilter {
	return func(event Event) bool {
		return event.ExecutionID == executionID
	}
}
