package service

import (
	"context"
	"fmt"

	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// Resource specific error codes.
const (
	ErrCodeRouterFailedToDeploy = "ROUTER_FAILED_TO_DEPLOY"
	ErrCodeDomainNotResolvable  = "DOMAIN_NOT_RESOLVABLE"
)

// State is a lifecycle state of a resource operation.
type State string

const (
	StateIdle      State = "idle"
	StateChecking  State = "checking"
	StateExecuting State = "executing"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Outcome is the result of one driven operation.
type Outcome struct {
	Resource string
	Kind     Kind
	Action   Action
	State    State
	Err      error
}

// hooks is the check/operation/error triple of one action.
type hooks struct {
	check func(context.Context, *Target) error
	run   func(context.Context, *Target) error
	fail  func(context.Context, *Target) error
}

func hooksFor(res Resource, action Action) (hooks, error) {
	switch action {
	case ActionCreate:
		return hooks{res.OnCreateCheck, res.OnCreate, res.OnCreateError}, nil
	case ActionPause:
		return hooks{res.OnPauseCheck, res.OnPause, res.OnPauseError}, nil
	case ActionDelete:
		return hooks{res.OnDeleteCheck, res.OnDelete, res.OnDeleteError}, nil
	default:
		return hooks{}, engine.NewValidationError(fmt.Sprintf("invalid resource action: %s", action), nil).
			WithResource(res.ID())
	}
}

// Driver runs resource operations through Idle, Checking, Executing and
// then Succeeded or Failed. One call drives one resource to completion.
type Driver struct {
	target *Target
}

// NewDriver creates a driver bound to target.
func NewDriver(target *Target) *Driver {
	return &Driver{target: target}
}

// Run drives the declared action of res.
func (d *Driver) Run(ctx context.Context, res Resource) Outcome {
	return d.Do(ctx, res, res.Action())
}

// Do drives action on res. On failure the error hook runs as best-effort
// cleanup: its own error is logged as a warning and never replaces the
// original one.
func (d *Driver) Do(ctx context.Context, res Resource, action Action) Outcome {
	t := d.target
	caps := res.Capabilities()
	out := Outcome{Resource: res.ID(), Kind: caps.Kind, Action: action, State: StateIdle}

	var rt engine.Runtime
	if t.Runtime != nil {
		rt = *t.Runtime
	}
	ctx, span := rt.Tracer.StartLifecycleSpan(ctx, string(caps.Kind), res.ID(), string(action))
	defer span.End()

	h, err := hooksFor(res, action)
	if err != nil {
		out.State, out.Err = StateFailed, err
		telemetry.RecordError(span, err)
		return out
	}

	step := action.step()
	t.infof(res, step, "%s of %s %s started", action, caps.Kind, res.Name())

	out.State = StateChecking
	err = h.check(ctx, t)
	if err == nil {
		out.State = StateExecuting
		err = h.run(ctx, t)
	}

	if err != nil {
		err = engine.AnnotateResource(err, string(action), res.ID())
		out.State, out.Err = StateFailed, err
		t.log(res, step, telemetry.LogLevelError, telemetry.NewEventMessage(
			fmt.Sprintf("%s of %s %s failed: %s", action, caps.Kind, res.Name(), engine.SafeMessageOf(err)),
			err.Error(),
		))
		if ferr := h.fail(ctx, t); ferr != nil {
			t.warn(res, step, fmt.Sprintf("error hook of %s %s failed", caps.Kind, res.Name()), ferr)
		}
		rt.Metrics.RecordLifecycle(string(caps.Kind), string(action), string(StateFailed))
		rt.Metrics.RecordError(engine.CodeOf(err))
		telemetry.RecordError(span, err)
		return out
	}

	out.State = StateSucceeded
	t.infof(res, step, "%s of %s %s succeeded", action, caps.Kind, res.Name())
	rt.Metrics.RecordLifecycle(string(caps.Kind), string(action), string(StateSucceeded))
	telemetry.RecordSuccess(span)
	return out
}

// Create runs the create operation of res.
func (d *Driver) Create(ctx context.Context, res Resource) error {
	return d.Do(ctx, res, ActionCreate).Err
}

// Pause runs the pause operation of res.
func (d *Driver) Pause(ctx context.Context, res Resource) error {
	return d.Do(ctx, res, ActionPause).Err
}

// Delete runs the delete operation of res.
func (d *Driver) Delete(ctx context.Context, res Resource) error {
	return d.Do(ctx, res, ActionDelete).Err
}
