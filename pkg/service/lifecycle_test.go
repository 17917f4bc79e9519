package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

func TestDriver_SuccessfulOperation(t *testing.T) {
	rig := newServiceRig()
	res := newScriptedResource()

	out := NewDriver(rig.target).Run(context.Background(), res)

	require.NoError(t, out.Err)
	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, ActionCreate, out.Action)
	assert.Equal(t, []string{"create_check", "create"}, res.Order())

	infos := rig.Events.AtLevel(telemetry.LogLevelInfo)
	require.Len(t, infos, 2)
	assert.Equal(t, telemetry.EnvironmentStage(telemetry.StepDeploy), infos[0].Details.Stage)
	assert.Equal(t, telemetry.TransmitterKindApplication, infos[0].Details.Transmitter.Kind)
	assert.Contains(t, infos[1].Message.SafeMessage, "succeeded")
}

func TestDriver_CheckFailureSkipsOperation(t *testing.T) {
	rig := newServiceRig()
	res := newScriptedResource()
	res.check = func() error { return engine.NewValidationError("bad input", nil) }

	out := NewDriver(rig.target).Do(context.Background(), res, ActionPause)

	require.Error(t, out.Err)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, []string{"pause_check", "pause_error"}, res.Order())
	assert.Equal(t, engine.ErrCodeValidation, engine.CodeOf(out.Err))
}

func TestDriver_ErrorHookFailureNeverReplacesError(t *testing.T) {
	rig := newServiceRig()
	res := newScriptedResource()
	res.run = func() error { return engine.NewTimeoutError("helm timed out", nil) }
	res.fail = func() error { return engine.NewExternalToolError("cleanup failed", "stderr", nil) }

	err := NewDriver(rig.target).Delete(context.Background(), res)

	require.Error(t, err)
	assert.True(t, engine.IsTimeout(err))
	assert.Equal(t, []string{"delete_check", "delete", "delete_error"}, res.Order())

	var engineErr *engine.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, "res-1", engineErr.Resource)
	assert.Equal(t, string(ActionDelete), engineErr.Stage)

	warnings := rig.warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message.FullDetails, "cleanup failed")
	assert.NotEmpty(t, rig.Events.AtLevel(telemetry.LogLevelError))
}

func TestDriver_PlainErrorIsAnnotated(t *testing.T) {
	rig := newServiceRig()
	res := newScriptedResource()
	res.run = func() error { return errors.New("boom") }

	err := NewDriver(rig.target).Create(context.Background(), res)

	require.Error(t, err)
	var engineErr *engine.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, engine.ErrCodeInternal, engineErr.Code)
	assert.Equal(t, "res-1", engineErr.Resource)
	assert.Equal(t, "internal engine error", engine.SafeMessageOf(errors.New("x")))
}

func TestDriver_InvalidAction(t *testing.T) {
	rig := newServiceRig()
	res := newScriptedResource()

	out := NewDriver(rig.target).Do(context.Background(), res, Action("resume"))

	require.Error(t, out.Err)
	assert.Equal(t, StateFailed, out.State)
	assert.Empty(t, res.Order())
	assert.Error(t, Action("resume").Validate())
	assert.NoError(t, ActionPause.Validate())
}

func TestMeta_DefaultAction(t *testing.T) {
	assert.Equal(t, ActionCreate, Meta{}.Action())
	assert.Equal(t, ActionDelete, Meta{RequestedAction: ActionDelete}.Action())
}
