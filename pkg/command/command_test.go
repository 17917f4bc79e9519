package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployengine/pkg/engine"
)

func TestExecRunner_CapturesOutput(t *testing.T) {
	r := NewExecRunner(nil)

	res, err := r.Run(context.Background(), Command{Binary: "sh", Args: []string{"-c", "echo out; echo err >&2; exit 3"}})

	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Success())
}

func TestExecRunner_Timeout(t *testing.T) {
	r := NewExecRunner(nil)

	_, err := r.Run(context.Background(), Command{Binary: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExecRunner_MissingBinary(t *testing.T) {
	r := NewExecRunner(nil)

	_, err := r.Run(context.Background(), Command{Binary: "definitely-not-a-binary-froyo"})
	require.Error(t, err)

	_, err = r.Run(context.Background(), Command{})
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		check  func(error) bool
	}{
		{"conflict", "Error: UPGRADE FAILED: another operation (install/upgrade/rollback) is in progress", engine.IsConflict},
		{"not found", "Error: release: not found", engine.IsNotFound},
		{"timeout", "Error: timed out waiting for the condition", engine.IsTimeout},
		{"throttled", "Error: Too Many Requests", engine.IsThrottled},
		{"transient", "Unable to connect to the server: dial tcp: connection refused", engine.IsTransient},
		{"generic", "Error: chart requires kubeVersion >=1.25", func(err error) bool {
			return engine.CodeOf(err) == engine.ErrCodeExternalTool
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("upgrade", "helm upgrade failed for release app", &Result{ExitCode: 1, Stderr: tt.stderr}, nil)
			require.Error(t, err)
			assert.True(t, tt.check(err))

			var e *engine.EngineError
			require.True(t, errors.As(err, &e))
			assert.Equal(t, "upgrade", e.Operation)
			assert.Equal(t, tt.stderr, e.FullDetails)
			assert.NotContains(t, e.SafeMessage(), "Error:")
		})
	}
}

func TestClassify_SuccessAndRunErrors(t *testing.T) {
	assert.NoError(t, Classify("status", "s", &Result{}, nil))

	err := Classify("upgrade", "helm upgrade failed", &Result{Stderr: "partial"}, ErrTimeout)
	assert.True(t, engine.IsTimeout(err))

	err = Classify("upgrade", "helm upgrade failed", nil, errors.New("exec: not found in $PATH"))
	assert.Equal(t, engine.ErrCodeExternalTool, engine.CodeOf(err))
}

func TestStderrError(t *testing.T) {
	stderr := "WARNING: Kubernetes configuration file is group-readable\nError: resource mapping not found\n"
	assert.Equal(t, "Error: resource mapping not found", StderrError(stderr))
	assert.Empty(t, StderrError("WARNING: only a warning"))
}
