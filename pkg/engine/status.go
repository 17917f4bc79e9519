package engine

import (
	"fmt"
)

// RunStatus represents the overall status of a deployment batch.
type RunStatus string

const (
	// RunStatusRunning indicates the batch is executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every level completed.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates a level failed and later levels were not started.
	RunStatusFailed RunStatus = "failed"

	// RunStatusDryRun indicates the batch stopped after the diff pass.
	RunStatusDryRun RunStatus = "dry_run"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusDryRun
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusDryRun:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// UnitStatus is the outcome of a single chart unit.
type UnitStatus string

const (
	UnitStatusSucceeded UnitStatus = "succeeded"
	UnitStatusFailed    UnitStatus = "failed"
	UnitStatusSkipped   UnitStatus = "skipped"
)

// Validate checks if the unit status is valid.
func (s UnitStatus) Validate() error {
	switch s {
	case UnitStatusSucceeded, UnitStatusFailed, UnitStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid unit status: %s", s)
	}
}

// Phase names used as error stages and span names.
const (
	PhaseCheckPrerequisites = "check_prerequisites"
	PhasePreExecute         = "pre_execute"
	PhaseExecute            = "execute"
	PhasePostExecute        = "post_execute"
	PhaseOnDeployFailure    = "on_deploy_failure"
)
