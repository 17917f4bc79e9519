package policy

import (
	"time"

	"github.com/openfroyo/deployengine/pkg/engine"
)

// Error codes of the policy engine.
const (
	ErrCodeEvaluationFailed = "POLICY_EVALUATION_FAILED"
	ErrCodePolicyDenied     = "POLICY_DENIED"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the deployment.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Its deny set holds the violations.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks the policies shipped with the engine.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Unit is the chart unit that violated the policy.
	Unit string `json:"unit,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Remediation provides suggested fixes.
	Remediation string `json:"remediation,omitempty"`
}

func (v Violation) String() string {
	if v.Unit == "" {
		return "[" + v.Policy + "] " + v.Message
	}
	return "[" + v.Policy + "] " + v.Unit + ": " + v.Message
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed indicates if the deployment may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists the blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists the violations that don't block the deployment.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the policies were evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document a policy sees as input.
type Input struct {
	Unit UnitDocument `json:"unit"`
}

// UnitDocument is the policy view of a chart unit.
type UnitDocument struct {
	Name            string            `json:"name"`
	Namespace       string            `json:"namespace"`
	Action          string            `json:"action"`
	Atomic          bool              `json:"atomic"`
	Wait            bool              `json:"wait"`
	ForceUpgrade    bool              `json:"force_upgrade"`
	DryRun          bool              `json:"dry_run"`
	TimeoutSeconds  int64             `json:"timeout_seconds"`
	BreakingVersion string            `json:"breaking_version,omitempty"`
	Values          map[string]string `json:"values,omitempty"`
	ValuesFiles     []string          `json:"values_files,omitempty"`
}

// NewInput builds the policy input of a unit.
func NewInput(unit *engine.Unit) Input {
	doc := UnitDocument{
		Name:           unit.Name,
		Namespace:      unit.NamespaceName(),
		Action:         string(unit.Action),
		Atomic:         unit.Atomic,
		Wait:           unit.Wait,
		ForceUpgrade:   unit.ForceUpgrade,
		DryRun:         unit.DryRun,
		TimeoutSeconds: int64(unit.Timeout / time.Second),
		ValuesFiles:    unit.ValuesFiles,
	}
	if unit.Timeout == 0 {
		doc.TimeoutSeconds = int64(unit.EffectiveTimeout() / time.Second)
	}
	if unit.BreakingVersion != nil {
		doc.BreakingVersion = unit.BreakingVersion.String()
	}
	if len(unit.Values) > 0 {
		doc.Values = make(map[string]string, len(unit.Values))
		for _, v := range unit.Values {
			doc.Values[v.Key] = v.Value
		}
	}
	return Input{Unit: doc}
}
