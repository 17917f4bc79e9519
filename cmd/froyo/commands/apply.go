package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/deployengine/pkg/config"
	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/policy"
	"github.com/openfroyo/deployengine/pkg/stores"
)

// applyReport is the structured output of apply.
type applyReport struct {
	RunID    string               `json:"run_id" yaml:"run_id"`
	Status   engine.RunStatus     `json:"status" yaml:"status"`
	Duration time.Duration        `json:"duration" yaml:"duration"`
	Units    []*stores.UnitResult `json:"units" yaml:"units"`
	Warnings []policy.Violation   `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Error    string               `json:"error,omitempty" yaml:"error,omitempty"`
}

func newApplyCommand() *cobra.Command {
	var (
		manifestPath string
		dryRun       bool
		maxParallel  int
		skipPolicy   bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Deploy the charts of a manifest",
		Long: `Deploy the chart batch of a manifest level by level.

This command:
  - Checks the charts against the policies
  - Diffs every chart before anything is applied
  - Runs each level in parallel, aborting on the first failing level
  - Journals the run, its unit outcomes and its events`,
		Example: `  # Deploy a manifest
  froyo apply -f platform.yaml

  # Diff only
  froyo apply -f platform.yaml --dry-run

  # Deploy with limited parallelism
  froyo apply -f platform.yaml --max-parallel 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := config.Load(manifestPath)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-parallel") {
				maxParallel = a.settings.MaxParallel
			}
			return runApply(cmd.Context(), a, m, applyOptions{
				dryRun:      dryRun,
				maxParallel: maxParallel,
				skipPolicy:  skipPolicy,
			})
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", "", "manifest file or CUE package directory")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "diff the charts without applying them")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "max charts of a level running at once, 0 is unbounded")
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "skip the policy checks")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

type applyOptions struct {
	dryRun      bool
	maxParallel int
	skipPolicy  bool
}

func runApply(ctx context.Context, a *app, m *config.Manifest, opts applyOptions) error {
	if opts.maxParallel < 0 {
		return engine.NewValidationError(fmt.Sprintf("max parallel must not be negative, got %d", opts.maxParallel), nil)
	}
	levels, err := m.Levels()
	if err != nil {
		return err
	}

	j, err := a.startRun(ctx, &stores.Run{
		Manifest:  m.Name,
		Operation: "apply",
		DryRun:    opts.dryRun,
		Levels:    len(levels),
		Units:     levels.Size(),
	})
	if err != nil {
		return err
	}

	report := applyReport{RunID: j.run.ID}
	start := time.Now()
	_ = a.tel.Events.PublishDeploymentStarted(j.run.ID, levels.Size(), opts.dryRun)

	var runErr error
	if !opts.skipPolicy {
		report.Warnings, runErr = checkPolicies(ctx, a, j.run.ID, levels)
	}
	if runErr == nil {
		var rt *engine.Runtime
		if rt, runErr = a.runtime(m, j.run.ID); runErr == nil {
			deployer := engine.NewDeployer(engine.NewLevelRunner(opts.maxParallel, j.recorder))
			runErr = deployer.Deploy(ctx, levels, rt, opts.dryRun)
		}
	}

	report.Status = runStatus(opts.dryRun, runErr)
	report.Duration = time.Since(start)
	if runErr != nil {
		report.Error = runErr.Error()
	}
	_ = a.tel.Events.PublishDeploymentFinished(j.run.ID, string(report.Status), report.Duration)

	if results, err := j.store.ListUnitResults(context.WithoutCancel(ctx), j.run.ID); err == nil {
		report.Units = results
	}
	j.finish(ctx, report.Status, runErr)

	if err := printApply(a, report); err != nil {
		return err
	}
	return runErr
}

// checkPolicies evaluates the policies over every unit of the batch. Any
// blocking violation stops the deployment before the diff pass.
func checkPolicies(ctx context.Context, a *app, runID string, levels engine.Levels) ([]policy.Violation, error) {
	pe, err := a.policies(ctx)
	if err != nil {
		return nil, err
	}

	var all []*engine.Unit
	for _, level := range levels {
		all = append(all, units(level)...)
	}
	result, err := pe.EvaluateUnits(ctx, all)
	if err != nil {
		return nil, err
	}

	for _, w := range result.Warnings {
		a.logger.WithExecutionID(runID).Warnf("policy warning: %s", w)
	}
	if result.Allowed {
		return result.Warnings, nil
	}
	for _, v := range result.Violations {
		_ = a.tel.Events.PublishPolicyViolation(runID, v.Unit, v.Policy, v.Message)
	}
	return result.Warnings, engine.NewValidationError(
		fmt.Sprintf("deployment denied by %d policy violation(s)", len(result.Violations)), nil).
		WithCode(policy.ErrCodePolicyDenied)
}

func printApply(a *app, report applyReport) error {
	if done, err := printStructured(a.out, report); done {
		return err
	}

	fmt.Fprintf(a.out, "Run: %s\n\n", report.RunID)
	if len(report.Units) > 0 {
		fmt.Fprintf(a.out, "%-6s %-30s %-24s %-8s %-10s %s\n", "LEVEL", "CHART", "NAMESPACE", "ACTION", "STATUS", "DURATION")
		for _, u := range report.Units {
			fmt.Fprintf(a.out, "%-6d %-30s %-24s %-8s %-10s %s\n",
				u.Level, u.Unit, u.Namespace, u.Action, u.Status, u.Duration.Round(time.Millisecond))
		}
		fmt.Fprintln(a.out)
	}
	for _, w := range report.Warnings {
		fmt.Fprintf(a.out, "! %s\n", w)
	}

	switch report.Status {
	case engine.RunStatusSucceeded:
		fmt.Fprintf(a.out, "✓ Deployment succeeded in %s\n", report.Duration.Round(time.Millisecond))
	case engine.RunStatusDryRun:
		fmt.Fprintln(a.out, "✓ Dry run complete, nothing applied")
	default:
		fmt.Fprintf(a.out, "✗ Deployment failed: %s\n", report.Error)
	}
	return nil
}
