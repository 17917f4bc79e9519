package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/deployengine/pkg/config"
	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/policy"
	"github.com/openfroyo/deployengine/pkg/stores"
)

// planLevel is one level of a plan.
type planLevel struct {
	Level  int      `json:"level" yaml:"level"`
	Charts []string `json:"charts" yaml:"charts"`
}

// planReport is the structured output of plan.
type planReport struct {
	RunID  string            `json:"run_id" yaml:"run_id"`
	Levels []planLevel       `json:"levels" yaml:"levels"`
	Diffs  []engine.UnitDiff `json:"diffs" yaml:"diffs"`
	Policy *policy.Result    `json:"policy,omitempty" yaml:"policy,omitempty"`
	Error  string            `json:"error,omitempty" yaml:"error,omitempty"`
}

func newPlanCommand() *cobra.Command {
	var (
		manifestPath string
		dotFile      string
		watch        bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a deployment would change",
		Long: `Compute the level graph of a manifest and diff every chart of the batch
against the live releases. Nothing is applied.

The plan:
  - Orders the charts into levels by their dependencies
  - Diffs every chart with the deploy action
  - Reports the policy violations of the batch
  - Journals the run as a dry run

With --watch the policy directory is watched as well.`,
		Example: `  # Plan a deployment
  froyo plan -f platform.yaml

  # Plan with execution graph visualization
  froyo plan -f platform.yaml --dot plan.dot

  # Plan again on every change of the manifest
  froyo plan -f platform.cue --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			pe, err := a.policies(cmd.Context())
			if err != nil {
				return err
			}

			if !watch {
				m, err := config.Load(manifestPath)
				if err != nil {
					return err
				}
				return runPlan(cmd.Context(), a, pe, m, dotFile)
			}

			if a.settings.PolicyDir != "" {
				if err := pe.Watch(cmd.Context(), a.settings.PolicyDir); err != nil {
					return err
				}
			}
			return config.Watch(cmd.Context(), manifestPath, a.logger, func(m *config.Manifest, err error) {
				if err != nil {
					a.logger.WithError(err).Error("manifest is invalid")
					return
				}
				if err := runPlan(cmd.Context(), a, pe, m, dotFile); err != nil {
					a.logger.WithError(err).Error("plan failed")
				}
			})
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", "", "manifest file or CUE package directory")
	cmd.Flags().StringVar(&dotFile, "dot", "", "output DOT graph file (optional)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "plan again when the manifest changes")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runPlan(ctx context.Context, a *app, pe *policy.Engine, m *config.Manifest, dotFile string) error {
	charts, err := m.BuildCharts()
	if err != nil {
		return err
	}
	builder := engine.NewLevelBuilder()
	levels, err := builder.Build(charts, m.Dependencies())
	if err != nil {
		return err
	}

	if dotFile != "" {
		if err := os.WriteFile(dotFile, []byte(builder.ToDOT()), 0o644); err != nil {
			return fmt.Errorf("failed to write DOT graph: %w", err)
		}
		a.logger.WithField("dot", dotFile).Info("wrote level graph")
	}

	j, err := a.startRun(ctx, &stores.Run{
		Manifest:  m.Name,
		Operation: "plan",
		DryRun:    true,
		Levels:    len(levels),
		Units:     levels.Size(),
	})
	if err != nil {
		return err
	}

	report := planReport{RunID: j.run.ID}
	for i, names := range builder.GetLevels() {
		report.Levels = append(report.Levels, planLevel{Level: i, Charts: names})
	}

	report.Policy, err = pe.EvaluateUnits(ctx, units(charts))
	if err == nil {
		var rt *engine.Runtime
		if rt, err = a.runtime(m, j.run.ID); err == nil {
			report.Diffs, err = engine.NewDeployer(nil).Diff(ctx, levels, rt)
		}
	}
	j.finish(ctx, runStatus(true, err), err)
	if err != nil {
		report.Error = err.Error()
	}

	if printErr := printPlan(a, report); printErr != nil {
		return printErr
	}
	return err
}

func printPlan(a *app, report planReport) error {
	if done, err := printStructured(a.out, report); done {
		return err
	}

	fmt.Fprintf(a.out, "Run: %s\n\n", report.RunID)
	for _, l := range report.Levels {
		fmt.Fprintf(a.out, "Level %d:\n", l.Level)
		for _, name := range l.Charts {
			fmt.Fprintf(a.out, "  - %s\n", name)
		}
	}
	for _, d := range report.Diffs {
		fmt.Fprintf(a.out, "\n--- %s (%s, level %d)\n", d.Unit, d.Namespace, d.Level)
		if d.Diff == "" {
			fmt.Fprintln(a.out, "no changes")
			continue
		}
		fmt.Fprintln(a.out, d.Diff)
	}
	if report.Policy != nil {
		for _, v := range report.Policy.Violations {
			fmt.Fprintf(a.out, "\n✗ %s: %s (%s)", v.Unit, v.Message, v.Policy)
		}
		for _, v := range report.Policy.Warnings {
			fmt.Fprintf(a.out, "\n! %s: %s (%s)", v.Unit, v.Message, v.Policy)
		}
		if len(report.Policy.Violations)+len(report.Policy.Warnings) > 0 {
			fmt.Fprintln(a.out)
		}
	}
	if report.Error != "" {
		fmt.Fprintf(a.out, "\n✗ %s\n", report.Error)
	}
	return nil
}
