package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/deployengine/pkg/config"
	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/policy"
)

// validationReport is the structured output of validate.
type validationReport struct {
	Manifest string         `json:"manifest" yaml:"manifest"`
	Valid    bool           `json:"valid" yaml:"valid"`
	Problems []string       `json:"problems,omitempty" yaml:"problems,omitempty"`
	Policy   *policy.Result `json:"policy,omitempty" yaml:"policy,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var (
		manifestPath string
		skipPolicy   bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a deployment manifest",
		Long: `Validate a deployment manifest against its schema and the policies.

This command checks:
  - CUE/YAML syntax validity
  - Schema conformance
  - Cross-references and chart dependencies
  - Policy compliance (OPA/rego)`,
		Example: `  # Validate a YAML manifest
  froyo validate -f platform.yaml

  # Validate a CUE package
  froyo validate -f ./platform

  # Skip the policy checks
  froyo validate -f platform.cue --skip-policy`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report := validationReport{Manifest: manifestPath}
			m, err := config.Load(manifestPath)
			if err != nil {
				if engine.CodeOf(err) != engine.ErrCodeValidation {
					return err
				}
				for _, p := range config.Problems(errors.Unwrap(err)) {
					report.Problems = append(report.Problems, p.Error())
				}
			}

			if m != nil && !skipPolicy {
				charts, err := m.BuildCharts()
				if err != nil {
					return err
				}
				pe, err := a.policies(cmd.Context())
				if err != nil {
					return err
				}
				if report.Policy, err = pe.EvaluateUnits(cmd.Context(), units(charts)); err != nil {
					return err
				}
			}
			report.Valid = len(report.Problems) == 0 && (report.Policy == nil || report.Policy.Allowed)

			if err := printValidation(a, report); err != nil {
				return err
			}
			if !report.Valid {
				return fmt.Errorf("manifest %s is invalid", manifestPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", "", "manifest file or CUE package directory")
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "skip the policy checks")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func printValidation(a *app, report validationReport) error {
	if done, err := printStructured(a.out, report); done {
		return err
	}

	for _, p := range report.Problems {
		fmt.Fprintf(a.out, "✗ %s\n", p)
	}
	if report.Policy != nil {
		for _, v := range report.Policy.Violations {
			fmt.Fprintf(a.out, "✗ %s\n", v)
		}
		for _, v := range report.Policy.Warnings {
			fmt.Fprintf(a.out, "! %s\n", v)
		}
	}
	if report.Valid {
		fmt.Fprintf(a.out, "✓ %s is valid\n", report.Manifest)
	}
	return nil
}
