package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/deployengine/pkg/config"
	"github.com/openfroyo/deployengine/pkg/engine"
)

// historyReport is the structured output of history.
type historyReport struct {
	Release   string                `json:"release" yaml:"release"`
	Live      *engine.HistoryEntry  `json:"live,omitempty" yaml:"live,omitempty"`
	Revisions []engine.HistoryEntry `json:"revisions" yaml:"revisions"`
}

func newHistoryCommand() *cobra.Command {
	var (
		namespace    string
		manifestPath string
	)

	cmd := &cobra.Command{
		Use:   "history <release>",
		Short: "Show the revisions of a release",
		Long: `Show the revision history of a release and the revision currently deployed.

The credentials of the cluster are taken from the manifest when one is given.`,
		Example: `  # History of the ingress controller
  froyo history ingress -n nginx-ingress

  # Using the cluster credentials of a manifest
  froyo history coredns -n kube-system -f platform.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			m := &config.Manifest{}
			if manifestPath != "" {
				if m, err = config.Load(manifestPath); err != nil {
					return err
				}
			}
			rt, err := a.runtime(m, "")
			if err != nil {
				return err
			}

			name := args[0]
			revisions, err := rt.Tools.Release.History(cmd.Context(), rt.Env, name, namespace)
			if err != nil {
				return err
			}
			report := historyReport{Release: name, Revisions: revisions}
			if live, err := engine.LatestSuccessfulDeployment(revisions); err == nil {
				report.Live = &live
			}

			if done, err := printStructured(a.out, report); done {
				return err
			}
			fmt.Fprintf(a.out, "%-9s %-12s %-30s %-12s %s\n", "REVISION", "STATUS", "CHART", "APP VERSION", "DESCRIPTION")
			for _, r := range revisions {
				fmt.Fprintf(a.out, "%-9d %-12s %-30s %-12s %s\n", r.Revision, r.Status, r.Chart, r.AppVersion, r.Description)
			}
			if report.Live == nil {
				fmt.Fprintf(a.out, "\nNo deployed revision of %s\n", name)
				return nil
			}
			if version, err := report.Live.ChartVersion(); err == nil {
				fmt.Fprintf(a.out, "\nLive: revision %d, chart version %s\n", report.Live.Revision, version)
			} else {
				fmt.Fprintf(a.out, "\nLive: revision %d\n", report.Live.Revision)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "default", "namespace of the release")
	cmd.Flags().StringVarP(&manifestPath, "file", "f", "", "manifest providing the cluster credentials")

	return cmd
}
