package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/deployengine/pkg/stores"
)

// runDetail is the structured output of runs show.
type runDetail struct {
	Run    *stores.Run          `json:"run" yaml:"run"`
	Units  []*stores.UnitResult `json:"units" yaml:"units"`
	Events []*stores.Event      `json:"events,omitempty" yaml:"events,omitempty"`
}

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run journal",
		Long:  `List and inspect the journaled deployment and lifecycle runs.`,
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsDeleteCommand())

	return cmd
}

// openJournal opens the run journal of the settings.
func openJournal(ctx context.Context, a *app) (*stores.SQLiteStore, error) {
	store, err := stores.Open(ctx, a.settings.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open run journal: %w", err)
	}
	return store, nil
}

func newRunsListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent runs",
		Example: `  # The last 20 runs
  froyo runs list

  # As JSON
  froyo runs list --limit 5 -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := openJournal(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if done, err := printStructured(a.out, runs); done {
				return err
			}

			fmt.Fprintf(a.out, "%-36s %-16s %-20s %-10s %-20s %s\n", "ID", "OPERATION", "MANIFEST", "STATUS", "STARTED", "DURATION")
			for _, r := range runs {
				fmt.Fprintf(a.out, "%-36s %-16s %-20s %-10s %-20s %s\n",
					r.ID, r.Operation, r.Manifest, r.Status,
					r.StartedAt.Local().Format(time.DateTime), r.Duration().Round(time.Second))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs, 0 lists every run")

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	var withEvents bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the unit outcomes and events of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := openJournal(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			detail := runDetail{}
			if detail.Run, err = store.GetRun(ctx, args[0]); err != nil {
				return err
			}
			if detail.Units, err = store.ListUnitResults(ctx, args[0]); err != nil {
				return err
			}
			if withEvents {
				if detail.Events, err = store.ListEvents(ctx, args[0]); err != nil {
					return err
				}
			}
			if done, err := printStructured(a.out, detail); done {
				return err
			}
			printRunDetail(a, detail)
			return nil
		},
	}

	cmd.Flags().BoolVar(&withEvents, "events", false, "include the events of the run")

	return cmd
}

func printRunDetail(a *app, d runDetail) {
	r := d.Run
	fmt.Fprintf(a.out, "Run:       %s\n", r.ID)
	fmt.Fprintf(a.out, "Operation: %s\n", r.Operation)
	fmt.Fprintf(a.out, "Manifest:  %s\n", r.Manifest)
	fmt.Fprintf(a.out, "Status:    %s\n", r.Status)
	fmt.Fprintf(a.out, "Started:   %s\n", r.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(a.out, "Duration:  %s\n", r.Duration().Round(time.Millisecond))
	if r.Error != nil {
		fmt.Fprintf(a.out, "Error:     %s\n", *r.Error)
	}

	if len(d.Units) > 0 {
		fmt.Fprintf(a.out, "\n%-6s %-30s %-24s %-8s %-10s %s\n", "LEVEL", "CHART", "NAMESPACE", "ACTION", "STATUS", "ERROR")
		for _, u := range d.Units {
			fmt.Fprintf(a.out, "%-6d %-30s %-24s %-8s %-10s %s\n", u.Level, u.Unit, u.Namespace, u.Action, u.Status, u.Error)
		}
	}

	if len(d.Events) > 0 {
		fmt.Fprintln(a.out)
		for _, e := range d.Events {
			fmt.Fprintf(a.out, "%s %-7s %-12s %s\n", e.Timestamp.Local().Format(time.TimeOnly), e.Level, e.TransmitterName, e.Message)
		}
	}
}

func newRunsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and everything journaled with it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := openJournal(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "✓ Deleted run %s\n", args[0])
			return nil
		},
	}
}
