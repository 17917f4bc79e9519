package commands

import (
	"context"
	"fmt"
	"net"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/openfroyo/deployengine/pkg/config"
	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/service"
	"github.com/openfroyo/deployengine/pkg/stores"
)

// serviceOutcome is one row of the service command output.
type serviceOutcome struct {
	Resource string         `json:"resource" yaml:"resource"`
	Kind     service.Kind   `json:"kind" yaml:"kind"`
	Action   service.Action `json:"action" yaml:"action"`
	State    service.State  `json:"state" yaml:"state"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
}

func newServiceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Drive the lifecycle of the services of an environment",
		Long: `Create, pause or delete the applications, routers and databases declared
in a manifest.

Services are created in dependency order: databases, then applications, then
routers. Deletion runs in the reverse order.`,
	}

	cmd.AddCommand(newServiceActionCommand(service.ActionCreate, "Create or update services"))
	cmd.AddCommand(newServiceActionCommand(service.ActionPause, "Pause services, keeping their data"))
	cmd.AddCommand(newServiceActionCommand(service.ActionDelete, "Delete services and their data"))

	return cmd
}

func newServiceActionCommand(action service.Action, short string) *cobra.Command {
	var (
		manifestPath string
		ids          []string
	)

	cmd := &cobra.Command{
		Use:   string(action),
		Short: short,
		Example: fmt.Sprintf(`  # Every service of the environment
  froyo service %[1]s -f environment.yaml

  # A single router
  froyo service %[1]s -f environment.yaml --id router-main`, action),
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
			return runService(cmd.Context(), a, m, action, ids)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", "", "manifest file or CUE package directory")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "limit the operation to the services with these ids")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// selectServices returns the services of m to run action on, in the order
// the action runs them.
func selectServices(m *config.Manifest, action service.Action, ids []string) ([]service.Resource, error) {
	resources := m.Services()
	if len(ids) > 0 {
		resources = resources[:0:0]
		for _, id := range ids {
			res, ok := m.Service(id)
			if !ok {
				return nil, engine.NewNotFoundError(fmt.Sprintf("service %s is not declared in %s", id, m.Name), nil)
			}
			resources = append(resources, res)
		}
	}

	if action == service.ActionDelete {
		reversed := make([]service.Resource, len(resources))
		for i, res := range resources {
			reversed[len(resources)-1-i] = res
		}
		resources = reversed
	}
	return resources, nil
}

func runService(ctx context.Context, a *app, m *config.Manifest, action service.Action, ids []string) error {
	if m.Namespace == "" {
		return engine.NewValidationError(fmt.Sprintf("manifest %s declares no environment namespace", m.Name), nil)
	}
	resources, err := selectServices(m, action, ids)
	if err != nil {
		return err
	}

	j, err := a.startRun(ctx, &stores.Run{
		Manifest:  m.Name,
		Operation: "service." + string(action),
		Units:     len(resources),
	})
	if err != nil {
		return err
	}

	var (
		outcomes []serviceOutcome
		errs     *multierror.Error
	)
	rt, err := a.runtime(m, j.run.ID)
	if err != nil {
		errs = multierror.Append(errs, err)
	} else {
		driver := service.NewDriver(&service.Target{
			Runtime:      rt,
			Deployer:     engine.NewDeployer(engine.NewLevelRunner(a.settings.MaxParallel, j.recorder)),
			Cluster:      m.Cluster,
			Namespace:    m.Namespace,
			ChartsDir:    m.ChartsPath(),
			Resolver:     net.DefaultResolver,
			Applications: m.Applications,
			Retry:        a.settings.RetryPolicy(),
		})

		for _, res := range resources {
			out := driver.Do(ctx, res, action)
			row := serviceOutcome{Resource: out.Resource, Kind: out.Kind, Action: out.Action, State: out.State}
			if out.Err != nil {
				row.Error = out.Err.Error()
				errs = multierror.Append(errs, out.Err)
			}
			outcomes = append(outcomes, row)

			// later services depend on the earlier ones, a deletion goes on
			if out.Err != nil && action != service.ActionDelete {
				break
			}
		}
	}

	runErr := errs.ErrorOrNil()
	j.finish(ctx, runStatus(false, runErr), runErr)

	if done, err := printStructured(a.out, outcomes); done {
		if err != nil {
			return err
		}
		return runErr
	}
	fmt.Fprintf(a.out, "Run: %s\n\n", j.run.ID)
	fmt.Fprintf(a.out, "%-30s %-12s %-8s %-10s %s\n", "SERVICE", "KIND", "ACTION", "STATE", "ERROR")
	for _, o := range outcomes {
		fmt.Fprintf(a.out, "%-30s %-12s %-8s %-10s %s\n", o.Resource, o.Kind, o.Action, o.State, o.Error)
	}
	return runErr
}
