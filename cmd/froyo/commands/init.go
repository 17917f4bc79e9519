package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openfroyo/deployengine/pkg/config"
	"github.com/openfroyo/deployengine/pkg/stores"
)

const defaultSettings = `# OpenFroyo settings

log_level: info
log_format: console

# Charts of a level running at once, 0 is unbounded
max_parallel: 0

# Retries of the idempotent helm and kubectl calls
retry_attempts: 5
retry_delay: 2s

helm_binary: helm
kubectl_binary: kubectl

# Run journal
database_path: %s

# Directory of additional rego/json policies
policy_dir: ""

# Prometheus endpoint, e.g. ":9090"
metrics_addr: ""

# none, stdout or otlp
trace_exporter: none
trace_endpoint: ""
`

const starterManifest = `name: %s
namespace: %s
charts_dir: charts

environment:
  kubeconfig: ""
  kube_context: ""

charts:
  - name: cert-manager
    namespace: cert-manager
  - name: ingress
    namespace: nginx-ingress
    depends_on: [cert-manager]
    timeout_seconds: 600
`

func newInitCommand() *cobra.Command {
	var (
		manifest  string
		namespace string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize OpenFroyo settings and run journal",
		Long: `Initialize the settings file and the run journal, and optionally write a
starter manifest.

The settings are written to $HOME/.froyo/config.yaml unless --config is given.`,
		Example: `  # Initialize the settings and the journal
  froyo init

  # Also write a starter manifest
  froyo init --manifest platform.yaml --namespace env-42

  # Initialize with custom settings path
  froyo init --config /etc/froyo/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			settingsPath := configPath
			if settingsPath == "" {
				settingsPath = filepath.Join(config.DefaultHome(), "config.yaml")
			}
			dbPath := filepath.Join(filepath.Dir(settingsPath), "froyo.db")

			// Step 1: settings file
			if err := os.MkdirAll(filepath.Dir(settingsPath), 0o700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(settingsPath), err)
			}
			written, err := writeFile(settingsPath, fmt.Sprintf(defaultSettings, dbPath), force)
			if err != nil {
				return fmt.Errorf("failed to write settings file: %w", err)
			}
			if written {
				fmt.Fprintf(out, "✓ Created settings file: %s\n", settingsPath)
			} else {
				fmt.Fprintf(out, "✓ Settings file already exists: %s\n", settingsPath)
			}

			// Step 2: run journal, with the database path the settings now hold
			v, err := config.NewViper(settingsPath)
			if err != nil {
				return err
			}
			settings, err := config.LoadSettings(v)
			if err != nil {
				return err
			}
			store, err := stores.Open(cmd.Context(), settings.DatabasePath)
			if err != nil {
				return fmt.Errorf("failed to initialize run journal: %w", err)
			}
			if err := store.Close(); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Initialized run journal: %s\n", settings.DatabasePath)

			// Step 3: starter manifest
			if manifest != "" {
				name := filepath.Base(manifest)
				name = name[:len(name)-len(filepath.Ext(name))]
				written, err := writeFile(manifest, fmt.Sprintf(starterManifest, name, namespace), force)
				if err != nil {
					return fmt.Errorf("failed to write manifest: %w", err)
				}
				if written {
					fmt.Fprintf(out, "✓ Created manifest: %s\n", manifest)
				} else {
					fmt.Fprintf(out, "✓ Manifest already exists: %s\n", manifest)
				}
			}

			fmt.Fprintf(out, "\nNext steps:\n")
			fmt.Fprintf(out, "  1. Validate the manifest:\n")
			fmt.Fprintf(out, "     froyo validate -f <manifest>\n\n")
			fmt.Fprintf(out, "  2. Review the plan:\n")
			fmt.Fprintf(out, "     froyo plan -f <manifest>\n\n")

			return nil
		},
	}

	cmd.Flags().StringVar(&manifest, "manifest", "", "write a starter manifest to this path")
	cmd.Flags().StringVar(&namespace, "namespace", "default", "environment namespace of the starter manifest")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}

// writeFile writes content to path unless the file exists and force is
// not set. It reports whether the file was written.
func writeFile(path, content string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return false, err
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
