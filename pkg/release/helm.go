// Package release drives the helm CLI on behalf of the engine.
package release

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/openfroyo/deployengine/pkg/command"
	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

const (
	toolName = "helm"

	// historyMax bounds both the stored and the queried release history.
	historyMax = 20

	// grace added to the helm timeout before the process is killed
	processGrace = 30
)

// Helm implements engine.ReleaseTool on top of the helm binary.
type Helm struct {
	binary string
	runner command.Runner
}

// New resolves binary in PATH and returns an adapter running real processes.
func New(binary string, logger *telemetry.Logger) (*Helm, error) {
	if binary == "" {
		binary = toolName
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("helm binary %q not found", binary), err)
	}
	return NewWithRunner(path, command.NewExecRunner(logger)), nil
}

// NewWithRunner returns an adapter using runner, without looking up binary.
func NewWithRunner(binary string, runner command.Runner) *Helm {
	return &Helm{binary: binary, runner: runner}
}

// run executes one helm command and classifies its failure.
func (h *Helm) run(ctx context.Context, env engine.Environment, operation, safe string, timeout int, args ...string) (*command.Result, error) {
	if env.KubeContext != "" {
		args = append(args, "--kube-context", env.KubeContext)
	}
	cmd := command.Command{
		Binary: h.binary,
		Args:   args,
		Env:    env.Environ(),
	}
	if timeout > 0 {
		cmd.Timeout = time.Duration(timeout+processGrace) * time.Second
	}

	var res *command.Result
	err := telemetry.RecordExternalCall(ctx, toolName, operation, func(ctx context.Context) error {
		var runErr error
		res, runErr = h.runner.Run(ctx, cmd)
		return command.Classify(operation, safe, res, runErr)
	})
	return res, err
}

// UpgradeInstall installs the release or upgrades it in place.
func (h *Helm) UpgradeInstall(ctx context.Context, env engine.Environment, unit *engine.Unit) error {
	tmp, files, err := writeGeneratedValues(unit)
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	timeout := int(unit.EffectiveTimeout().Seconds())
	args := []string{
		"upgrade", "--install", unit.Name, unit.Path,
		"--namespace", unit.NamespaceName(),
		"--create-namespace",
		"--timeout", strconv.Itoa(timeout) + "s",
		"--history-max", strconv.Itoa(historyMax),
	}
	if unit.Atomic {
		args = append(args, "--atomic")
	}
	if unit.ForceUpgrade {
		args = append(args, "--force")
	}
	if unit.Wait {
		args = append(args, "--wait")
	}
	if unit.DryRun {
		args = append(args, "--dry-run")
	}
	args = append(args, valuesArgs(unit, files)...)

	safe := fmt.Sprintf("helm upgrade failed for release %s", unit.Name)
	res, err := h.run(ctx, env, "upgrade", safe, timeout, args...)
	if err != nil {
		return err
	}
	if unit.ParseStderrForError {
		if msg := command.StderrError(res.Stderr); msg != "" {
			return engine.NewExternalToolError(safe, res.Stderr, fmt.Errorf("%s", msg)).WithOperation("upgrade")
		}
	}
	return nil
}

// Uninstall removes the release. An absent release is not an error.
func (h *Helm) Uninstall(ctx context.Context, env engine.Environment, unit *engine.Unit) error {
	timeout := int(unit.EffectiveTimeout().Seconds())
	_, err := h.run(ctx, env, "uninstall",
		fmt.Sprintf("helm uninstall failed for release %s", unit.Name), timeout,
		"uninstall", unit.Name,
		"--namespace", unit.NamespaceName(),
		"--wait",
		"--timeout", strconv.Itoa(timeout)+"s",
	)
	if engine.IsNotFound(err) {
		return nil
	}
	return err
}

type listEntry struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Status    string `json:"status"`
}

// IsDeployed reports whether a release of any status exists.
func (h *Helm) IsDeployed(ctx context.Context, env engine.Environment, name, namespace string) (bool, error) {
	safe := fmt.Sprintf("helm list failed for release %s", name)
	res, err := h.run(ctx, env, "list", safe, 0,
		"list", "--all",
		"--namespace", namespace,
		"--filter", "^"+name+"$",
		"--output", "json",
	)
	if err != nil {
		return false, err
	}
	var entries []listEntry
	if err := decodeJSON(res.Stdout, &entries); err != nil {
		return false, engine.NewExternalToolError(safe+": malformed output", res.Stdout, err).WithOperation("list")
	}
	for _, e := range entries {
		if e.Name == name {
			return true, nil
		}
	}
	return false, nil
}

type historyRow struct {
	Revision    int    `json:"revision"`
	Updated     string `json:"updated"`
	Status      string `json:"status"`
	Chart       string `json:"chart"`
	AppVersion  string `json:"app_version"`
	Description string `json:"description"`
}

// History returns the release history, oldest first. A release that was
// never installed has an empty history.
func (h *Helm) History(ctx context.Context, env engine.Environment, name, namespace string) ([]engine.HistoryEntry, error) {
	safe := fmt.Sprintf("helm history failed for release %s", name)
	res, err := h.run(ctx, env, "history", safe, 0,
		"history", name,
		"--namespace", namespace,
		"--max", strconv.Itoa(historyMax),
		"--output", "json",
	)
	if engine.IsNotFound(err) {
		return []engine.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseHistory(res.Stdout)
}

// ParseHistory decodes `helm history -o json` output, sorted by revision.
func ParseHistory(out string) ([]engine.HistoryEntry, error) {
	var rows []historyRow
	if err := decodeJSON(out, &rows); err != nil {
		return nil, engine.NewExternalToolError("helm history returned malformed output", out, err).
			WithOperation("history")
	}
	entries := make([]engine.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, engine.HistoryEntry(r))
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Revision < entries[j].Revision })
	return entries, nil
}

// Diff renders the unit and compares it to the live manifest of the release.
func (h *Helm) Diff(ctx context.Context, env engine.Environment, unit *engine.Unit) (string, error) {
	tmp, files, err := writeGeneratedValues(unit)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)

	args := []string{"template", unit.Name, unit.Path, "--namespace", unit.NamespaceName()}
	args = append(args, valuesArgs(unit, files)...)
	rendered, err := h.run(ctx, env, "template", fmt.Sprintf("helm template failed for chart %s", unit.Name), 0, args...)
	if err != nil {
		return "", err
	}

	live := ""
	res, err := h.run(ctx, env, "get-manifest", fmt.Sprintf("helm get manifest failed for release %s", unit.Name), 0,
		"get", "manifest", unit.Name, "--namespace", unit.NamespaceName(),
	)
	switch {
	case engine.IsNotFound(err):
	case err != nil:
		return "", err
	default:
		live = res.Stdout
	}

	return UnifiedDiff(unit.Name, live, rendered.Stdout)
}

// UnifiedDiff returns the unified diff between the live and desired
// manifests, or "" when they are identical.
func UnifiedDiff(name, live, desired string) (string, error) {
	if live == desired {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(live),
		B:        difflib.SplitLines(desired),
		FromFile: "live/" + name,
		ToFile:   "desired/" + name,
		Context:  3,
	})
}

// valuesArgs returns the -f and --set flags of a unit, in declaration order:
// values files, generated values, then set values.
func valuesArgs(unit *engine.Unit, generated []string) []string {
	var args []string
	for _, f := range unit.ValuesFiles {
		args = append(args, "-f", f)
	}
	for _, f := range generated {
		args = append(args, "-f", f)
	}
	for _, v := range unit.Values {
		args = append(args, "--set", v.Key+"="+v.Value)
	}
	return args
}

// writeGeneratedValues writes the generated values of unit into a fresh
// temporary directory. The caller removes the directory.
func writeGeneratedValues(unit *engine.Unit) (string, []string, error) {
	if len(unit.GeneratedValues) == 0 {
		return "", nil, nil
	}
	dir, err := os.MkdirTemp("", "froyo-values-"+sanitizeFilename(unit.Name)+"-")
	if err != nil {
		return "", nil, engine.NewPermanentError("unable to create generated values directory", err).
			WithCode(engine.ErrCodeInternal).WithUnit(unit.Name)
	}
	files := make([]string, 0, len(unit.GeneratedValues))
	for i, g := range unit.GeneratedValues {
		name := sanitizeFilename(g.Filename)
		if name == "" {
			name = fmt.Sprintf("generated-%d.yaml", i)
		}
		path := filepath.Join(dir, fmt.Sprintf("%02d-%s", i, name))
		if err := os.WriteFile(path, []byte(g.Content), 0o600); err != nil {
			_ = os.RemoveAll(dir)
			return "", nil, engine.NewPermanentError("unable to write generated values file "+name, err).
				WithCode(engine.ErrCodeInternal).WithUnit(unit.Name)
		}
		files = append(files, path)
	}
	return dir, files, nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}

func decodeJSON(out string, v interface{}) error {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil
	}
	return json.Unmarshal([]byte(out), v)
}

var _ engine.ReleaseTool = (*Helm)(nil)
