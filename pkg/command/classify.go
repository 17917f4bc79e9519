package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openfroyo/deployengine/pkg/engine"
)

// stderr fragments, lowercased, mapped to error classes
var (
	conflictMarkers = []string{
		"another operation (install/upgrade/rollback) is in progress",
		"the object has been modified",
	}
	notFoundMarkers = []string{
		"release: not found",
		"not found",
	}
	timeoutMarkers = []string{
		"timed out waiting for the condition",
		"context deadline exceeded",
	}
	throttledMarkers = []string{
		"too many requests",
		"rate limit",
	}
	transientMarkers = []string{
		"connection refused",
		"connection reset by peer",
		"i/o timeout",
		"tls handshake timeout",
		"unable to connect to the server",
		"etcdserver: request timed out",
		"unexpected eof",
	}
)

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// Classify turns the outcome of a command into an engine error, or nil when
// the command succeeded. safe is the operator-safe summary, e.g.
// "helm upgrade failed for release app"; stderr only goes to full details.
func Classify(operation, safe string, res *Result, err error) error {
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = res.Stderr
		}
		if errors.Is(err, ErrTimeout) {
			return engine.NewTimeoutError(safe+": timed out", err).
				WithOperation(operation).
				WithFullDetails(stderr)
		}
		return engine.NewExternalToolError(safe, stderr, err).WithOperation(operation)
	}
	if res.Success() {
		return nil
	}

	stderr := strings.TrimSpace(res.Stderr)
	lower := strings.ToLower(stderr)
	cause := fmt.Errorf("exit status %d", res.ExitCode)

	var e *engine.EngineError
	switch {
	case containsAny(lower, conflictMarkers):
		e = engine.NewConflictError(safe+": another operation is in progress", cause)
	case containsAny(lower, timeoutMarkers):
		e = engine.NewTimeoutError(safe+": timed out", cause)
	case containsAny(lower, throttledMarkers):
		e = engine.NewThrottledError(safe+": throttled by the cluster API", cause)
	case containsAny(lower, transientMarkers):
		e = engine.NewTransientError(safe+": cluster unreachable", cause)
	case containsAny(lower, notFoundMarkers):
		e = engine.NewNotFoundError(safe+": not found", cause)
	default:
		e = engine.NewExternalToolError(safe, "", cause)
	}
	return e.WithOperation(operation).
		WithFullDetails(stderr).
		WithDetail("exit_code", res.ExitCode)
}

// StderrError returns the lines of stderr reporting an error, if any.
// Some tools exit 0 while printing errors for partially applied resources.
func StderrError(stderr string) string {
	var lines []string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Error:") || strings.HasPrefix(line, "error:") {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
