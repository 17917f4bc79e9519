package engine

import (
	"fmt"
	"strings"

	"github.com/blang/semver"
)

// Release statuses reported by the release tool.
const (
	ReleaseStatusDeployed        = "deployed"
	ReleaseStatusSuperseded      = "superseded"
	ReleaseStatusFailed          = "failed"
	ReleaseStatusUninstalled     = "uninstalled"
	ReleaseStatusPendingInstall  = "pending-install"
	ReleaseStatusPendingUpgrade  = "pending-upgrade"
	ReleaseStatusPendingRollback = "pending-rollback"
)

// HistoryEntry is one past release attempt, oldest first in a history slice.
type HistoryEntry struct {
	Revision    int    `json:"revision"`
	Updated     string `json:"updated"`
	Status      string `json:"status"`
	Chart       string `json:"chart"`
	AppVersion  string `json:"app_version"`
	Description string `json:"description"`
}

// IsSuccessfullyDeployed reports whether this revision is the live one.
func (h HistoryEntry) IsSuccessfullyDeployed() bool {
	return h.Status == ReleaseStatusDeployed
}

// ChartVersion extracts the version suffix of the chart label, e.g.
// "coredns-config-0.1.0" yields 0.1.0. Short versions and a "v" prefix
// are accepted, so "ingress-nginx-4.0" yields 4.0.0.
func (h HistoryEntry) ChartVersion() (semver.Version, error) {
	parts := strings.Split(h.Chart, "-")
	for i := len(parts) - 1; i > 0; i-- {
		if v, err := semver.ParseTolerant(strings.Join(parts[i:], "-")); err == nil {
			return v, nil
		}
	}
	return semver.Version{}, fmt.Errorf("no version found in chart label %q", h.Chart)
}

// LatestSuccessfulDeployment scans history from the most recent entry
// backward and returns the first deployed revision.
func LatestSuccessfulDeployment(history []HistoryEntry) (HistoryEntry, error) {
	if len(history) == 0 {
		return HistoryEntry{}, NewNotFoundError("no revision found in release history", nil)
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsSuccessfullyDeployed() {
			return history[i], nil
		}
	}
	chart := history[len(history)-1].Chart
	return HistoryEntry{}, NewNotFoundError(
		fmt.Sprintf("no succeed revision found for chart %s", chart), nil,
	).WithDetail("chart", chart)
}
