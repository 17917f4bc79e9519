package engine

import (
	"testing"

	"github.com/blang/semver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestSuccessfulDeployment(t *testing.T) {
	history := []HistoryEntry{
		{Revision: 1, Status: ReleaseStatusSuperseded, Chart: "coredns-config-0.1.0"},
		{Revision: 2, Status: ReleaseStatusDeployed, Chart: "coredns-config-0.1.1"},
		{Revision: 3, Status: ReleaseStatusFailed, Chart: "coredns-config-0.2.0"},
	}

	latest, err := LatestSuccessfulDeployment(history)

	require.NoError(t, err)
	assert.Equal(t, 2, latest.Revision)
	assert.True(t, latest.IsSuccessfullyDeployed())
}

func TestLatestSuccessfulDeployment_PrefersMostRecent(t *testing.T) {
	history := []HistoryEntry{
		{Revision: 1, Status: ReleaseStatusDeployed, Chart: "app-1.0.0"},
		{Revision: 2, Status: ReleaseStatusDeployed, Chart: "app-1.1.0"},
	}

	latest, err := LatestSuccessfulDeployment(history)

	require.NoError(t, err)
	assert.Equal(t, 2, latest.Revision)
}

func TestLatestSuccessfulDeployment_NoneDeployed(t *testing.T) {
	history := []HistoryEntry{
		{Revision: 1, Status: ReleaseStatusFailed, Chart: "nginx-ingress-1.0.0"},
		{Revision: 2, Status: ReleaseStatusPendingUpgrade, Chart: "nginx-ingress-1.0.1"},
	}

	_, err := LatestSuccessfulDeployment(history)

	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, SafeMessageOf(err), "nginx-ingress-1.0.1")
}

func TestLatestSuccessfulDeployment_EmptyHistory(t *testing.T) {
	_, err := LatestSuccessfulDeployment(nil)

	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestHistoryEntry_ChartVersion(t *testing.T) {
	tests := []struct {
		chart   string
		want    string
		wantErr bool
	}{
		{chart: "coredns-config-0.1.0", want: "0.1.0"},
		{chart: "cert-manager-v1.2.3", want: "1.2.3"},
		{chart: "ingress-nginx-4.0", want: "4.0.0"},
		{chart: "metrics-server-3", want: "3.0.0"},
		{chart: "app-2.0.0-rc.1", want: "2.0.0-rc.1"},
		{chart: "nothing", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.chart, func(t *testing.T) {
			v, err := HistoryEntry{Chart: tt.chart}.ChartVersion()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, v.Equals(semver.MustParse(tt.want)))
		})
	}
}
