package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployengine/pkg/engine"
)

func newRouter() *Router {
	return &Router{
		Meta:          Meta{ResourceID: "r-1", ResourceName: "main"},
		DefaultDomain: "main.example.dev",
		CustomDomains: []CustomDomain{{Domain: "www.acme.com", TargetDomain: "main.example.dev"}},
		Routes: []Route{
			{Path: "/", ApplicationName: "My_API"},
			{Path: "/unknown", ApplicationName: "ghost"},
		},
	}
}

// deployedOnUpgrade appends a deployed revision on every upgrade.
func deployedOnUpgrade(rig *serviceRig) {
	rig.Release.OnUpgrade = func(unit *engine.Unit) {
		rig.Release.SetHistory(unit.Name, engine.HistoryEntry{Revision: 1, Status: engine.ReleaseStatusDeployed})
	}
}

func TestRouter_Identity(t *testing.T) {
	r := newRouter()

	assert.Equal(t, "router-r-1", r.ReleaseName())
	assert.Equal(t, "routerId=r-1", r.Selector())
	assert.Equal(t, "router-main", r.SanitizedName())
	assert.Equal(t, "1.0", r.Version())
	assert.Equal(t, []string{"main.example.dev", "www.acme.com"}, r.Domains())
	assert.True(t, r.HasCustomDomains())

	caps := r.Capabilities()
	assert.Equal(t, 1, caps.MinInstances)
	assert.Equal(t, 1, caps.MaxInstances)
}

func TestDomainHash(t *testing.T) {
	hash := DomainHash("main.example.dev")

	assert.Len(t, hash, 16)
	assert.Regexp(t, "^[0-9a-f]{16}$", hash)
	assert.Equal(t, hash, DomainHash("main.example.dev"))
	assert.NotEqual(t, hash, DomainHash("www.acme.com"))
}

func TestRouter_TemplateContext(t *testing.T) {
	rig := newServiceRig()
	rig.Cluster.Hostname = "lb-123.elb.amazonaws.com"
	rig.target.Applications = []*Application{newApplication()}

	values, err := newRouter().TemplateContext(context.Background(), rig.target)

	require.NoError(t, err)
	assert.Equal(t, "lb-123.elb.amazonaws.com", values["external_ingress_hostname_default"])
	assert.Equal(t, "*.example.dev", values["router_tls_domain"])
	assert.Equal(t, DomainHash("main.example.dev"), values["router_default_domain_hash"])
	assert.Equal(t, acmeServer, values["spec_acme_server"])

	routes := values["routes"].([]map[string]interface{})
	require.Len(t, routes, 1)
	assert.Equal(t, "app-my-api", routes[0]["application_name"])
	assert.Equal(t, 8080, routes[0]["application_port"])

	domains := values["custom_domains"].([]map[string]string)
	require.Len(t, domains, 1)
	assert.Equal(t, DomainHash("www.acme.com"), domains[0]["domain_hash"])
	assert.Contains(t, rig.Cluster.Calls(), "ingress_hostname:nginx-ingress/nginx-ingress-ingress-nginx-controller")
}

func TestRouter_TemplateContextWithoutIngressHostname(t *testing.T) {
	rig := newServiceRig()
	rig.target.Cluster.IsTestCluster = true

	values, err := newRouter().TemplateContext(context.Background(), rig.target)

	require.NoError(t, err)
	assert.NotContains(t, values, "external_ingress_hostname_default")
	assert.Equal(t, acmeStagingServer, values["spec_acme_server"])
	assert.Len(t, rig.warnings(), 1)
}

func TestRouter_CreateVerifiesLatestRevision(t *testing.T) {
	rig := newServiceRig()
	rig.Cluster.Hostname = "lb"
	rig.resolver.hosts["main.example.dev"] = []string{"10.0.0.1"}
	rig.resolver.cnames["www.acme.com"] = "main.example.dev."
	deployedOnUpgrade(rig)
	r := newRouter()

	err := NewDriver(rig.target).Create(context.Background(), r)

	require.NoError(t, err)
	assert.Equal(t, 1, rig.Release.Count("upgrade:router-r-1"))
	assert.Equal(t, 1, rig.Release.Count("history:router-r-1"))
	assert.Empty(t, rig.warnings())
}

func TestRouter_FailedRevisionFailsCreate(t *testing.T) {
	rig := newServiceRig()
	rig.Cluster.Hostname = "lb"
	rig.Release.OnUpgrade = func(unit *engine.Unit) {
		rig.Release.SetHistory(unit.Name,
			engine.HistoryEntry{Revision: 1, Status: engine.ReleaseStatusDeployed},
			engine.HistoryEntry{Revision: 2, Status: engine.ReleaseStatusFailed},
		)
	}

	err := NewDriver(rig.target).Create(context.Background(), newRouter())

	require.Error(t, err)
	assert.Equal(t, ErrCodeRouterFailedToDeploy, engine.CodeOf(err))
	var engineErr *engine.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, "r-1", engineErr.Resource)
	assert.Contains(t, engineErr.FullDetails, "failed")
}

func TestRouter_CreateFailureCleansFailedRelease(t *testing.T) {
	rig := newServiceRig()
	rig.Cluster.Hostname = "lb"
	r := newRouter()
	rig.Release.UpgradeErr[r.ReleaseName()] = engine.NewExternalToolError("helm upgrade failed", "Error: timed out", nil)
	rig.Release.SetHistory(r.ReleaseName(), engine.HistoryEntry{Revision: 1, Status: engine.ReleaseStatusFailed})

	err := NewDriver(rig.target).Create(context.Background(), r)

	require.Error(t, err)
	assert.Contains(t, engine.SafeMessageOf(err), "helm upgrade failed")
	assert.Equal(t, 1, rig.Release.Count("uninstall:"+r.ReleaseName()))
}

func TestRouter_CreateFailureKeepsHealthyRelease(t *testing.T) {
	rig := newServiceRig()
	rig.Cluster.Hostname = "lb"
	r := newRouter()
	rig.Release.UpgradeErr[r.ReleaseName()] = engine.NewExternalToolError("helm upgrade failed", "", nil)
	rig.Release.SetHistory(r.ReleaseName(), engine.HistoryEntry{Revision: 2, Status: engine.ReleaseStatusDeployed})

	require.Error(t, NewDriver(rig.target).Create(context.Background(), r))
	assert.Zero(t, rig.Release.Count("uninstall:"+r.ReleaseName()))
}

func TestRouter_CNAMEMismatchIsWarning(t *testing.T) {
	rig := newServiceRig()
	rig.Cluster.Hostname = "lb"
	rig.resolver.hosts["main.example.dev"] = []string{"10.0.0.1"}
	rig.resolver.cnames["www.acme.com"] = "d123.cloudfront.net."
	deployedOnUpgrade(rig)

	err := NewDriver(rig.target).Create(context.Background(), newRouter())

	require.NoError(t, err)
	warnings := rig.warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "Invalid CNAME for www.acme.com. Might not be an issue if user is using a CDN.", warnings[0].Message.SafeMessage)
	assert.Equal(t, "expected main.example.dev, got d123.cloudfront.net", warnings[0].Message.FullDetails)
}

func TestRouter_UnresolvableDomainsAreWarnings(t *testing.T) {
	rig := newServiceRig()
	rig.Cluster.Hostname = "lb"
	deployedOnUpgrade(rig)

	err := NewDriver(rig.target).Create(context.Background(), newRouter())

	require.NoError(t, err)
	// default domain not resolvable and custom domain CNAME lookup failed
	assert.Len(t, rig.warnings(), 2)
}

func TestRouter_PauseIsNoop(t *testing.T) {
	rig := newServiceRig()

	require.NoError(t, NewDriver(rig.target).Pause(context.Background(), newRouter()))

	assert.Empty(t, rig.Release.Calls())
	assert.Empty(t, rig.Cluster.Calls())
}

func TestRouter_Delete(t *testing.T) {
	rig := newServiceRig()
	rig.Release.Deployed["router-r-1"] = true

	require.NoError(t, NewDriver(rig.target).Delete(context.Background(), newRouter()))

	assert.Equal(t, 1, rig.Release.Count("uninstall:router-r-1"))
	assert.Zero(t, rig.Cluster.Count("delete:pvc:routerId=r-1"))
}
