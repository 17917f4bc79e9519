package service

import (
	"context"
	"fmt"

	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// Ingress controller the router rules are served by.
const (
	IngressNamespace = "nginx-ingress"
	IngressService   = "nginx-ingress-ingress-nginx-controller"
)

// ACME directories used for router certificates.
const (
	acmeServer        = "https://acme-v02.api.letsencrypt.org/directory"
	acmeStagingServer = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

// Route sends a path prefix to an application.
type Route struct {
	Path            string `json:"path" yaml:"path" validate:"required"`
	ApplicationName string `json:"application_name" yaml:"application_name" validate:"required"`
}

// Router is the ingress of an environment: a default domain, optional
// custom domains and the routes to its applications.
type Router struct {
	Meta `yaml:",inline"`

	DefaultDomain  string         `json:"default_domain" yaml:"default_domain" validate:"required,hostname"`
	CustomDomains  []CustomDomain `json:"custom_domains,omitempty" yaml:"custom_domains,omitempty" validate:"dive"`
	Routes         []Route        `json:"routes,omitempty" yaml:"routes,omitempty" validate:"dive"`
	StickySessions bool           `json:"sticky_sessions_enabled" yaml:"sticky_sessions_enabled"`
}

var _ Resource = (*Router)(nil)

// Capabilities implements Resource.
func (r *Router) Capabilities() Capabilities {
	return Capabilities{
		Kind:         KindRouter,
		MinInstances: 1,
		MaxInstances: 1,
		Domains:      r.Domains(),
	}
}

// Domains returns the default domain followed by the custom domains.
func (r *Router) Domains() []string {
	domains := []string{r.DefaultDomain}
	for _, cd := range r.CustomDomains {
		domains = append(domains, cd.Domain)
	}
	return domains
}

// HasCustomDomains reports whether the router serves custom domains.
func (r *Router) HasCustomDomains() bool {
	return len(r.CustomDomains) > 0
}

// Transmitter implements Resource.
func (r *Router) Transmitter() telemetry.Transmitter {
	return telemetry.TransmitterRouter(r.ResourceID, r.ResourceName)
}

// SanitizedName implements Resource.
func (r *Router) SanitizedName() string {
	return SanitizeName("router", r.ResourceName)
}

// Selector implements Resource.
func (r *Router) Selector() string {
	return "routerId=" + r.ResourceID
}

// ReleaseName implements Resource.
func (r *Router) ReleaseName() string {
	return Cut("router-"+r.ResourceID, 50)
}

// Version is constant: routers are not built from sources.
func (r *Router) Version() string {
	return "1.0"
}

func (r *Router) chartPath(t *Target) string {
	return t.chartPath("router")
}

// TemplateContext implements Resource. It reads the external hostname of
// the ingress controller, so it must run once the controller is deployed.
func (r *Router) TemplateContext(ctx context.Context, t *Target) (Values, error) {
	values := baseContext(r, t)
	values["version"] = r.Version()

	// autoscaler and resources of the nginx controller
	values["nginx_enable_horizontal_autoscaler"] = "false"
	values["nginx_minimum_replicas"] = "1"
	values["nginx_maximum_replicas"] = "10"
	values["nginx_requests_cpu"] = "200m"
	values["nginx_requests_memory"] = "128Mi"
	values["nginx_limit_cpu"] = "200m"
	values["nginx_limit_memory"] = "128Mi"

	hostname, err := t.tools().Cluster.ExternalIngressHostname(ctx, t.env(), IngressNamespace, IngressService)
	switch {
	case err != nil:
		t.warn(r, telemetry.StepLoadConfiguration, "unable to get external_ingress_hostname_default", err)
	case hostname == "":
		t.warn(r, telemetry.StepLoadConfiguration, "external_ingress_hostname_default is not yet assigned to the ingress controller", nil)
	default:
		values["external_ingress_hostname_default"] = hostname
	}

	customDomains := make([]map[string]string, 0, len(r.CustomDomains))
	for _, cd := range r.CustomDomains {
		customDomains = append(customDomains, map[string]string{
			"domain":        cd.Domain,
			"domain_hash":   DomainHash(cd.Domain),
			"target_domain": cd.TargetDomain,
		})
	}

	routes := make([]map[string]interface{}, 0, len(r.Routes))
	for _, route := range r.Routes {
		app := findApplication(t.Applications, route.ApplicationName)
		if app == nil {
			continue
		}
		port, ok := app.PrivatePort()
		if !ok {
			continue
		}
		routes = append(routes, map[string]interface{}{
			"path":             route.Path,
			"application_name": app.SanitizedName(),
			"application_port": port,
		})
	}

	values["router_tls_domain"] = fmt.Sprintf("*.%s", t.Cluster.DNSDomain)
	values["router_default_domain"] = r.DefaultDomain
	values["router_default_domain_hash"] = DomainHash(r.DefaultDomain)
	values["custom_domains"] = customDomains
	values["routes"] = routes
	values["sticky_sessions_enabled"] = r.StickySessions
	values["spec_acme_server"] = acmeServer
	if t.Cluster.IsTestCluster {
		values["spec_acme_server"] = acmeStagingServer
	}
	return values, nil
}

func findApplication(apps []*Application, name string) *Application {
	for _, app := range apps {
		if app.ResourceName == name {
			return app
		}
	}
	return nil
}

// OnCreate deploys the router and fails unless its newest revision ended
// up deployed.
func (r *Router) OnCreate(ctx context.Context, t *Target) error {
	_, files, err := render(ctx, r, t)
	if err != nil {
		return err
	}
	if err := deployRelease(ctx, t, r, r.chartPath(t), 0, files); err != nil {
		return err
	}
	return latestRevisionDeployed(ctx, t, r)
}

// OnCreateCheck verifies the default domain resolves and that every custom
// domain is a CNAME of its target. Both only produce warnings.
func (r *Router) OnCreateCheck(ctx context.Context, t *Target) error {
	checkDomains(ctx, t, r, []string{r.DefaultDomain})
	checkCustomDomains(ctx, t, r, r.CustomDomains)
	return nil
}

// OnCreateError removes a release left in a failed state.
func (r *Router) OnCreateError(ctx context.Context, t *Target) error {
	return cleanupFailedRelease(ctx, t, r, r.chartPath(t))
}

// OnPause is a no-op for routers.
func (r *Router) OnPause(context.Context, *Target) error { return nil }

// OnPauseCheck implements Resource.
func (r *Router) OnPauseCheck(context.Context, *Target) error { return nil }

// OnPauseError implements Resource.
func (r *Router) OnPauseError(context.Context, *Target) error { return nil }

// OnDelete uninstalls the router release.
func (r *Router) OnDelete(ctx context.Context, t *Target) error {
	return deleteRelease(ctx, t, r, r.chartPath(t), false)
}

// OnDeleteCheck implements Resource.
func (r *Router) OnDeleteCheck(context.Context, *Target) error { return nil }

// OnDeleteError retries the delete in final mode.
func (r *Router) OnDeleteError(ctx context.Context, t *Target) error {
	return deleteRelease(ctx, t, r, r.chartPath(t), true)
}
