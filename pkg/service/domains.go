package service

import (
	"context"
	"crypto/sha1" //nolint:gosec // hash is a stable identifier, not a security control
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/retry"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// Resolver is the DNS lookup capability. *net.Resolver implements it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
}

// CustomDomain is a user domain expected to be a CNAME of TargetDomain.
type CustomDomain struct {
	Domain       string `json:"domain" yaml:"domain" validate:"required,hostname"`
	TargetDomain string `json:"target_domain" yaml:"target_domain" validate:"required,hostname"`
}

// DomainHash returns the first 16 hex characters of the sha1 of domain.
func DomainHash(domain string) string {
	sum := sha1.Sum([]byte(domain)) //nolint:gosec
	return hex.EncodeToString(sum[:])[:16]
}

// lookupHost resolves host with the target retry policy. DNS failures are
// transient until the attempts are exhausted.
func lookupHost(ctx context.Context, t *Target, host string) ([]string, error) {
	return retry.Value(ctx, t.Retry, "resolve "+host, func(ctx context.Context) ([]string, error) {
		addrs, err := t.Resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, engine.NewTransientError(fmt.Sprintf("unable to resolve %s", host), err).
				WithCode(ErrCodeDomainNotResolvable).
				WithFullDetails(err.Error())
		}
		return addrs, nil
	})
}

func lookupCNAME(ctx context.Context, t *Target, host string) (string, error) {
	return retry.Value(ctx, t.Retry, "resolve cname "+host, func(ctx context.Context) (string, error) {
		cname, err := t.Resolver.LookupCNAME(ctx, host)
		if err != nil {
			return "", engine.NewTransientError(fmt.Sprintf("unable to resolve CNAME of %s", host), err).
				WithCode(ErrCodeDomainNotResolvable).
				WithFullDetails(err.Error())
		}
		return cname, nil
	})
}

// checkDomains verifies that the domains of res resolve. Unresolvable
// domains are reported as warnings since DNS propagation can lag behind the
// deployment.
func checkDomains(ctx context.Context, t *Target, res Resource, domains []string) {
	if t.Resolver == nil {
		return
	}
	for _, domain := range domains {
		if domain == "" {
			continue
		}
		if _, err := lookupHost(ctx, t, domain); err != nil {
			t.warn(res, telemetry.StepDeploy, fmt.Sprintf("Domain %s is not resolvable yet.", domain), err)
			continue
		}
		t.infof(res, telemetry.StepDeploy, "Domain %s is ready.", domain)
	}
}

// checkCustomDomains verifies that every custom domain is a CNAME of its
// target. A mismatch is only a warning: a CDN in front of the domain
// legitimately hides the CNAME.
func checkCustomDomains(ctx context.Context, t *Target, res Resource, domains []CustomDomain) {
	if t.Resolver == nil {
		return
	}
	for _, cd := range domains {
		cname, err := lookupCNAME(ctx, t, cd.Domain)
		if err == nil && strings.TrimSuffix(cname, ".") == strings.TrimSuffix(cd.TargetDomain, ".") {
			t.infof(res, telemetry.StepDeploy, "CNAME of %s points to %s.", cd.Domain, cd.TargetDomain)
			continue
		}
		full := fmt.Sprintf("expected %s, got %s", cd.TargetDomain, strings.TrimSuffix(cname, "."))
		if err != nil {
			full = err.Error()
		}
		t.log(res, telemetry.StepDeploy, telemetry.LogLevelWarning, telemetry.NewEventMessage(
			fmt.Sprintf("Invalid CNAME for %s. Might not be an issue if user is using a CDN.", cd.Domain), full,
		))
	}
}
