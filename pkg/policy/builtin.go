package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		chartNamingPolicy(),
		chartTimeoutPolicy(),
		protectedNamespacePolicy(),
		forceWithoutAtomicPolicy(),
	}
}

// chartNamingPolicy enforces release names the package manager accepts.
func chartNamingPolicy() Policy {
	return Policy{
		Name:        "chart-naming",
		Description: "Release names must be DNS-1123 labels of at most 53 characters",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package froyo.policies.naming

import rego.v1

deny contains violation if {
	name := input.unit.name
	not regex.match("^[a-z0-9]([-a-z0-9]*[a-z0-9])?$", name)
	violation := {
		"message": sprintf("release name '%s' must contain only lowercase letters, numbers and hyphens", [name]),
		"remediation": "rename the chart",
	}
}

deny contains violation if {
	name := input.unit.name
	count(name) > 53
	violation := {
		"message": sprintf("release name '%s' must not exceed 53 characters", [name]),
		"remediation": "shorten the chart name",
	}
}`,
	}
}

// chartTimeoutPolicy bounds the time the package manager may wait for a release.
func chartTimeoutPolicy() Policy {
	return Policy{
		Name:        "chart-timeout",
		Description: "Chart timeouts must lie between 1 second and 1 hour",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"operations"},
		Rego: `package froyo.policies.timeout

import rego.v1

max_timeout_seconds := 3600

deny contains violation if {
	input.unit.timeout_seconds < 1
	violation := {
		"message": sprintf("timeout of %ds must be at least 1s", [input.unit.timeout_seconds]),
	}
}

deny contains violation if {
	input.unit.timeout_seconds > max_timeout_seconds
	violation := {
		"message": sprintf("timeout of %ds exceeds the maximum of %ds", [input.unit.timeout_seconds, max_timeout_seconds]),
		"remediation": "split the chart or lower timeout_seconds",
	}
}`,
	}
}

// protectedNamespacePolicy flags destroys of system releases.
func protectedNamespacePolicy() Policy {
	return Policy{
		Name:        "protected-namespace",
		Description: "Destroying releases in kube-system needs review",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"operations", "safety"},
		Rego: `package froyo.policies.namespaces

import rego.v1

protected_namespaces := {"kube-system"}

deny contains violation if {
	input.unit.action == "destroy"
	input.unit.namespace in protected_namespaces
	violation := {
		"message": sprintf("release %s will be destroyed in protected namespace %s", [input.unit.name, input.unit.namespace]),
	}
}`,
	}
}

// forceWithoutAtomicPolicy flags forced upgrades that cannot roll back.
func forceWithoutAtomicPolicy() Policy {
	return Policy{
		Name:        "force-without-atomic",
		Description: "Forced upgrades should be atomic",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"operations", "safety"},
		Rego: `package froyo.policies.upgrades

import rego.v1

deny contains violation if {
	input.unit.action == "deploy"
	input.unit.force_upgrade
	not input.unit.atomic
	violation := {
		"message": "forced upgrade is not atomic, a failure leaves resources recreated without rollback",
		"remediation": "set atomic: true",
	}
}`,
	}
}
