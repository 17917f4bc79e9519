// Package policy guards deployments with Open Policy Agent.
//
// Every enabled Rego policy is evaluated against every chart unit before a
// batch runs. A policy reports violations through its deny set:
//
//	package froyo.policies.replicas
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.unit.values.replicas == "0"
//	    violation := {"message": "replicas must not be zero", "severity": "error"}
//	}
//
// The input document is the unit as seen by UnitDocument. Violations of
// error or critical severity deny the deployment, the others are reported
// as warnings:
//
//	eng, err := policy.NewEngine(logger)
//	if err := eng.LoadPolicies(ctx, "/etc/froyo/policies"); err != nil {
//	    return err
//	}
//	result, err := eng.EvaluateUnits(ctx, units)
//	if !result.Allowed {
//	    for _, v := range result.Violations {
//	        fmt.Println(v)
//	    }
//	}
//
// # Built-in Policies
//
//   - chart-naming: release names are DNS-1123 labels of at most 53 characters (error)
//   - chart-timeout: timeouts lie between 1s and 3600s (error)
//   - protected-namespace: destroying a release in kube-system (warning)
//   - force-without-atomic: forced upgrades without rollback (warning)
//
// # Policy Files
//
// A .rego file is a policy named after the file. Its leading comment block
// is the description and may set the default severity:
//
//	# Charts must pin an image tag.
//	# severity: error
//	package froyo.policies.images
//
// A .json file holds a Policy document. Engine.Watch reloads the files of a
// directory when they change; built-in policies cannot be shadowed.
package policy
