// Package engine provides the chart deployment core of the froyo deployment engine.
//
// # Overview
//
// The engine reconciles a batch of charts against a cluster through an
// external release tool. A batch is a Level Graph: an ordered sequence of
// levels, each an unordered set of charts. Deployment works in two passes:
//
//  1. Diff - every chart whose action is deploy is diffed against the live
//     release. Diff failures are warnings; the pass never aborts the batch.
//  2. Apply - levels run in order. Every chart of a level runs concurrently
//     and the level returns once all of them have returned. The first
//     failure (by completion order) aborts the remaining levels.
//
// A dry run stops after the diff pass.
//
// # Chart Lifecycle
//
// The Executor runs the phases of a single chart:
//
//	check_prerequisites -> pre_execute -> execute -> post_execute
//	                                         |
//	                                         +-> on_deploy_failure (on error)
//
// Each phase receives the Payload returned by the previous one. The payload
// belongs to one executor run and is never shared between charts, so no
// locking is needed. When on_deploy_failure itself fails, its error replaces
// the execute error.
//
// CommonChart implements the default phases. ConfigReloadChart restarts a
// workload when shared configuration changed during the upgrade and
// CRDCleanupChart removes CRDs left behind by an uninstall.
//
// # Collaborators
//
// Charts only reach the outside world through the ReleaseTool and Cluster
// interfaces grouped in a Toolbox, and report progress through the
// telemetry.EventLogger held by the Runtime. Nothing is logged through a
// process-wide logger.
//
// # Error Classification
//
// Errors are EngineErrors carrying a retry class, a taxonomy code, an
// operator-safe message and the full diagnostics:
//
//   - VALIDATION_ERROR: missing values file, malformed manifest
//   - EXTERNAL_TOOL_FAILURE: non-zero exit or malformed output of helm/kubectl
//   - TIMEOUT: an external invocation exceeded its deadline
//   - NOT_FOUND: absent release or cluster object
//   - AGGREGATE_FAILURE: first failure of a parallel level
//   - UNSUPPORTED: request outside the supported version matrix
//
// Each layer attaches its context (phase, unit, resource) without replacing
// the root cause:
//
//	if engine.IsRetryable(err) {
//	    // transient, throttled or conflict
//	}
//	fmt.Println(engine.SafeMessageOf(err))
//
// # Example Usage
//
//	levels, err := engine.BuildLevels(charts, map[string][]string{
//	    "ingress": {"cert-manager"},
//	})
//	if err != nil {
//	    return err
//	}
//	deployer := engine.NewDeployer(engine.NewLevelRunner(0, recorder))
//	err = deployer.Deploy(ctx, levels, &engine.Runtime{
//	    Env:    env,
//	    Tools:  engine.Toolbox{Release: helm, Cluster: kubectl},
//	    Events: events,
//	}, false)
package engine
