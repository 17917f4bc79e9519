// Package kube implements the cluster control operations on top of kubectl.
package kube

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/openfroyo/deployengine/pkg/command"
	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

const (
	toolName = "kubectl"

	// DefaultTimeout bounds every kubectl invocation.
	DefaultTimeout = 60 * time.Second

	crashLoopReason = "CrashLoopBackOff"
)

// Kubectl implements engine.Cluster.
type Kubectl struct {
	binary  string
	runner  command.Runner
	timeout time.Duration
}

// New resolves binary in PATH and returns a client running real processes.
func New(binary string, logger *telemetry.Logger) (*Kubectl, error) {
	if binary == "" {
		binary = toolName
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("kubectl binary %q not found", binary), err)
	}
	return NewWithRunner(path, command.NewExecRunner(logger)), nil
}

// NewWithRunner returns a client using runner, without looking up binary.
func NewWithRunner(binary string, runner command.Runner) *Kubectl {
	return &Kubectl{binary: binary, runner: runner, timeout: DefaultTimeout}
}

func (k *Kubectl) run(ctx context.Context, env engine.Environment, operation, safe string, args ...string) (*command.Result, error) {
	if env.KubeContext != "" {
		args = append(args, "--context", env.KubeContext)
	}
	cmd := command.Command{
		Binary:  k.binary,
		Args:    args,
		Env:     env.Environ(),
		Timeout: k.timeout,
	}

	var res *command.Result
	err := telemetry.RecordExternalCall(ctx, toolName, operation, func(ctx context.Context) error {
		var runErr error
		res, runErr = k.runner.Run(ctx, cmd)
		return command.Classify(operation, safe, res, runErr)
	})
	return res, err
}

func (k *Kubectl) getJSON(ctx context.Context, env engine.Environment, operation, safe string, v interface{}, args ...string) error {
	res, err := k.run(ctx, env, operation, safe, append(args, "-o", "json")...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(res.Stdout), v); err != nil {
		return engine.NewExternalToolError(safe+": malformed output", res.Stdout, err).WithOperation(operation)
	}
	return nil
}

type podList struct {
	Items []struct {
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
		Status struct {
			ContainerStatuses []struct {
				State struct {
					Waiting *struct {
						Reason string `json:"reason"`
					} `json:"waiting"`
				} `json:"state"`
			} `json:"containerStatuses"`
		} `json:"status"`
	} `json:"items"`
}

// DeleteCrashLoopingPods deletes the pods matching selector that have a
// container waiting in CrashLoopBackOff.
func (k *Kubectl) DeleteCrashLoopingPods(ctx context.Context, env engine.Environment, namespace, selector string) error {
	var pods podList
	if err := k.getJSON(ctx, env, "get-pods", "unable to list pods "+selector,
		&pods, "get", "pods", "--namespace", namespace, "--selector", selector); err != nil {
		return err
	}
	for _, pod := range pods.Items {
		crashing := false
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.State.Waiting != nil && cs.State.Waiting.Reason == crashLoopReason {
				crashing = true
				break
			}
		}
		if !crashing {
			continue
		}
		if _, err := k.run(ctx, env, "delete-pod", "unable to delete crash looping pod "+pod.Metadata.Name,
			"delete", "pod", pod.Metadata.Name, "--namespace", namespace, "--ignore-not-found"); err != nil {
			return err
		}
	}
	return nil
}

// GetConfigMap returns the data of a config map.
func (k *Kubectl) GetConfigMap(ctx context.Context, env engine.Environment, namespace, name string) (map[string]string, error) {
	var cm struct {
		Data map[string]string `json:"data"`
	}
	if err := k.getJSON(ctx, env, "get-configmap", fmt.Sprintf("unable to get configmap %s", name),
		&cm, "get", "configmap", name, "--namespace", namespace); err != nil {
		return nil, err
	}
	if cm.Data == nil {
		cm.Data = map[string]string{}
	}
	return cm.Data, nil
}

// Annotate sets annotations on an object, overwriting existing values.
func (k *Kubectl) Annotate(ctx context.Context, env engine.Environment, namespace, kind, name string, annotations map[string]string) error {
	args := append([]string{"annotate", "--overwrite", "--namespace", namespace, kind, name}, pairs(annotations)...)
	_, err := k.run(ctx, env, "annotate", fmt.Sprintf("unable to annotate %s/%s", kind, name), args...)
	return err
}

// Label sets labels on an object, overwriting existing values.
func (k *Kubectl) Label(ctx context.Context, env engine.Environment, namespace, kind, name string, labels map[string]string) error {
	args := append([]string{"label", "--overwrite", "--namespace", namespace, kind, name}, pairs(labels)...)
	_, err := k.run(ctx, env, "label", fmt.Sprintf("unable to label %s/%s", kind, name), args...)
	return err
}

// RolloutRestart restarts every pod of a workload.
func (k *Kubectl) RolloutRestart(ctx context.Context, env engine.Environment, namespace string, kind engine.WorkloadKind, name string) error {
	_, err := k.run(ctx, env, "rollout-restart", fmt.Sprintf("unable to restart %s/%s", kind, name),
		"rollout", "restart", string(kind)+"/"+name, "--namespace", namespace)
	return err
}

type eventList struct {
	Items []struct {
		Type           string `json:"type"`
		Reason         string `json:"reason"`
		Message        string `json:"message"`
		Count          int    `json:"count"`
		InvolvedObject struct {
			Kind string `json:"kind"`
			Name string `json:"name"`
		} `json:"involvedObject"`
		LastTimestamp time.Time `json:"lastTimestamp"`
	} `json:"items"`
}

// Events returns the events of a namespace, oldest first.
func (k *Kubectl) Events(ctx context.Context, env engine.Environment, namespace string) ([]engine.ClusterEvent, error) {
	var list eventList
	if err := k.getJSON(ctx, env, "get-events", "unable to get events of namespace "+namespace,
		&list, "get", "events", "--namespace", namespace); err != nil {
		return nil, err
	}
	events := make([]engine.ClusterEvent, 0, len(list.Items))
	for _, item := range list.Items {
		events = append(events, engine.ClusterEvent{
			Type:     item.Type,
			Reason:   item.Reason,
			Object:   strings.ToLower(item.InvolvedObject.Kind) + "/" + item.InvolvedObject.Name,
			Message:  item.Message,
			Count:    item.Count,
			LastSeen: item.LastTimestamp,
		})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].LastSeen.Before(events[j].LastSeen) })
	return events, nil
}

// ExternalIngressHostname returns the load balancer hostname, or its IP, of
// a service. An empty string means no address is assigned yet.
func (k *Kubectl) ExternalIngressHostname(ctx context.Context, env engine.Environment, namespace, service string) (string, error) {
	var svc struct {
		Status struct {
			LoadBalancer struct {
				Ingress []struct {
					Hostname string `json:"hostname"`
					IP       string `json:"ip"`
				} `json:"ingress"`
			} `json:"loadBalancer"`
		} `json:"status"`
	}
	if err := k.getJSON(ctx, env, "get-service", "unable to get service "+service,
		&svc, "get", "service", service, "--namespace", namespace); err != nil {
		return "", err
	}
	for _, ing := range svc.Status.LoadBalancer.Ingress {
		if ing.Hostname != "" {
			return ing.Hostname, nil
		}
		if ing.IP != "" {
			return ing.IP, nil
		}
	}
	return "", nil
}

// Replicas returns the desired replicas summed over the matching workloads.
func (k *Kubectl) Replicas(ctx context.Context, env engine.Environment, namespace string, kind engine.WorkloadKind, selector string) (int, error) {
	var list struct {
		Items []struct {
			Spec struct {
				Replicas *int `json:"replicas"`
			} `json:"spec"`
		} `json:"items"`
	}
	if err := k.getJSON(ctx, env, "get-replicas", fmt.Sprintf("unable to get %s %s", kind, selector),
		&list, "get", string(kind), "--namespace", namespace, "--selector", selector); err != nil {
		return 0, err
	}
	total := 0
	for _, item := range list.Items {
		if item.Spec.Replicas == nil {
			// the API server defaults a missing replica count to 1
			total++
			continue
		}
		total += *item.Spec.Replicas
	}
	return total, nil
}

// Scale sets the replicas of every workload matching selector.
func (k *Kubectl) Scale(ctx context.Context, env engine.Environment, namespace string, kind engine.WorkloadKind, selector string, replicas int) error {
	_, err := k.run(ctx, env, "scale", fmt.Sprintf("unable to scale %s %s", kind, selector),
		"scale", string(kind), "--namespace", namespace, "--selector", selector, "--replicas", strconv.Itoa(replicas))
	return err
}

// DeleteCRD deletes a custom resource definition if it exists.
func (k *Kubectl) DeleteCRD(ctx context.Context, env engine.Environment, name string) error {
	_, err := k.run(ctx, env, "delete-crd", "unable to delete crd "+name,
		"delete", "crd", name, "--ignore-not-found")
	return err
}

// DeleteBySelector deletes every object of kind matching selector.
func (k *Kubectl) DeleteBySelector(ctx context.Context, env engine.Environment, namespace, kind, selector string) error {
	_, err := k.run(ctx, env, "delete", fmt.Sprintf("unable to delete %s %s", kind, selector),
		"delete", kind, "--namespace", namespace, "--selector", selector, "--ignore-not-found")
	return err
}

// pairs renders a map as sorted key=value arguments.
func pairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+"="+m[key])
	}
	return out
}

var _ engine.Cluster = (*Kubectl)(nil)
