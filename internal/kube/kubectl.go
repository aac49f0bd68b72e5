package kube

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"

	"github.com/slateci/slate-api-server/internal/apierr"
	"github.com/slateci/slate-api-server/internal/proc"
)

// Kubectl invokes the kubectl CLI against one cluster at a time.
type Kubectl struct {
	run runner
}

// NewKubectl returns a Kubectl client over the supervisor.
func NewKubectl(sup *proc.Supervisor, opts ...Option) *Kubectl {
	return &Kubectl{run: runner{sup: sup, settings: newSettings("kubectl", opts)}}
}

// ApplyManifest feeds a YAML manifest to kubectl apply on stdin.
func (k *Kubectl) ApplyManifest(ctx context.Context, kubeconfig, namespace, manifest string) error {
	args := []string{"apply", "-f", "-"}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	res, err := k.run.run(ctx, kubeconfig, args, manifest)
	if err != nil {
		return err
	}
	if res.ExitStatus != 0 {
		return toolError("kubectl apply", res)
	}
	return nil
}

// CreateNamespace creates the namespace; one that already exists counts as
// success.
func (k *Kubectl) CreateNamespace(ctx context.Context, kubeconfig, name string) error {
	res, err := k.run.run(ctx, kubeconfig, []string{"create", "namespace", name}, "")
	if err != nil {
		return err
	}
	if res.ExitStatus == 0 || strings.Contains(combined(res), "AlreadyExists") {
		return nil
	}
	return toolError("kubectl create namespace", res)
}

// DeleteNamespace deletes the namespace; NotFound counts as success, so
// cascade deletions can retry safely.
func (k *Kubectl) DeleteNamespace(ctx context.Context, kubeconfig, name string) error {
	res, err := k.run.run(ctx, kubeconfig, []string{"delete", "namespace", name}, "")
	if err != nil {
		return err
	}
	if res.ExitStatus == 0 || notFound(combined(res)) {
		return nil
	}
	return toolError("kubectl delete namespace", res)
}

// Delete removes one named resource, tolerating NotFound.
func (k *Kubectl) Delete(ctx context.Context, kubeconfig, namespace, kind, name string) error {
	args := []string{"delete", kind, name}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	res, err := k.run.run(ctx, kubeconfig, args, "")
	if err != nil {
		return err
	}
	if res.ExitStatus == 0 || notFound(combined(res)) {
		return nil
	}
	return toolError("kubectl delete", res)
}

// notFound recognizes the server's NotFound reason in kubectl's stderr.
func notFound(output string) bool {
	return strings.Contains(output, "(NotFound)") || strings.Contains(output, "not found")
}

// GetPods lists pods in the namespace, optionally narrowed by a label
// selector.
func (k *Kubectl) GetPods(ctx context.Context, kubeconfig, namespace, selector string) ([]corev1.Pod, error) {
	args := []string{"get", "pods", "-n", namespace, "-o", "json"}
	if selector != "" {
		args = append(args, "-l", selector)
	}
	res, err := k.run.run(ctx, kubeconfig, args, "")
	if err != nil {
		return nil, err
	}
	if res.ExitStatus != 0 {
		return nil, toolError("kubectl get pods", res)
	}
	var list corev1.PodList
	if err := json.Unmarshal([]byte(res.Output), &list); err != nil {
		return nil, apierr.Upstream("unparseable kubectl output", err)
	}
	return list.Items, nil
}

// PodLogs fetches logs of one container. tailLines <= 0 means the full log;
// previous selects the prior incarnation of a restarted container.
func (k *Kubectl) PodLogs(ctx context.Context, kubeconfig, namespace, pod, container string, tailLines int, previous bool) (string, error) {
	args := []string{"logs", pod, "-n", namespace}
	if container != "" {
		args = append(args, "-c", container)
	}
	if tailLines > 0 {
		args = append(args, fmt.Sprintf("--tail=%d", tailLines))
	}
	if previous {
		args = append(args, "-p")
	}
	res, err := k.run.run(ctx, kubeconfig, args, "")
	if err != nil {
		return "", err
	}
	if res.ExitStatus != 0 {
		return "", toolError("kubectl logs", res)
	}
	return res.Output, nil
}

// DeletePods deletes every pod matching the selector. Controllers replace
// them, which is how an instance restart works.
func (k *Kubectl) DeletePods(ctx context.Context, kubeconfig, namespace, selector string) error {
	res, err := k.run.run(ctx, kubeconfig, []string{"delete", "pods", "-n", namespace, "-l", selector}, "")
	if err != nil {
		return err
	}
	if res.ExitStatus != 0 {
		return toolError("kubectl delete pods", res)
	}
	return nil
}

// ScaleDeployment sets the replica count of one deployment.
func (k *Kubectl) ScaleDeployment(ctx context.Context, kubeconfig, namespace, name string, replicas int) error {
	res, err := k.run.run(ctx, kubeconfig,
		[]string{"scale", "deployment", name, fmt.Sprintf("--replicas=%d", replicas), "-n", namespace}, "")
	if err != nil {
		return err
	}
	if res.ExitStatus != 0 {
		return toolError("kubectl scale", res)
	}
	return nil
}

// ServiceAddresses returns the externally reachable addresses of services
// matching the selector: LoadBalancer ingress IPs and hostnames.
func (k *Kubectl) ServiceAddresses(ctx context.Context, kubeconfig, namespace, selector string) ([]string, error) {
	args := []string{"get", "services", "-n", namespace, "-o", "json"}
	if selector != "" {
		args = append(args, "-l", selector)
	}
	res, err := k.run.run(ctx, kubeconfig, args, "")
	if err != nil {
		return nil, err
	}
	if res.ExitStatus != 0 {
		return nil, toolError("kubectl get services", res)
	}
	var list corev1.ServiceList
	if err := json.Unmarshal([]byte(res.Output), &list); err != nil {
		return nil, apierr.Upstream("unparseable kubectl output", err)
	}
	var addrs []string
	for _, svc := range list.Items {
		for _, ing := range svc.Status.LoadBalancer.Ingress {
			if ing.IP != "" {
				addrs = append(addrs, ing.IP)
			}
			if ing.Hostname != "" {
				addrs = append(addrs, ing.Hostname)
			}
		}
	}
	return addrs, nil
}

// Reachable probes the cluster with a cheap read. Ping endpoints call it.
func (k *Kubectl) Reachable(ctx context.Context, kubeconfig string) error {
	res, err := k.run.run(ctx, kubeconfig, []string{"get", "namespaces", "--request-timeout=10s"}, "")
	if err != nil {
		return err
	}
	if res.ExitStatus != 0 {
		return toolError("kubectl get namespaces", res)
	}
	return nil
}
