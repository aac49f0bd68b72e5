package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/hashicorp/go-multierror"
	corev1 "k8s.io/api/core/v1"

	"github.com/slateci/slate-api-server/internal/apierr"
	"github.com/slateci/slate-api-server/internal/kube"
	"github.com/slateci/slate-api-server/internal/logging"
	"github.com/slateci/slate-api-server/internal/store"
)

// InstanceDetail is an instance record enriched with live cluster state.
// Release and pod fields stay zero when the cluster cannot be reached;
// the record itself is always authoritative.
type InstanceDetail struct {
	Instance store.ApplicationInstance
	Release  kube.Release
	Pods     []PodSummary
	Services []string
}

// PodSummary condenses one pod of an instance for the detail envelope.
type PodSummary struct {
	Name       string
	Status     string
	HostName   string
	HostIP     string
	Containers []ContainerSummary
}

// ContainerSummary condenses one container's runtime state.
type ContainerSummary struct {
	Name         string
	Image        string
	Ready        bool
	RestartCount int32
	State        string
}

// LogOptions narrows an instance log request. MaxLines zero means the
// full log; Container empty means every container of every pod.
type LogOptions struct {
	MaxLines  int
	Container string
	Previous  bool
}

// ScaleRequest sets the replica count of one of the instance's
// deployments. Deployment defaults to the instance name.
type ScaleRequest struct {
	Replicas   *int   `json:"replicas" validate:"required"`
	Deployment string `json:"deployment"`
}

// ListInstances returns instance records, optionally narrowed to a group
// or cluster given by ID or name.
func (c *Commands) ListInstances(ctx context.Context, caller store.User, groupRef, clusterRef string) ([]store.ApplicationInstance, error) {
	var filter store.InstanceFilter
	if groupRef != "" {
		g, err := c.store.FindGroup(ctx, groupRef)
		if err != nil {
			return nil, apierr.Store(err)
		}
		if !g.Valid {
			return nil, apierr.NotFound("Group")
		}
		filter.GroupID = g.ID
	}
	if clusterRef != "" {
		cl, err := c.store.FindCluster(ctx, clusterRef)
		if err != nil {
			return nil, apierr.Store(err)
		}
		if !cl.Valid {
			return nil, apierr.NotFound("Cluster")
		}
		filter.ClusterID = cl.ID
	}
	instances, err := c.store.ListInstances(ctx, filter)
	if err != nil {
		return nil, apierr.Store(err)
	}
	return instances, nil
}

// GetInstance returns the record plus what helm and the cluster report
// about it. Enrichment is best effort: an unreachable cluster degrades the
// answer to the stored record instead of failing the request.
func (c *Commands) GetInstance(ctx context.Context, caller store.User, id string) (InstanceDetail, error) {
	inst, err := c.store.GetInstance(ctx, id)
	if err != nil {
		return InstanceDetail{}, apierr.Store(err)
	}
	if !inst.Valid {
		return InstanceDetail{}, apierr.NotFound("Instance")
	}
	if err := c.auth.OwnsInstance(ctx, caller, inst); err != nil {
		return InstanceDetail{}, err
	}

	detail := InstanceDetail{Instance: inst}
	namespace, handle, err := c.instanceTarget(ctx, inst)
	if err != nil {
		c.logger.Warn("instance detail degraded to stored record",
			logging.Instance(inst.Name), logging.Err(err))
		return detail, nil
	}
	defer handle.Release()

	if rel, found, err := c.helm.List(ctx, handle.Path(), inst.Name); err != nil {
		c.logger.Warn("helm release lookup failed", logging.Instance(inst.Name), logging.Err(err))
	} else if found {
		detail.Release = rel
	}
	if pods, err := c.kubectl.GetPods(ctx, handle.Path(), namespace, ReleaseSelector(inst.Name)); err != nil {
		c.logger.Warn("pod lookup failed", logging.Instance(inst.Name), logging.Err(err))
	} else {
		detail.Pods = summarizePods(pods)
	}
	if addrs, err := c.kubectl.ServiceAddresses(ctx, handle.Path(), namespace, ReleaseSelector(inst.Name)); err != nil {
		c.logger.Warn("service lookup failed", logging.Instance(inst.Name), logging.Err(err))
	} else {
		detail.Services = addrs
	}
	return detail, nil
}

// InstanceLogs collects container logs across the instance's pods,
// prefixing each section with the pod and container it came from.
func (c *Commands) InstanceLogs(ctx context.Context, caller store.User, id string, opts LogOptions) (string, error) {
	inst, err := c.store.GetInstance(ctx, id)
	if err != nil {
		return "", apierr.Store(err)
	}
	if !inst.Valid {
		return "", apierr.NotFound("Instance")
	}
	if err := c.auth.OwnsInstance(ctx, caller, inst); err != nil {
		return "", err
	}

	namespace, handle, err := c.instanceTarget(ctx, inst)
	if err != nil {
		return "", err
	}
	defer handle.Release()

	pods, err := c.kubectl.GetPods(ctx, handle.Path(), namespace, ReleaseSelector(inst.Name))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, pod := range pods {
		for _, container := range pod.Spec.Containers {
			if opts.Container != "" && container.Name != opts.Container {
				continue
			}
			fmt.Fprintf(&b, "========================================\npod: %s container: %s\n", pod.Name, container.Name)
			logs, err := c.kubectl.PodLogs(ctx, handle.Path(), namespace, pod.Name, container.Name, opts.MaxLines, opts.Previous)
			if err != nil {
				fmt.Fprintf(&b, "(logs unavailable: %s)\n", apierr.Message(err))
				continue
			}
			b.WriteString(logs)
			if !strings.HasSuffix(logs, "\n") {
				b.WriteByte('\n')
			}
		}
	}
	return b.String(), nil
}

// DeleteInstance removes the helm release and then the record. force
// removes the record even when the release cannot be torn down; the
// tolerated failure comes back as an informational note.
func (c *Commands) DeleteInstance(ctx context.Context, caller store.User, id string, force bool) (string, error) {
	inst, err := c.store.GetInstance(ctx, id)
	if err != nil {
		return "", apierr.Store(err)
	}
	if !inst.Valid {
		return "", apierr.NotFound("Instance")
	}
	if err := c.auth.OwnsInstance(ctx, caller, inst); err != nil {
		return "", err
	}

	var kubeErr error
	handle, err := c.store.ClusterConfigPath(ctx, inst.ClusterID)
	if err != nil {
		if !force {
			return "", apierr.Store(err)
		}
		kubeErr = err
	} else {
		defer handle.Release()
		kubeErr = c.helm.Delete(ctx, handle.Path(), inst.Name)
		if kubeErr != nil && !force {
			return "", kubeErr
		}
	}

	if err := c.store.DeleteInstance(ctx, inst.ID); err != nil {
		return "", apierr.Store(err)
	}
	c.forgetDNS(ctx, inst.Name)
	c.logger.Info("deleted instance",
		logging.Operation("instance.delete"), logging.Instance(inst.Name), logging.UserID(caller.ID))
	if kubeErr != nil {
		c.logger.Warn("instance record removed despite cleanup failure",
			logging.Instance(inst.Name), logging.Err(kubeErr))
		return apierr.Message(kubeErr), nil
	}
	return "", nil
}

// ScaleInstance resizes one deployment of the instance.
func (c *Commands) ScaleInstance(ctx context.Context, caller store.User, id string, req ScaleRequest) error {
	if err := c.validate.Struct(req); err != nil {
		return apierr.BadRequest("invalid scale request: %v", err)
	}
	if *req.Replicas < 0 {
		return apierr.BadRequest("replicas must not be negative")
	}
	inst, err := c.store.GetInstance(ctx, id)
	if err != nil {
		return apierr.Store(err)
	}
	if !inst.Valid {
		return apierr.NotFound("Instance")
	}
	if err := c.auth.OwnsInstance(ctx, caller, inst); err != nil {
		return err
	}

	namespace, handle, err := c.instanceTarget(ctx, inst)
	if err != nil {
		return err
	}
	defer handle.Release()

	deployment := req.Deployment
	if deployment == "" {
		deployment = inst.Name
	}
	if err := c.kubectl.ScaleDeployment(ctx, handle.Path(), namespace, deployment, *req.Replicas); err != nil {
		return err
	}
	c.logger.Info("scaled instance",
		logging.Operation("instance.scale"), logging.Instance(inst.Name),
		slog.Int("replicas", *req.Replicas))
	return nil
}

// RestartInstance deletes the instance's pods; their controllers bring
// replacements up with the same configuration.
func (c *Commands) RestartInstance(ctx context.Context, caller store.User, id string) error {
	inst, err := c.store.GetInstance(ctx, id)
	if err != nil {
		return apierr.Store(err)
	}
	if !inst.Valid {
		return apierr.NotFound("Instance")
	}
	if err := c.auth.OwnsInstance(ctx, caller, inst); err != nil {
		return err
	}

	namespace, handle, err := c.instanceTarget(ctx, inst)
	if err != nil {
		return err
	}
	defer handle.Release()

	if err := c.kubectl.DeletePods(ctx, handle.Path(), namespace, ReleaseSelector(inst.Name)); err != nil {
		return err
	}
	c.logger.Info("restarted instance",
		logging.Operation("instance.restart"), logging.Instance(inst.Name))
	return nil
}

// instanceTarget resolves the group namespace and kubeconfig handle an
// instance operation works against. Callers release the handle.
func (c *Commands) instanceTarget(ctx context.Context, inst store.ApplicationInstance) (string, *store.ConfigHandle, error) {
	g, err := c.store.GetGroup(ctx, inst.OwningGroupID)
	if err != nil {
		return "", nil, apierr.Store(err)
	}
	if !g.Valid {
		return "", nil, apierr.NotFound("Group")
	}
	handle, err := c.store.ClusterConfigPath(ctx, inst.ClusterID)
	if err != nil {
		return "", nil, apierr.Store(err)
	}
	return GroupNamespace(g.Name), handle, nil
}

// removeInstance is the cascade form of instance deletion: it acquires the
// cluster credentials itself and reports every failure for aggregation,
// removing the record even on failure when force is set.
func (c *Commands) removeInstance(ctx context.Context, inst store.ApplicationInstance, force bool) error {
	handle, err := c.store.ClusterConfigPath(ctx, inst.ClusterID)
	if err != nil {
		if !force {
			return err
		}
		if derr := c.store.DeleteInstance(ctx, inst.ID); derr != nil {
			err = multierror.Append(err, derr)
		}
		return err
	}
	defer handle.Release()
	return c.removeInstanceWithConfig(ctx, handle.Path(), inst, force)
}

// removeInstanceWithConfig is removeInstance under an already materialized
// kubeconfig, for cascades that pinned one before dropping the cluster
// record.
func (c *Commands) removeInstanceWithConfig(ctx context.Context, kubeconfig string, inst store.ApplicationInstance, force bool) error {
	kubeErr := c.helm.Delete(ctx, kubeconfig, inst.Name)
	if kubeErr != nil && !force {
		return kubeErr
	}
	if err := c.store.DeleteInstance(ctx, inst.ID); err != nil {
		return multierror.Append(kubeErr, err).ErrorOrNil()
	}
	c.forgetDNS(ctx, inst.Name)
	return kubeErr
}

// publishDNS registers the instance's external addresses, when a DNS
// manager is configured and the services expose any. Failures never fail
// the install; the addresses remain reachable directly.
func (c *Commands) publishDNS(ctx context.Context, kubeconfig, namespace string, inst store.ApplicationInstance) {
	if c.dns == nil {
		return
	}
	addrs, err := c.kubectl.ServiceAddresses(ctx, kubeconfig, namespace, ReleaseSelector(inst.Name))
	if err != nil {
		c.logger.Warn("service address lookup for dns failed",
			logging.Instance(inst.Name), logging.Err(err))
		return
	}
	var ips []net.IP
	for _, addr := range addrs {
		if ip := net.ParseIP(addr); ip != nil {
			ips = append(ips, ip)
		}
	}
	if len(ips) == 0 {
		return
	}
	if err := c.dns.Ensure(ctx, inst.Name, ips); err != nil {
		c.logger.Warn("dns publication failed", logging.Instance(inst.Name), logging.Err(err))
	}
}

// forgetDNS removes the instance's published name, if any.
func (c *Commands) forgetDNS(ctx context.Context, instanceName string) {
	if c.dns == nil {
		return
	}
	if err := c.dns.Remove(ctx, instanceName); err != nil {
		c.logger.Warn("dns record removal failed",
			logging.Instance(instanceName), logging.Err(err))
	}
}

// summarizePods reduces pod objects to the fields the detail envelope
// carries.
func summarizePods(pods []corev1.Pod) []PodSummary {
	out := make([]PodSummary, 0, len(pods))
	for _, pod := range pods {
		summary := PodSummary{
			Name:     pod.Name,
			Status:   string(pod.Status.Phase),
			HostName: pod.Spec.NodeName,
			HostIP:   pod.Status.HostIP,
		}
		for _, cs := range pod.Status.ContainerStatuses {
			summary.Containers = append(summary.Containers, ContainerSummary{
				Name:         cs.Name,
				Image:        cs.Image,
				Ready:        cs.Ready,
				RestartCount: cs.RestartCount,
				State:        containerState(cs.State),
			})
		}
		out = append(out, summary)
	}
	return out
}

func containerState(state corev1.ContainerState) string {
	switch {
	case state.Running != nil:
		return "running"
	case state.Waiting != nil:
		return "waiting"
	case state.Terminated != nil:
		return "terminated"
	default:
		return "unknown"
	}
}
