package commands

import (
	"context"
	"errors"

	"github.com/hashicorp/go-multierror"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/slateci/slate-api-server/internal/apierr"
	"github.com/slateci/slate-api-server/internal/fanout"
	"github.com/slateci/slate-api-server/internal/logging"
	"github.com/slateci/slate-api-server/internal/store"
)

// defaultSystemNamespace is where the platform's own objects live on a
// cluster when registration does not name one.
const defaultSystemNamespace = "slate-system"

// RegisterClusterRequest enrolls a Kubernetes cluster. The kubeconfig is
// stored byte-for-byte and only ever touches disk for subprocess use.
type RegisterClusterRequest struct {
	Name            string              `json:"name" validate:"required"`
	GroupRef        string              `json:"group" validate:"required"`
	Organization    string              `json:"organization" validate:"required"`
	Kubeconfig      string              `json:"kubeconfig" validate:"required"`
	SystemNamespace string              `json:"systemNamespace"`
	Locations       []store.GeoLocation `json:"location"`
}

// UpdateClusterRequest carries the mutable cluster fields. A non-nil
// kubeconfig replaces the stored credentials and invalidates any
// materialized copy.
type UpdateClusterRequest struct {
	Organization *string              `json:"organization"`
	Kubeconfig   *string              `json:"kubeconfig"`
	Locations    *[]store.GeoLocation `json:"location"`
}

// ClusterAccess reports whether one group may deploy on one cluster.
type ClusterAccess struct {
	Cluster string
	Group   string
	Allowed bool
}

// ListClusters returns every registered cluster.
func (c *Commands) ListClusters(ctx context.Context, caller store.User) ([]store.Cluster, error) {
	clusters, err := c.store.ListClusters(ctx)
	if err != nil {
		return nil, apierr.Store(err)
	}
	return clusters, nil
}

// RegisterCluster enrolls a cluster under an owning group the caller
// belongs to. The kubeconfig must parse before anything is stored.
func (c *Commands) RegisterCluster(ctx context.Context, caller store.User, req RegisterClusterRequest) (store.Cluster, error) {
	if err := c.validate.Struct(req); err != nil {
		return store.Cluster{}, apierr.BadRequest("invalid cluster: %v", err)
	}
	if !validEntityName(req.Name, maxInstanceNameLength) {
		return store.Cluster{}, apierr.BadRequest("cluster name must be a lowercase DNS label of at most %d characters", maxInstanceNameLength)
	}
	if err := validateKubeconfig(req.Kubeconfig); err != nil {
		return store.Cluster{}, err
	}

	g, err := c.store.FindGroup(ctx, req.GroupRef)
	if err != nil {
		return store.Cluster{}, apierr.Store(err)
	}
	if !g.Valid {
		return store.Cluster{}, apierr.NotFound("Group")
	}
	if err := c.auth.MayActOnGroup(ctx, caller, g.ID); err != nil {
		return store.Cluster{}, err
	}

	cl := store.Cluster{
		ID:                 c.ids.NewClusterID(),
		Name:               req.Name,
		Config:             req.Kubeconfig,
		SystemNamespace:    req.SystemNamespace,
		OwningGroupID:      g.ID,
		OwningOrganization: req.Organization,
		Locations:          req.Locations,
	}
	if cl.SystemNamespace == "" {
		cl.SystemNamespace = defaultSystemNamespace
	}
	if err := c.store.AddCluster(ctx, cl); err != nil {
		if errors.Is(err, store.ErrNameInUse) {
			return store.Cluster{}, apierr.Conflict("a cluster named %q already exists", cl.Name)
		}
		return store.Cluster{}, apierr.Store(err)
	}
	c.logger.Info("registered cluster",
		logging.Operation("cluster.register"), logging.Cluster(cl.Name), logging.Group(g.Name))
	return cl, nil
}

// GetCluster fetches a cluster by ID or name.
func (c *Commands) GetCluster(ctx context.Context, caller store.User, ref string) (store.Cluster, error) {
	cl, err := c.store.FindCluster(ctx, ref)
	if err != nil {
		return store.Cluster{}, apierr.Store(err)
	}
	if !cl.Valid {
		return store.Cluster{}, apierr.NotFound("Cluster")
	}
	return cl, nil
}

// UpdateCluster modifies organization, credentials or locations. Owning
// group members and admins only.
func (c *Commands) UpdateCluster(ctx context.Context, caller store.User, ref string, req UpdateClusterRequest) (store.Cluster, error) {
	cl, err := c.store.FindCluster(ctx, ref)
	if err != nil {
		return store.Cluster{}, apierr.Store(err)
	}
	if !cl.Valid {
		return store.Cluster{}, apierr.NotFound("Cluster")
	}
	if err := c.auth.MayAdministerCluster(ctx, caller, cl); err != nil {
		return store.Cluster{}, err
	}

	if req.Organization != nil {
		cl.OwningOrganization = *req.Organization
	}
	if req.Kubeconfig != nil {
		if err := validateKubeconfig(*req.Kubeconfig); err != nil {
			return store.Cluster{}, err
		}
		cl.Config = *req.Kubeconfig
	}
	if req.Locations != nil {
		cl.Locations = *req.Locations
	}

	if err := c.store.UpdateCluster(ctx, cl); err != nil {
		return store.Cluster{}, apierr.Store(err)
	}
	c.logger.Info("updated cluster", logging.Operation("cluster.update"), logging.Cluster(cl.Name))
	return cl, nil
}

// DeleteCluster removes a cluster and everything deployed on it. Owning
// group members and admins only.
func (c *Commands) DeleteCluster(ctx context.Context, caller store.User, ref string) error {
	cl, err := c.store.FindCluster(ctx, ref)
	if err != nil {
		return apierr.Store(err)
	}
	if !cl.Valid {
		return apierr.NotFound("Cluster")
	}
	if err := c.auth.MayAdministerCluster(ctx, caller, cl); err != nil {
		return err
	}
	c.logger.Info("deleting cluster",
		logging.Operation("cluster.delete"), logging.Cluster(cl.Name), logging.UserID(caller.ID))
	if err := c.deleteClusterCascade(ctx, cl); err != nil {
		return apierr.Upstream("cluster deleted; some resources could not be cleaned up", err)
	}
	return nil
}

// deleteClusterCascade tears a cluster out of the platform: the record
// goes first so nothing new lands on it, then instances, secrets and the
// namespaces of every group that could reach it are removed in parallel
// under a kubeconfig pinned before the record vanished.
func (c *Commands) deleteClusterCascade(ctx context.Context, cl store.Cluster) error {
	instances, err := c.store.ListInstances(ctx, store.InstanceFilter{ClusterID: cl.ID})
	if err != nil {
		return err
	}
	secrets, err := c.store.ListSecrets(ctx, store.SecretFilter{ClusterID: cl.ID})
	if err != nil {
		return err
	}
	guests, err := c.store.ListClusterAccessGroups(ctx, cl.ID)
	if err != nil {
		return err
	}
	owner, err := c.store.GetGroup(ctx, cl.OwningGroupID)
	if err != nil {
		return err
	}

	// The kubeconfig must outlive the record; without it the teardown
	// could not reach the cluster at all.
	handle, handleErr := c.store.ClusterConfigPath(ctx, cl.ID)

	if err := c.store.DeleteCluster(ctx, cl.ID); err != nil {
		if handle != nil {
			handle.Release()
		}
		return err
	}

	if handleErr != nil {
		// No credentials, no remote cleanup; drop the records so the
		// platform's view stays consistent and report what was skipped.
		errs := multierror.Append(nil, handleErr)
		for _, inst := range instances {
			if err := c.store.DeleteInstance(ctx, inst.ID); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		for _, sec := range secrets {
			if err := c.store.DeleteSecret(ctx, sec.ID); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		return errs
	}
	defer handle.Release()
	kubeconfig := handle.Path()

	// Group namespaces on this cluster, also used to locate each
	// secret's Kubernetes object.
	namespaces := map[string]string{}
	if owner.Valid {
		namespaces[owner.ID] = GroupNamespace(owner.Name)
	}
	for _, g := range guests {
		namespaces[g.ID] = GroupNamespace(g.Name)
	}

	var tasks []fanout.Task
	for _, inst := range instances {
		tasks = append(tasks, func(ctx context.Context) error {
			return c.removeInstanceWithConfig(ctx, kubeconfig, inst, true)
		})
	}
	for _, sec := range secrets {
		tasks = append(tasks, func(ctx context.Context) error {
			return c.removeSecretWithConfig(ctx, kubeconfig, sec, namespaces[sec.GroupID], true)
		})
	}
	seen := map[string]bool{}
	for _, ns := range namespaces {
		if seen[ns] {
			continue
		}
		seen[ns] = true
		tasks = append(tasks, func(ctx context.Context) error {
			return c.kubectl.DeleteNamespace(ctx, kubeconfig, ns)
		})
	}

	return fanout.Collect(fanout.Run(ctx, c.fanLimit, tasks))
}

// PingCluster probes cluster reachability with the stored credentials.
// Owning group members and admins only.
func (c *Commands) PingCluster(ctx context.Context, caller store.User, ref string) error {
	cl, err := c.store.FindCluster(ctx, ref)
	if err != nil {
		return apierr.Store(err)
	}
	if !cl.Valid {
		return apierr.NotFound("Cluster")
	}
	if err := c.auth.MayAdministerCluster(ctx, caller, cl); err != nil {
		return err
	}
	handle, err := c.store.ClusterConfigPath(ctx, cl.ID)
	if err != nil {
		return apierr.Store(err)
	}
	defer handle.Release()
	return c.kubectl.Reachable(ctx, handle.Path())
}

// ListClusterAllowedGroups returns the groups that may deploy on the
// cluster: the owner first, then every grant holder.
func (c *Commands) ListClusterAllowedGroups(ctx context.Context, caller store.User, ref string) ([]store.Group, error) {
	cl, err := c.store.FindCluster(ctx, ref)
	if err != nil {
		return nil, apierr.Store(err)
	}
	if !cl.Valid {
		return nil, apierr.NotFound("Cluster")
	}
	owner, err := c.store.GetGroup(ctx, cl.OwningGroupID)
	if err != nil {
		return nil, apierr.Store(err)
	}
	guests, err := c.store.ListClusterAccessGroups(ctx, cl.ID)
	if err != nil {
		return nil, apierr.Store(err)
	}

	var out []store.Group
	if owner.Valid {
		out = append(out, owner)
	}
	for _, g := range guests {
		if g.ID != cl.OwningGroupID {
			out = append(out, g)
		}
	}
	return out, nil
}

// GroupClusterAccess reports whether a group may deploy on a cluster,
// either by owning it or by grant.
func (c *Commands) GroupClusterAccess(ctx context.Context, caller store.User, clusterRef, groupRef string) (ClusterAccess, error) {
	cl, g, err := c.resolveClusterGroup(ctx, clusterRef, groupRef)
	if err != nil {
		return ClusterAccess{}, err
	}
	access := ClusterAccess{Cluster: cl.Name, Group: g.Name}
	if cl.OwningGroupID == g.ID {
		access.Allowed = true
		return access, nil
	}
	granted, err := c.store.ClusterAccessGranted(ctx, cl.ID, g.ID)
	if err != nil {
		return ClusterAccess{}, apierr.Store(err)
	}
	access.Allowed = granted
	return access, nil
}

// GrantGroupClusterAccess lets a guest group deploy on the cluster. The
// grant arrives with the wildcard application attached; owners narrow it
// afterwards if they care which charts run.
func (c *Commands) GrantGroupClusterAccess(ctx context.Context, caller store.User, clusterRef, groupRef string) error {
	cl, g, err := c.resolveClusterGroup(ctx, clusterRef, groupRef)
	if err != nil {
		return err
	}
	if err := c.auth.MayAdministerCluster(ctx, caller, cl); err != nil {
		return err
	}
	if cl.OwningGroupID == g.ID {
		return nil
	}
	if err := c.store.GrantClusterAccess(ctx, cl.ID, g.ID); err != nil {
		return apierr.Store(err)
	}
	c.logger.Info("granted cluster access",
		logging.Operation("cluster.grant_access"), logging.Cluster(cl.Name), logging.Group(g.Name))
	return nil
}

// RevokeGroupClusterAccess withdraws a guest group's access.
func (c *Commands) RevokeGroupClusterAccess(ctx context.Context, caller store.User, clusterRef, groupRef string) error {
	cl, g, err := c.resolveClusterGroup(ctx, clusterRef, groupRef)
	if err != nil {
		return err
	}
	if err := c.auth.MayAdministerCluster(ctx, caller, cl); err != nil {
		return err
	}
	if cl.OwningGroupID == g.ID {
		return apierr.BadRequest("the owning group's access cannot be revoked")
	}
	if err := c.store.RevokeClusterAccess(ctx, cl.ID, g.ID); err != nil {
		return apierr.Store(err)
	}
	c.logger.Info("revoked cluster access",
		logging.Operation("cluster.revoke_access"), logging.Cluster(cl.Name), logging.Group(g.Name))
	return nil
}

// ListGroupAllowedApplications returns which applications a group may
// install on a cluster. Owners may install anything; guests see their
// grant list, collapsed to the wildcard when one is present.
func (c *Commands) ListGroupAllowedApplications(ctx context.Context, caller store.User, clusterRef, groupRef string) ([]string, error) {
	cl, g, err := c.resolveClusterGroup(ctx, clusterRef, groupRef)
	if err != nil {
		return nil, err
	}
	if cl.OwningGroupID == g.ID {
		return []string{store.WildcardApplication}, nil
	}
	apps, err := c.store.AllowedApplications(ctx, cl.ID, g.ID)
	if err != nil {
		return nil, apierr.Store(err)
	}
	for _, app := range apps {
		if app == store.WildcardApplication {
			return []string{store.WildcardApplication}, nil
		}
	}
	return apps, nil
}

// GrantGroupApplication permits a guest group to install one application,
// or every application when the wildcard is named.
func (c *Commands) GrantGroupApplication(ctx context.Context, caller store.User, clusterRef, groupRef, application string) error {
	cl, g, err := c.resolveClusterGroup(ctx, clusterRef, groupRef)
	if err != nil {
		return err
	}
	if err := c.auth.MayAdministerCluster(ctx, caller, cl); err != nil {
		return err
	}
	if application == "" {
		return apierr.BadRequest("application name is required")
	}
	if err := c.store.GrantApplication(ctx, cl.ID, g.ID, application); err != nil {
		return apierr.Store(err)
	}
	c.logger.Info("granted application",
		logging.Operation("cluster.grant_application"), logging.Cluster(cl.Name),
		logging.Group(g.Name), logging.Application(application))
	return nil
}

// RevokeGroupApplication withdraws a single application grant. Revoking
// the wildcard leaves any named grants standing.
func (c *Commands) RevokeGroupApplication(ctx context.Context, caller store.User, clusterRef, groupRef, application string) error {
	cl, g, err := c.resolveClusterGroup(ctx, clusterRef, groupRef)
	if err != nil {
		return err
	}
	if err := c.auth.MayAdministerCluster(ctx, caller, cl); err != nil {
		return err
	}
	if err := c.store.RevokeApplication(ctx, cl.ID, g.ID, application); err != nil {
		return apierr.Store(err)
	}
	c.logger.Info("revoked application",
		logging.Operation("cluster.revoke_application"), logging.Cluster(cl.Name),
		logging.Group(g.Name), logging.Application(application))
	return nil
}

// resolveClusterGroup looks up the (cluster, group) pair common to the
// grant operations.
func (c *Commands) resolveClusterGroup(ctx context.Context, clusterRef, groupRef string) (store.Cluster, store.Group, error) {
	cl, err := c.store.FindCluster(ctx, clusterRef)
	if err != nil {
		return store.Cluster{}, store.Group{}, apierr.Store(err)
	}
	if !cl.Valid {
		return store.Cluster{}, store.Group{}, apierr.NotFound("Cluster")
	}
	g, err := c.store.FindGroup(ctx, groupRef)
	if err != nil {
		return store.Cluster{}, store.Group{}, apierr.Store(err)
	}
	if !g.Valid {
		return store.Cluster{}, store.Group{}, apierr.NotFound("Group")
	}
	return cl, g, nil
}

// validateKubeconfig proves the supplied credentials at least parse as a
// kubeconfig before they are stored. Reachability is the ping endpoint's
// job.
func validateKubeconfig(config string) error {
	cfg, err := clientcmd.Load([]byte(config))
	if err != nil {
		return apierr.BadRequest("kubeconfig does not parse: %v", err)
	}
	if len(cfg.Clusters) == 0 {
		return apierr.BadRequest("kubeconfig names no clusters")
	}
	return nil
}
