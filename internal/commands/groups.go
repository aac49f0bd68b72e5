package commands

import (
	"context"
	"errors"
	"strings"

	"github.com/slateci/slate-api-server/internal/apierr"
	"github.com/slateci/slate-api-server/internal/fanout"
	"github.com/slateci/slate-api-server/internal/logging"
	"github.com/slateci/slate-api-server/internal/store"
)

// CreateGroupRequest registers a collaboration. The name becomes part of
// the group's namespace on every cluster and is immutable afterwards.
type CreateGroupRequest struct {
	Name         string `json:"name" validate:"required"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	ScienceField string `json:"scienceField" validate:"required"`
	Description  string `json:"description"`
}

// UpdateGroupRequest carries the mutable group fields.
type UpdateGroupRequest struct {
	Email        *string `json:"email"`
	Phone        *string `json:"phone"`
	ScienceField *string `json:"scienceField"`
	Description  *string `json:"description"`
}

// ListGroups returns every group.
func (c *Commands) ListGroups(ctx context.Context, caller store.User) ([]store.Group, error) {
	groups, err := c.store.ListGroups(ctx)
	if err != nil {
		return nil, apierr.Store(err)
	}
	return groups, nil
}

// CreateGroup registers a group with the caller as its first member. Any
// authenticated user may create groups.
func (c *Commands) CreateGroup(ctx context.Context, caller store.User, req CreateGroupRequest) (store.Group, error) {
	if err := c.validate.Struct(req); err != nil {
		return store.Group{}, apierr.BadRequest("invalid group: %v", err)
	}
	if strings.HasSuffix(req.Name, "-") {
		return store.Group{}, apierr.BadRequest("group name may not end with a dash")
	}
	if strings.HasPrefix(req.Name, reservedNamePrefix) {
		return store.Group{}, apierr.BadRequest("group names beginning with %q are reserved", reservedNamePrefix)
	}
	if !validEntityName(req.Name, maxGroupNameLength) {
		return store.Group{}, apierr.BadRequest("group name must be a lowercase DNS label of at most %d characters", maxGroupNameLength)
	}
	field, ok := store.NormalizeScienceField(req.ScienceField)
	if !ok {
		return store.Group{}, apierr.BadRequest("unrecognized field of science: %s", req.ScienceField)
	}

	g := store.Group{
		ID:           c.ids.NewGroupID(),
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		ScienceField: field,
		Description:  req.Description,
	}
	if err := c.store.AddGroup(ctx, g); err != nil {
		if errors.Is(err, store.ErrNameInUse) {
			return store.Group{}, apierr.Conflict("a group named %q already exists", g.Name)
		}
		return store.Group{}, apierr.Store(err)
	}
	if err := c.store.AddUserToGroup(ctx, caller.ID, g.ID); err != nil {
		return store.Group{}, apierr.Store(err)
	}
	c.logger.Info("created group",
		logging.Operation("group.create"), logging.Group(g.Name), logging.UserID(caller.ID))
	return g, nil
}

// GetGroup fetches a group by ID or name.
func (c *Commands) GetGroup(ctx context.Context, caller store.User, ref string) (store.Group, error) {
	g, err := c.store.FindGroup(ctx, ref)
	if err != nil {
		return store.Group{}, apierr.Store(err)
	}
	if !g.Valid {
		return store.Group{}, apierr.NotFound("Group")
	}
	return g, nil
}

// UpdateGroup modifies contact fields and the science field. Members and
// admins only; the name never changes.
func (c *Commands) UpdateGroup(ctx context.Context, caller store.User, ref string, req UpdateGroupRequest) (store.Group, error) {
	g, err := c.store.FindGroup(ctx, ref)
	if err != nil {
		return store.Group{}, apierr.Store(err)
	}
	if !g.Valid {
		return store.Group{}, apierr.NotFound("Group")
	}
	if err := c.auth.MayActOnGroup(ctx, caller, g.ID); err != nil {
		return store.Group{}, err
	}

	if req.Email != nil {
		g.Email = *req.Email
	}
	if req.Phone != nil {
		g.Phone = *req.Phone
	}
	if req.ScienceField != nil {
		field, ok := store.NormalizeScienceField(*req.ScienceField)
		if !ok {
			return store.Group{}, apierr.BadRequest("unrecognized field of science: %s", *req.ScienceField)
		}
		g.ScienceField = field
	}
	if req.Description != nil {
		g.Description = *req.Description
	}

	if err := c.store.UpdateGroup(ctx, g); err != nil {
		return store.Group{}, apierr.Store(err)
	}
	c.logger.Info("updated group", logging.Operation("group.update"), logging.Group(g.Name))
	return g, nil
}

// ListGroupMembers returns the group's member accounts. Members and
// admins only.
func (c *Commands) ListGroupMembers(ctx context.Context, caller store.User, ref string) ([]store.User, error) {
	g, err := c.store.FindGroup(ctx, ref)
	if err != nil {
		return nil, apierr.Store(err)
	}
	if !g.Valid {
		return nil, apierr.NotFound("Group")
	}
	if err := c.auth.MayActOnGroup(ctx, caller, g.ID); err != nil {
		return nil, err
	}
	members, err := c.store.ListGroupMembers(ctx, g.ID)
	if err != nil {
		return nil, apierr.Store(err)
	}
	return members, nil
}

// DeleteGroup removes a group and everything it owns: instances and
// secrets are torn down in parallel, its namespace is removed from every
// cluster it could reach, and finally its own clusters cascade.
func (c *Commands) DeleteGroup(ctx context.Context, caller store.User, ref string) error {
	g, err := c.store.FindGroup(ctx, ref)
	if err != nil {
		return apierr.Store(err)
	}
	if !g.Valid {
		return apierr.NotFound("Group")
	}
	if err := c.auth.MayActOnGroup(ctx, caller, g.ID); err != nil {
		return err
	}

	// Snapshot the blast radius while the grant rows still exist; the
	// record goes away before teardown so nothing new can attach to the
	// group mid-cascade.
	instances, err := c.store.ListInstances(ctx, store.InstanceFilter{GroupID: g.ID})
	if err != nil {
		return apierr.Store(err)
	}
	secrets, err := c.store.ListSecrets(ctx, store.SecretFilter{GroupID: g.ID})
	if err != nil {
		return apierr.Store(err)
	}
	reachable, err := c.reachableClusters(ctx, g.ID)
	if err != nil {
		return apierr.Store(err)
	}
	owned, err := c.store.ListClustersOwnedByGroup(ctx, g.ID)
	if err != nil {
		return apierr.Store(err)
	}

	if err := c.store.DeleteGroup(ctx, g.ID); err != nil {
		return apierr.Store(err)
	}
	c.logger.Info("deleting group",
		logging.Operation("group.delete"), logging.Group(g.Name),
		logging.UserID(caller.ID))

	namespace := GroupNamespace(g.Name)
	var tasks []fanout.Task
	for _, inst := range instances {
		tasks = append(tasks, func(ctx context.Context) error {
			return c.removeInstance(ctx, inst, true)
		})
	}
	for _, sec := range secrets {
		tasks = append(tasks, func(ctx context.Context) error {
			return c.removeSecret(ctx, sec, namespace, true)
		})
	}
	for _, cl := range reachable {
		tasks = append(tasks, func(ctx context.Context) error {
			return c.removeNamespace(ctx, cl, namespace)
		})
	}
	errs := fanout.Run(ctx, c.fanLimit, tasks)

	// Owned clusters go last: the teardown above still needed their
	// kubeconfigs.
	for _, cl := range owned {
		if err := c.deleteClusterCascade(ctx, cl); err != nil {
			errs = append(errs, err)
		}
	}

	if err := fanout.Collect(errs); err != nil {
		c.logger.Error("group cascade finished with failures",
			logging.Operation("group.delete"), logging.Group(g.Name), logging.Err(err))
		return apierr.Upstream("group deleted; some resources could not be cleaned up", err)
	}
	return nil
}

// reachableClusters lists every cluster the group owns or holds an access
// grant on; the cascade removes the group namespace from each.
func (c *Commands) reachableClusters(ctx context.Context, groupID string) ([]store.Cluster, error) {
	clusters, err := c.store.ListClusters(ctx)
	if err != nil {
		return nil, err
	}
	var out []store.Cluster
	for _, cl := range clusters {
		if cl.OwningGroupID == groupID {
			out = append(out, cl)
			continue
		}
		granted, err := c.store.ClusterAccessGranted(ctx, cl.ID, groupID)
		if err != nil {
			return nil, err
		}
		if granted {
			out = append(out, cl)
		}
	}
	return out, nil
}

// removeNamespace deletes a group namespace on one cluster. Missing
// namespaces and unreachable clusters do not fail a cascade branch alone;
// kubectl reports NotFound as success already.
func (c *Commands) removeNamespace(ctx context.Context, cl store.Cluster, namespace string) error {
	handle, err := c.store.ClusterConfigPath(ctx, cl.ID)
	if err != nil {
		return err
	}
	defer handle.Release()
	return c.kubectl.DeleteNamespace(ctx, handle.Path(), namespace)
}
