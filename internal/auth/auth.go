// Package auth decides what an authenticated caller may do. Predicates
// answer nil or an API error kind; the handlers translate kinds to HTTP
// without inspecting the reason, so a denial never reveals whether the
// target exists.
package auth

import (
	"context"
	"log/slog"

	"github.com/slateci/slate-api-server/internal/apierr"
	"github.com/slateci/slate-api-server/internal/logging"
	"github.com/slateci/slate-api-server/internal/store"
)

// Authorizer evaluates access predicates against the store. Platform admins
// pass every predicate; all other answers come from the store's relation
// caches, so repeated checks inside one request are cheap.
type Authorizer struct {
	store  *store.Store
	logger *slog.Logger
}

// New returns an Authorizer over the store.
func New(st *store.Store, logger *slog.Logger) *Authorizer {
	return &Authorizer{store: st, logger: logger}
}

// UserForToken resolves a bearer token to its account. Empty and unknown
// tokens fail identically.
func (a *Authorizer) UserForToken(ctx context.Context, token string) (store.User, error) {
	if token == "" {
		return store.User{}, apierr.Unauthenticated()
	}
	u, err := a.store.FindUserByToken(ctx, token)
	if err != nil {
		return store.User{}, apierr.Store(err)
	}
	if !u.Valid {
		a.logger.Debug("rejecting unknown token", logging.TokenHash(token))
		return store.User{}, apierr.Unauthenticated()
	}
	return u, nil
}

// AdminOnly restricts an operation to platform administrators.
func (a *Authorizer) AdminOnly(caller store.User) error {
	if !caller.Admin {
		return apierr.Forbidden()
	}
	return nil
}

// MayActOnGroup allows admins and members of the group. It is the gate for
// group mutation, membership management and everything owned by the group.
func (a *Authorizer) MayActOnGroup(ctx context.Context, caller store.User, groupID string) error {
	if caller.Admin {
		return nil
	}
	member, err := a.store.UserInGroup(ctx, caller.ID, groupID)
	if err != nil {
		return apierr.Store(err)
	}
	if !member {
		a.logger.Debug("denying group action",
			logging.UserID(caller.ID), logging.Group(groupID))
		return apierr.Forbidden()
	}
	return nil
}

// MayDeploy allows a member of group to place workloads on cluster: the
// group either owns the cluster or holds an access grant.
func (a *Authorizer) MayDeploy(ctx context.Context, caller store.User, group store.Group, cluster store.Cluster) error {
	if caller.Admin {
		return nil
	}
	if err := a.MayActOnGroup(ctx, caller, group.ID); err != nil {
		return err
	}
	if cluster.OwningGroupID == group.ID {
		return nil
	}
	granted, err := a.store.ClusterAccessGranted(ctx, cluster.ID, group.ID)
	if err != nil {
		return apierr.Store(err)
	}
	if !granted {
		a.logger.Debug("denying deployment",
			logging.UserID(caller.ID), logging.Group(group.Name), logging.Cluster(cluster.Name))
		return apierr.Forbidden()
	}
	return nil
}

// MayInstall is MayDeploy plus the application grant check. The owning
// group may install anything on its own cluster; guests need the
// application granted by name or wildcard.
func (a *Authorizer) MayInstall(ctx context.Context, caller store.User, group store.Group, cluster store.Cluster, application string) error {
	if caller.Admin {
		return nil
	}
	if err := a.MayDeploy(ctx, caller, group, cluster); err != nil {
		return err
	}
	if cluster.OwningGroupID == group.ID {
		return nil
	}
	allowed, err := a.store.ApplicationAllowed(ctx, cluster.ID, group.ID, application)
	if err != nil {
		return apierr.Store(err)
	}
	if !allowed {
		a.logger.Debug("denying install",
			logging.UserID(caller.ID), logging.Group(group.Name),
			logging.Cluster(cluster.Name), logging.Application(application))
		return apierr.Forbidden()
	}
	return nil
}

// OwnsInstance allows admins and members of the instance's owning group.
func (a *Authorizer) OwnsInstance(ctx context.Context, caller store.User, inst store.ApplicationInstance) error {
	return a.MayActOnGroup(ctx, caller, inst.OwningGroupID)
}

// OwnsSecret allows admins and members of the secret's owning group.
func (a *Authorizer) OwnsSecret(ctx context.Context, caller store.User, sec store.Secret) error {
	return a.MayActOnGroup(ctx, caller, sec.GroupID)
}

// MayAdministerCluster allows admins and members of the cluster's owning
// group; it gates cluster update, deletion and grant management.
func (a *Authorizer) MayAdministerCluster(ctx context.Context, caller store.User, cluster store.Cluster) error {
	return a.MayActOnGroup(ctx, caller, cluster.OwningGroupID)
}
