package commands

import (
	"context"
	"errors"

	"github.com/slateci/slate-api-server/internal/apierr"
	"github.com/slateci/slate-api-server/internal/logging"
	"github.com/slateci/slate-api-server/internal/store"
)

// CreateUserRequest registers a new account. Tokens are minted server
// side; the response is the only time the caller learns the value without
// an explicit admin lookup.
type CreateUserRequest struct {
	GlobusID    string `json:"globusID" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Email       string `json:"email" validate:"required"`
	Phone       string `json:"phone"`
	Institution string `json:"institution"`
	Admin       bool   `json:"admin"`
}

// UpdateUserRequest carries the mutable account fields. Nil pointers leave
// the stored value untouched.
type UpdateUserRequest struct {
	Name        *string `json:"name"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
	Institution *string `json:"institution"`
	Admin       *bool   `json:"admin"`
}

// ListUsers returns every account. Admin only.
func (c *Commands) ListUsers(ctx context.Context, caller store.User) ([]store.User, error) {
	if err := c.auth.AdminOnly(caller); err != nil {
		return nil, err
	}
	users, err := c.store.ListUsers(ctx)
	if err != nil {
		return nil, apierr.Store(err)
	}
	return users, nil
}

// CreateUser registers an account and mints its token. Admin only; one
// account per federated identity.
func (c *Commands) CreateUser(ctx context.Context, caller store.User, req CreateUserRequest) (store.User, error) {
	if err := c.auth.AdminOnly(caller); err != nil {
		return store.User{}, err
	}
	if err := c.validate.Struct(req); err != nil {
		return store.User{}, apierr.BadRequest("invalid user: %v", err)
	}

	u := store.User{
		ID:          c.ids.NewUserID(),
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Institution: req.Institution,
		Token:       c.ids.NewToken(),
		GlobusID:    req.GlobusID,
		Admin:       req.Admin,
	}
	if err := c.store.AddUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrGlobusIDInUse) {
			return store.User{}, apierr.Conflict("a user with this Globus ID already exists")
		}
		return store.User{}, apierr.Store(err)
	}
	c.logger.Info("created user",
		logging.Operation("user.create"), logging.UserID(u.ID), logging.UserHash(u.Email))
	return u, nil
}

// GetUser fetches an account. Self or admin.
func (c *Commands) GetUser(ctx context.Context, caller store.User, id string) (store.User, error) {
	if caller.ID != id {
		if err := c.auth.AdminOnly(caller); err != nil {
			return store.User{}, err
		}
	}
	u, err := c.store.GetUser(ctx, id)
	if err != nil {
		return store.User{}, apierr.Store(err)
	}
	if !u.Valid {
		return store.User{}, apierr.NotFound("User")
	}
	return u, nil
}

// UpdateUser modifies account fields. Self or admin; the admin flag only
// changes when an admin asks.
func (c *Commands) UpdateUser(ctx context.Context, caller store.User, id string, req UpdateUserRequest) (store.User, error) {
	if caller.ID != id {
		if err := c.auth.AdminOnly(caller); err != nil {
			return store.User{}, err
		}
	}
	u, err := c.store.GetUser(ctx, id)
	if err != nil {
		return store.User{}, apierr.Store(err)
	}
	if !u.Valid {
		return store.User{}, apierr.NotFound("User")
	}

	if req.Name != nil {
		u.Name = *req.Name
	}
	if req.Email != nil {
		u.Email = *req.Email
	}
	if req.Phone != nil {
		u.Phone = *req.Phone
	}
	if req.Institution != nil {
		u.Institution = *req.Institution
	}
	if req.Admin != nil && *req.Admin != u.Admin {
		if err := c.auth.AdminOnly(caller); err != nil {
			return store.User{}, err
		}
		u.Admin = *req.Admin
	}

	if err := c.store.UpdateUser(ctx, u); err != nil {
		return store.User{}, apierr.Store(err)
	}
	c.logger.Info("updated user", logging.Operation("user.update"), logging.UserID(u.ID))
	return u, nil
}

// ReplaceUserToken revokes the current token and mints a fresh one. Self
// or admin. The old token stops working before this call returns.
func (c *Commands) ReplaceUserToken(ctx context.Context, caller store.User, id string) (store.User, error) {
	if caller.ID != id {
		if err := c.auth.AdminOnly(caller); err != nil {
			return store.User{}, err
		}
	}
	u, err := c.store.ReplaceUserToken(ctx, id, c.ids.NewToken())
	if err != nil {
		return store.User{}, apierr.Store(err)
	}
	if !u.Valid {
		return store.User{}, apierr.NotFound("User")
	}
	c.logger.Info("replaced user token", logging.Operation("user.replace_token"), logging.UserID(id))
	return u, nil
}

// DeleteUser removes an account, its token and its group memberships.
// Self or admin.
func (c *Commands) DeleteUser(ctx context.Context, caller store.User, id string) error {
	if caller.ID != id {
		if err := c.auth.AdminOnly(caller); err != nil {
			return err
		}
	}
	u, err := c.store.GetUser(ctx, id)
	if err != nil {
		return apierr.Store(err)
	}
	if !u.Valid {
		return apierr.NotFound("User")
	}
	if err := c.store.DeleteUser(ctx, id); err != nil {
		return apierr.Store(err)
	}
	c.logger.Info("deleted user", logging.Operation("user.delete"), logging.UserID(id))
	return nil
}

// ListUserGroups returns the groups a user belongs to. Any authenticated
// caller may look.
func (c *Commands) ListUserGroups(ctx context.Context, caller store.User, id string) ([]store.Group, error) {
	u, err := c.store.GetUser(ctx, id)
	if err != nil {
		return nil, apierr.Store(err)
	}
	if !u.Valid {
		return nil, apierr.NotFound("User")
	}
	groups, err := c.store.ListUserGroups(ctx, id)
	if err != nil {
		return nil, apierr.Store(err)
	}
	return groups, nil
}

// AddUserToGroup makes a user a member. The caller must already belong to
// the target group or be an admin.
func (c *Commands) AddUserToGroup(ctx context.Context, caller store.User, userID, groupRef string) error {
	u, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return apierr.Store(err)
	}
	if !u.Valid {
		return apierr.NotFound("User")
	}
	g, err := c.store.FindGroup(ctx, groupRef)
	if err != nil {
		return apierr.Store(err)
	}
	if !g.Valid {
		return apierr.NotFound("Group")
	}
	if err := c.auth.MayActOnGroup(ctx, caller, g.ID); err != nil {
		return err
	}
	if err := c.store.AddUserToGroup(ctx, u.ID, g.ID); err != nil {
		return apierr.Store(err)
	}
	c.logger.Info("added group member",
		logging.Operation("group.add_member"), logging.UserID(u.ID), logging.Group(g.Name))
	return nil
}

// RemoveUserFromGroup ends a membership. Group members and admins may
// remove anyone, which covers leaving a group oneself.
func (c *Commands) RemoveUserFromGroup(ctx context.Context, caller store.User, userID, groupRef string) error {
	g, err := c.store.FindGroup(ctx, groupRef)
	if err != nil {
		return apierr.Store(err)
	}
	if !g.Valid {
		return apierr.NotFound("Group")
	}
	if err := c.auth.MayActOnGroup(ctx, caller, g.ID); err != nil {
		return err
	}
	if err := c.store.RemoveUserFromGroup(ctx, userID, g.ID); err != nil {
		return apierr.Store(err)
	}
	c.logger.Info("removed group member",
		logging.Operation("group.remove_member"), logging.UserID(userID), logging.Group(g.Name))
	return nil
}

// FindUserByGlobusID resolves a federated identity to its account, token
// included. Admin only; this is how portals bootstrap sessions.
func (c *Commands) FindUserByGlobusID(ctx context.Context, caller store.User, globusID string) (store.User, error) {
	if err := c.auth.AdminOnly(caller); err != nil {
		return store.User{}, err
	}
	if globusID == "" {
		return store.User{}, apierr.BadRequest("globus_id is required")
	}
	u, err := c.store.FindUserByGlobusID(ctx, globusID)
	if err != nil {
		return store.User{}, apierr.Store(err)
	}
	if !u.Valid {
		return store.User{}, apierr.NotFound("User")
	}
	return u, nil
}
