package store

import (
	"context"
	"fmt"
	"slices"
)

// AddUser persists a new user. The caller mints the ID and token. Fails
// with ErrGlobusIDInUse when the federated identity is already registered.
func (s *Store) AddUser(ctx context.Context, u User) error {
	u.Valid = true
	existing, err := s.db.GetUserByGlobusID(ctx, u.GlobusID)
	if err != nil {
		return fmt.Errorf("checking federated identity: %w", err)
	}
	if existing.Valid {
		return ErrGlobusIDInUse
	}
	if err := s.db.PutUser(ctx, u); err != nil {
		return fmt.Errorf("storing user: %w", err)
	}
	s.users.Insert(u.ID, u, s.now().Add(s.userTTL))
	s.indexUser(u)
	return nil
}

// GetUser fetches a user by ID. Absence is a record with Valid=false.
func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	return cachedFetch(s, TierUser, s.users, id, s.userTTL, func() (User, bool, error) {
		u, err := s.db.GetUser(ctx, id)
		if err != nil {
			return User{}, false, err
		}
		if u.Valid {
			s.indexUser(u)
		}
		return u, u.Valid, nil
	})
}

// FindUserByToken resolves an access token. This is the hottest read in the
// system; a token-index hit refreshes the user's by-ID TTL.
func (s *Store) FindUserByToken(ctx context.Context, token string) (User, error) {
	if id, ok := s.tokenIndex.Get(token); ok {
		// The by-ID record wins over a stale index entry after a token
		// replacement.
		if u, ok := s.users.Get(id); ok && u.Token == token {
			s.metrics.CacheHit(TierUser)
			s.users.UpdateExpiration(id, s.now().Add(s.userTTL))
			return u, nil
		}
	}
	s.metrics.CacheMiss(TierUser)

	res, err, _ := s.flight.Do("user.token:"+token, func() (any, error) {
		u, err := s.db.GetUserByToken(ctx, token)
		if err != nil {
			return nil, err
		}
		if u.Valid {
			s.users.Insert(u.ID, u, s.now().Add(s.userTTL))
			s.indexUser(u)
		}
		return u, nil
	})
	if err != nil {
		return User{}, fmt.Errorf("resolving token: %w", err)
	}
	return res.(User), nil
}

// FindUserByGlobusID resolves a federated identity to a user.
func (s *Store) FindUserByGlobusID(ctx context.Context, globusID string) (User, error) {
	if id, ok := s.globusIndex.Get(globusID); ok {
		if u, ok := s.users.Get(id); ok && u.GlobusID == globusID {
			s.metrics.CacheHit(TierUser)
			s.users.UpdateExpiration(id, s.now().Add(s.userTTL))
			return u, nil
		}
	}
	s.metrics.CacheMiss(TierUser)

	res, err, _ := s.flight.Do("user.globus:"+globusID, func() (any, error) {
		u, err := s.db.GetUserByGlobusID(ctx, globusID)
		if err != nil {
			return nil, err
		}
		if u.Valid {
			s.users.Insert(u.ID, u, s.now().Add(s.userTTL))
			s.indexUser(u)
		}
		return u, nil
	})
	if err != nil {
		return User{}, fmt.Errorf("resolving federated identity: %w", err)
	}
	return res.(User), nil
}

// UpdateUser writes the full user record and refreshes caches. The token
// must be the user's current one; use ReplaceUserToken to rotate it.
func (s *Store) UpdateUser(ctx context.Context, u User) error {
	u.Valid = true
	if err := s.db.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	s.users.Insert(u.ID, u, s.now().Add(s.userTTL))
	s.indexUser(u)
	return nil
}

// ReplaceUserToken rotates a user's access token. The previous token stops
// authenticating immediately. Returns the updated record; Valid=false when
// the user does not exist.
func (s *Store) ReplaceUserToken(ctx context.Context, id, token string) (User, error) {
	current, err := s.db.GetUser(ctx, id)
	if err != nil {
		return User{}, fmt.Errorf("fetching user: %w", err)
	}
	if !current.Valid {
		return current, nil
	}
	oldToken := current.Token
	current.Token = token
	if err := s.db.UpdateUser(ctx, current); err != nil {
		return User{}, fmt.Errorf("rotating token: %w", err)
	}
	s.tokenIndex.Erase(oldToken)
	s.metrics.CacheEviction(TierUser)
	s.users.Insert(id, current, s.now().Add(s.userTTL))
	s.indexUser(current)
	return current, nil
}

// DeleteUser removes the user, their memberships and their token.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	current, err := s.db.GetUser(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching user: %w", err)
	}
	if err := s.db.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	s.users.Erase(id)
	if current.Valid {
		s.tokenIndex.Erase(current.Token)
		s.globusIndex.Erase(current.GlobusID)
	}
	s.userGroups.EraseKey(id)
	s.metrics.CacheEviction(TierUser)
	return nil
}

// ListUsers returns every user from the database. Listings never populate
// caches.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	return s.db.ListUsers(ctx)
}

// AddUserToGroup records a membership. The user's membership category is
// invalidated rather than extended so it always reflects a complete
// database read.
func (s *Store) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	if err := s.db.AddUserToGroup(ctx, userID, groupID); err != nil {
		return fmt.Errorf("adding group membership: %w", err)
	}
	if s.userGroups.EraseKey(userID) > 0 {
		s.metrics.CacheEviction(TierRelation)
	}
	return nil
}

// RemoveUserFromGroup removes a membership. Removing a value from a
// complete category keeps it complete, so the cache entry survives.
func (s *Store) RemoveUserFromGroup(ctx context.Context, userID, groupID string) error {
	if err := s.db.RemoveUserFromGroup(ctx, userID, groupID); err != nil {
		return fmt.Errorf("removing group membership: %w", err)
	}
	s.userGroups.Erase(userID, groupID)
	return nil
}

// UserInGroup reports whether the user is a member of the group.
func (s *Store) UserInGroup(ctx context.Context, userID, groupID string) (bool, error) {
	ids, err := s.userGroupIDs(ctx, userID)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, groupID), nil
}

// ListUserGroups returns the groups the user belongs to.
func (s *Store) ListUserGroups(ctx context.Context, userID string) ([]Group, error) {
	ids, err := s.userGroupIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	groups := make([]Group, 0, len(ids))
	for _, gid := range ids {
		g, err := s.GetGroup(ctx, gid)
		if err != nil {
			return nil, err
		}
		if g.Valid {
			groups = append(groups, g)
		}
	}
	return groups, nil
}

// ListGroupMembers returns the users belonging to the group.
func (s *Store) ListGroupMembers(ctx context.Context, groupID string) ([]User, error) {
	ids, err := s.db.ListGroupMemberIDs(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing group members: %w", err)
	}
	users := make([]User, 0, len(ids))
	for _, uid := range ids {
		u, err := s.GetUser(ctx, uid)
		if err != nil {
			return nil, err
		}
		if u.Valid {
			users = append(users, u)
		}
	}
	return users, nil
}

func (s *Store) userGroupIDs(ctx context.Context, userID string) ([]string, error) {
	return cachedRelation(s, s.userGroups, userID, "rel.usergroups:"+userID, s.userTTL, func() ([]string, error) {
		return s.db.ListUserGroupIDs(ctx, userID)
	})
}

func (s *Store) indexUser(u User) {
	deadline := s.now().Add(s.userTTL)
	s.tokenIndex.Insert(u.Token, u.ID, deadline)
	s.globusIndex.Insert(u.GlobusID, u.ID, deadline)
}
