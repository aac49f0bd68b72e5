package store

import (
	"context"
	"fmt"
)

// AddGroup persists a new group. The name must be globally unique; the
// check reads the database, not the cache.
func (s *Store) AddGroup(ctx context.Context, g Group) error {
	g.Valid = true
	existing, err := s.db.GetGroupByName(ctx, g.Name)
	if err != nil {
		return fmt.Errorf("checking group name: %w", err)
	}
	if existing.Valid {
		return ErrNameInUse
	}
	if err := s.db.PutGroup(ctx, g); err != nil {
		return fmt.Errorf("storing group: %w", err)
	}
	deadline := s.now().Add(s.groupTTL)
	s.groups.Insert(g.ID, g, deadline)
	s.groupNames.Insert(g.Name, g.ID, deadline)
	return nil
}

// GetGroup fetches a group by ID.
func (s *Store) GetGroup(ctx context.Context, id string) (Group, error) {
	return cachedFetch(s, TierGroup, s.groups, id, s.groupTTL, func() (Group, bool, error) {
		g, err := s.db.GetGroup(ctx, id)
		if err != nil {
			return Group{}, false, err
		}
		if g.Valid {
			s.groupNames.Insert(g.Name, g.ID, s.now().Add(s.groupTTL))
		}
		return g, g.Valid, nil
	})
}

// GetGroupByName fetches a group by its unique name.
func (s *Store) GetGroupByName(ctx context.Context, name string) (Group, error) {
	if id, ok := s.groupNames.Get(name); ok {
		if g, ok := s.groups.Get(id); ok && g.Name == name {
			s.metrics.CacheHit(TierGroup)
			s.groups.UpdateExpiration(id, s.now().Add(s.groupTTL))
			return g, nil
		}
	}
	s.metrics.CacheMiss(TierGroup)

	res, err, _ := s.flight.Do("group.name:"+name, func() (any, error) {
		g, err := s.db.GetGroupByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if g.Valid {
			deadline := s.now().Add(s.groupTTL)
			s.groups.Insert(g.ID, g, deadline)
			s.groupNames.Insert(g.Name, g.ID, deadline)
		}
		return g, nil
	})
	if err != nil {
		return Group{}, fmt.Errorf("resolving group name: %w", err)
	}
	return res.(Group), nil
}

// FindGroup resolves a reference that may be an ID or a name.
func (s *Store) FindGroup(ctx context.Context, ref string) (Group, error) {
	if IsGroupID(ref) {
		return s.GetGroup(ctx, ref)
	}
	return s.GetGroupByName(ctx, ref)
}

// UpdateGroup writes the full group record and refreshes caches. Group
// names are immutable; callers must carry the existing name through.
func (s *Store) UpdateGroup(ctx context.Context, g Group) error {
	g.Valid = true
	if err := s.db.UpdateGroup(ctx, g); err != nil {
		return fmt.Errorf("updating group: %w", err)
	}
	deadline := s.now().Add(s.groupTTL)
	s.groups.Insert(g.ID, g, deadline)
	s.groupNames.Insert(g.Name, g.ID, deadline)
	return nil
}

// DeleteGroup removes the group record, its membership rows and its grant
// rows. Owned clusters, instances and secrets are the caller's cascade.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	current, err := s.db.GetGroup(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching group: %w", err)
	}
	memberIDs, err := s.db.ListGroupMemberIDs(ctx, id)
	if err != nil {
		return fmt.Errorf("listing group members: %w", err)
	}
	if err := s.db.DeleteGroup(ctx, id); err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}

	s.groups.Erase(id)
	if current.Valid {
		s.groupNames.Erase(current.Name)
	}
	for _, uid := range memberIDs {
		s.userGroups.Erase(uid, id)
	}
	s.groupClusters.EraseKey(id)
	s.metrics.CacheEviction(TierGroup)
	return nil
}

// ListGroups returns every group from the database.
func (s *Store) ListGroups(ctx context.Context) ([]Group, error) {
	return s.db.ListGroups(ctx)
}
