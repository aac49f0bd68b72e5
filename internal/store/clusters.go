package store

import (
	"context"
	"fmt"
	"slices"
)

// AddCluster persists a new cluster. The name must be globally unique.
func (s *Store) AddCluster(ctx context.Context, c Cluster) error {
	c.Valid = true
	existing, err := s.db.GetClusterByName(ctx, c.Name)
	if err != nil {
		return fmt.Errorf("checking cluster name: %w", err)
	}
	if existing.Valid {
		return ErrNameInUse
	}
	if err := s.db.PutCluster(ctx, c); err != nil {
		return fmt.Errorf("storing cluster: %w", err)
	}
	deadline := s.now().Add(s.clusterTTL)
	s.clusters.Insert(c.ID, c, deadline)
	s.clusterNames.Insert(c.Name, c.ID, deadline)
	if s.groupClusters.EraseKey(c.OwningGroupID) > 0 {
		s.metrics.CacheEviction(TierRelation)
	}
	return nil
}

// GetCluster fetches a cluster by ID, config included.
func (s *Store) GetCluster(ctx context.Context, id string) (Cluster, error) {
	return cachedFetch(s, TierCluster, s.clusters, id, s.clusterTTL, func() (Cluster, bool, error) {
		c, err := s.db.GetCluster(ctx, id)
		if err != nil {
			return Cluster{}, false, err
		}
		if c.Valid {
			s.clusterNames.Insert(c.Name, c.ID, s.now().Add(s.clusterTTL))
		}
		return c, c.Valid, nil
	})
}

// GetClusterByName fetches a cluster by its unique name.
func (s *Store) GetClusterByName(ctx context.Context, name string) (Cluster, error) {
	if id, ok := s.clusterNames.Get(name); ok {
		if c, ok := s.clusters.Get(id); ok && c.Name == name {
			s.metrics.CacheHit(TierCluster)
			s.clusters.UpdateExpiration(id, s.now().Add(s.clusterTTL))
			return c, nil
		}
	}
	s.metrics.CacheMiss(TierCluster)

	res, err, _ := s.flight.Do("cluster.name:"+name, func() (any, error) {
		c, err := s.db.GetClusterByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if c.Valid {
			deadline := s.now().Add(s.clusterTTL)
			s.clusters.Insert(c.ID, c, deadline)
			s.clusterNames.Insert(c.Name, c.ID, deadline)
		}
		return c, nil
	})
	if err != nil {
		return Cluster{}, fmt.Errorf("resolving cluster name: %w", err)
	}
	return res.(Cluster), nil
}

// FindCluster resolves a reference that may be an ID or a name.
func (s *Store) FindCluster(ctx context.Context, ref string) (Cluster, error) {
	if IsClusterID(ref) {
		return s.GetCluster(ctx, ref)
	}
	return s.GetClusterByName(ctx, ref)
}

// UpdateCluster writes the full cluster record, refreshes caches and
// replaces any pooled kubeconfig materialization. Handles already issued
// stay valid until their holders release them.
func (s *Store) UpdateCluster(ctx context.Context, c Cluster) error {
	c.Valid = true
	current, err := s.db.GetCluster(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("fetching cluster: %w", err)
	}
	if err := s.db.UpdateCluster(ctx, c); err != nil {
		return fmt.Errorf("updating cluster: %w", err)
	}
	if current.Valid && current.Name != c.Name {
		s.clusterNames.Erase(current.Name)
	}
	deadline := s.now().Add(s.clusterTTL)
	s.clusters.Insert(c.ID, c, deadline)
	s.clusterNames.Insert(c.Name, c.ID, deadline)
	if s.pool.invalidate(c.ID) {
		s.metrics.CacheEviction(TierConfig)
	}
	return nil
}

// DeleteCluster removes the cluster record and its grant rows. Instances
// and secrets on the cluster are the caller's cascade.
func (s *Store) DeleteCluster(ctx context.Context, id string) error {
	current, err := s.db.GetCluster(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching cluster: %w", err)
	}
	accessGroupIDs, err := s.db.ListClusterAccessGroupIDs(ctx, id)
	if err != nil {
		return fmt.Errorf("listing cluster access: %w", err)
	}
	if err := s.db.DeleteCluster(ctx, id); err != nil {
		return fmt.Errorf("deleting cluster: %w", err)
	}

	s.clusters.Erase(id)
	if current.Valid {
		s.clusterNames.Erase(current.Name)
		s.groupClusters.Erase(current.OwningGroupID, id)
	}
	s.clusterAccess.EraseKey(id)
	for _, gid := range accessGroupIDs {
		s.clusterApps.EraseKey(clusterGroupKey{clusterID: id, groupID: gid})
	}
	if s.pool.invalidate(id) {
		s.metrics.CacheEviction(TierConfig)
	}
	s.metrics.CacheEviction(TierCluster)
	return nil
}

// ListClusters returns every cluster from the database.
func (s *Store) ListClusters(ctx context.Context) ([]Cluster, error) {
	return s.db.ListClusters(ctx)
}

// ListClustersOwnedByGroup returns the clusters whose owning group is
// groupID, through the reverse-index cache.
func (s *Store) ListClustersOwnedByGroup(ctx context.Context, groupID string) ([]Cluster, error) {
	ids, err := cachedRelation(s, s.groupClusters, groupID, "rel.owned:"+groupID, s.clusterTTL, func() ([]string, error) {
		clusters, err := s.db.ListClustersOwnedByGroup(ctx, groupID)
		if err != nil {
			return nil, err
		}
		deadline := s.now().Add(s.clusterTTL)
		ids := make([]string, 0, len(clusters))
		for _, c := range clusters {
			s.clusters.Insert(c.ID, c, deadline)
			s.clusterNames.Insert(c.Name, c.ID, deadline)
			ids = append(ids, c.ID)
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Cluster, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetCluster(ctx, id)
		if err != nil {
			return nil, err
		}
		if c.Valid {
			out = append(out, c)
		}
	}
	return out, nil
}

// GrantClusterAccess allows the group to deploy on the cluster. Granting
// access also grants the wildcard application, matching the convention that
// a newly admitted group may install anything until restricted.
func (s *Store) GrantClusterAccess(ctx context.Context, clusterID, groupID string) error {
	if err := s.db.AddClusterAccess(ctx, clusterID, groupID); err != nil {
		return fmt.Errorf("granting cluster access: %w", err)
	}
	if err := s.db.AddClusterGroupApplication(ctx, clusterID, groupID, WildcardApplication); err != nil {
		return fmt.Errorf("granting universal application: %w", err)
	}
	if s.clusterAccess.EraseKey(clusterID) > 0 {
		s.metrics.CacheEviction(TierRelation)
	}
	s.clusterApps.EraseKey(clusterGroupKey{clusterID: clusterID, groupID: groupID})
	return nil
}

// RevokeClusterAccess withdraws a group's access and all of its application
// grants on the cluster.
func (s *Store) RevokeClusterAccess(ctx context.Context, clusterID, groupID string) error {
	if err := s.db.RemoveClusterAccess(ctx, clusterID, groupID); err != nil {
		return fmt.Errorf("revoking cluster access: %w", err)
	}
	s.clusterAccess.Erase(clusterID, groupID)
	s.clusterApps.EraseKey(clusterGroupKey{clusterID: clusterID, groupID: groupID})
	return nil
}

// ClusterAccessGranted reports whether the group holds an access grant on
// the cluster. Ownership is a separate predicate; see the authorization
// kernel.
func (s *Store) ClusterAccessGranted(ctx context.Context, clusterID, groupID string) (bool, error) {
	ids, err := s.clusterAccessGroupIDs(ctx, clusterID)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, groupID), nil
}

// ListClusterAccessGroups returns the groups granted access to the cluster.
func (s *Store) ListClusterAccessGroups(ctx context.Context, clusterID string) ([]Group, error) {
	ids, err := s.db.ListClusterAccessGroupIDs(ctx, clusterID)
	if err != nil {
		return nil, fmt.Errorf("listing cluster access: %w", err)
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

// GrantApplication allows the group to install one application (or the
// wildcard) on the cluster.
func (s *Store) GrantApplication(ctx context.Context, clusterID, groupID, application string) error {
	if err := s.db.AddClusterGroupApplication(ctx, clusterID, groupID, application); err != nil {
		return fmt.Errorf("granting application: %w", err)
	}
	if s.clusterApps.EraseKey(clusterGroupKey{clusterID: clusterID, groupID: groupID}) > 0 {
		s.metrics.CacheEviction(TierRelation)
	}
	return nil
}

// RevokeApplication withdraws one application grant.
func (s *Store) RevokeApplication(ctx context.Context, clusterID, groupID, application string) error {
	if err := s.db.RemoveClusterGroupApplication(ctx, clusterID, groupID, application); err != nil {
		return fmt.Errorf("revoking application: %w", err)
	}
	s.clusterApps.Erase(clusterGroupKey{clusterID: clusterID, groupID: groupID}, application)
	return nil
}

// AllowedApplications returns the application grants for (cluster, group),
// possibly including the wildcard.
func (s *Store) AllowedApplications(ctx context.Context, clusterID, groupID string) ([]string, error) {
	key := clusterGroupKey{clusterID: clusterID, groupID: groupID}
	return cachedRelation(s, s.clusterApps, key, "rel.apps:"+clusterID+"\x00"+groupID, s.clusterTTL, func() ([]string, error) {
		return s.db.ListClusterGroupApplications(ctx, clusterID, groupID)
	})
}

// ApplicationAllowed reports whether the group may install the application
// on the cluster, honoring the wildcard grant.
func (s *Store) ApplicationAllowed(ctx context.Context, clusterID, groupID, application string) (bool, error) {
	apps, err := s.AllowedApplications(ctx, clusterID, groupID)
	if err != nil {
		return false, err
	}
	return slices.Contains(apps, WildcardApplication) || slices.Contains(apps, application), nil
}

// ClusterConfigPath returns a shared handle on the cluster's materialized
// kubeconfig file. Callers must Release the handle when the subprocess
// using it has finished.
func (s *Store) ClusterConfigPath(ctx context.Context, clusterID string) (*ConfigHandle, error) {
	h, hit, err := s.pool.acquire(clusterID, s.now(), s.clusterTTL, func() (string, error) {
		c, err := s.GetCluster(ctx, clusterID)
		if err != nil {
			return "", err
		}
		if !c.Valid {
			return "", ErrUnknownCluster
		}
		return c.Config, nil
	})
	if err != nil {
		return nil, err
	}
	if hit {
		s.metrics.CacheHit(TierConfig)
	} else {
		s.metrics.CacheMiss(TierConfig)
	}
	return h, nil
}

func (s *Store) clusterAccessGroupIDs(ctx context.Context, clusterID string) ([]string, error) {
	return cachedRelation(s, s.clusterAccess, clusterID, "rel.access:"+clusterID, s.clusterTTL, func() ([]string, error) {
		return s.db.ListClusterAccessGroupIDs(ctx, clusterID)
	})
}
