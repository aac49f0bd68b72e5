package store

import (
	"context"
	"fmt"
)

// AddInstance persists a new application instance. Instance names are
// globally unique among live instances.
func (s *Store) AddInstance(ctx context.Context, inst ApplicationInstance) error {
	inst.Valid = true
	existing, err := s.db.GetInstanceByName(ctx, inst.Name)
	if err != nil {
		return fmt.Errorf("checking instance name: %w", err)
	}
	if existing.Valid {
		return ErrNameInUse
	}
	if err := s.db.PutInstance(ctx, inst); err != nil {
		return fmt.Errorf("storing instance: %w", err)
	}
	deadline := s.now().Add(s.instanceTTL)
	s.instances.Insert(inst.ID, inst, deadline)
	s.instanceNames.Insert(inst.Name, inst.ID, deadline)
	return nil
}

// GetInstance fetches an application instance by ID.
func (s *Store) GetInstance(ctx context.Context, id string) (ApplicationInstance, error) {
	return cachedFetch(s, TierInstance, s.instances, id, s.instanceTTL, func() (ApplicationInstance, bool, error) {
		inst, err := s.db.GetInstance(ctx, id)
		if err != nil {
			return ApplicationInstance{}, false, err
		}
		if inst.Valid {
			s.instanceNames.Insert(inst.Name, inst.ID, s.now().Add(s.instanceTTL))
		}
		return inst, inst.Valid, nil
	})
}

// GetInstanceByName fetches an application instance by its unique name.
func (s *Store) GetInstanceByName(ctx context.Context, name string) (ApplicationInstance, error) {
	if id, ok := s.instanceNames.Get(name); ok {
		if inst, ok := s.instances.Get(id); ok && inst.Name == name {
			s.metrics.CacheHit(TierInstance)
			s.instances.UpdateExpiration(id, s.now().Add(s.instanceTTL))
			return inst, nil
		}
	}
	s.metrics.CacheMiss(TierInstance)

	res, err, _ := s.flight.Do("instance.name:"+name, func() (any, error) {
		inst, err := s.db.GetInstanceByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if inst.Valid {
			deadline := s.now().Add(s.instanceTTL)
			s.instances.Insert(inst.ID, inst, deadline)
			s.instanceNames.Insert(inst.Name, inst.ID, deadline)
		}
		return inst, nil
	})
	if err != nil {
		return ApplicationInstance{}, fmt.Errorf("resolving instance name: %w", err)
	}
	return res.(ApplicationInstance), nil
}

// DeleteInstance removes the instance record. Idempotent at this layer;
// deleting an absent instance is a no-op.
func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	current, err := s.db.GetInstance(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching instance: %w", err)
	}
	if err := s.db.DeleteInstance(ctx, id); err != nil {
		return fmt.Errorf("deleting instance: %w", err)
	}
	s.instances.Erase(id)
	if current.Valid {
		s.instanceNames.Erase(current.Name)
	}
	s.metrics.CacheEviction(TierInstance)
	return nil
}

// ListInstances returns instances matching the filter, straight from the
// database.
func (s *Store) ListInstances(ctx context.Context, filter InstanceFilter) ([]ApplicationInstance, error) {
	return s.db.ListInstances(ctx, filter)
}
