package store

import (
	"context"
	"fmt"
)

// AddSecret persists a new secret. Contents must already be sealed; the
// store never sees plaintext. Names are unique per (group, cluster).
func (s *Store) AddSecret(ctx context.Context, sec Secret) error {
	sec.Valid = true
	existing, err := s.db.GetSecretByName(ctx, sec.GroupID, sec.ClusterID, sec.Name)
	if err != nil {
		return fmt.Errorf("checking secret name: %w", err)
	}
	if existing.Valid {
		return ErrNameInUse
	}
	if err := s.db.PutSecret(ctx, sec); err != nil {
		return fmt.Errorf("storing secret: %w", err)
	}
	s.secrets.Insert(sec.ID, sec, s.now().Add(s.secretTTL))
	return nil
}

// GetSecret fetches a secret by ID, sealed contents included.
func (s *Store) GetSecret(ctx context.Context, id string) (Secret, error) {
	return cachedFetch(s, TierSecret, s.secrets, id, s.secretTTL, func() (Secret, bool, error) {
		sec, err := s.db.GetSecret(ctx, id)
		if err != nil {
			return Secret{}, false, err
		}
		return sec, sec.Valid, nil
	})
}

// GetSecretByName fetches a secret by name within (group, cluster).
func (s *Store) GetSecretByName(ctx context.Context, groupID, clusterID, name string) (Secret, error) {
	sec, err := s.db.GetSecretByName(ctx, groupID, clusterID, name)
	if err != nil {
		return Secret{}, fmt.Errorf("resolving secret name: %w", err)
	}
	return sec, nil
}

// DeleteSecret removes the secret record.
func (s *Store) DeleteSecret(ctx context.Context, id string) error {
	if err := s.db.DeleteSecret(ctx, id); err != nil {
		return fmt.Errorf("deleting secret: %w", err)
	}
	s.secrets.Erase(id)
	s.metrics.CacheEviction(TierSecret)
	return nil
}

// ListSecrets returns secrets matching the filter, straight from the
// database.
func (s *Store) ListSecrets(ctx context.Context, filter SecretFilter) ([]Secret, error) {
	return s.db.ListSecrets(ctx, filter)
}
