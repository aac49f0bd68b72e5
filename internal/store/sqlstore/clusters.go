package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/slateci/slate-api-server/internal/store"
)

const clusterColumns = "id, name, config, system_namespace, owning_group_id, owning_organization, locations"

func (s *SQLStore) PutCluster(ctx context.Context, c store.Cluster) error {
	row, err := clusterToRow(c)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO clusters (id, name, config, system_namespace, owning_group_id, owning_organization, locations)
		VALUES (:id, :name, :config, :system_namespace, :owning_group_id, :owning_organization, :locations)`,
		row)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrNameInUse
		}
		return fmt.Errorf("inserting cluster %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLStore) GetCluster(ctx context.Context, id string) (store.Cluster, error) {
	return s.getCluster(ctx, "SELECT "+clusterColumns+" FROM clusters WHERE id = ?", id)
}

func (s *SQLStore) GetClusterByName(ctx context.Context, name string) (store.Cluster, error) {
	return s.getCluster(ctx, "SELECT "+clusterColumns+" FROM clusters WHERE name = ?", name)
}

func (s *SQLStore) getCluster(ctx context.Context, query, arg string) (store.Cluster, error) {
	var row clusterRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Cluster{}, nil
	}
	if err != nil {
		return store.Cluster{}, fmt.Errorf("loading cluster %s: %w", arg, err)
	}
	return row.toCluster()
}

func (s *SQLStore) UpdateCluster(ctx context.Context, c store.Cluster) error {
	row, err := clusterToRow(c)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		UPDATE clusters
		SET name = :name, config = :config, system_namespace = :system_namespace,
		    owning_group_id = :owning_group_id, owning_organization = :owning_organization,
		    locations = :locations
		WHERE id = :id`,
		row)
	if err != nil {
		return fmt.Errorf("updating cluster %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLStore) DeleteCluster(ctx context.Context, id string) error {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range []string{
			"DELETE FROM cluster_group_applications WHERE cluster_id = ?",
			"DELETE FROM cluster_allowed_groups WHERE cluster_id = ?",
			"DELETE FROM clusters WHERE id = ?",
		} {
			if _, err := tx.ExecContext(ctx, tx.Rebind(stmt), id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting cluster %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) ListClusters(ctx context.Context) ([]store.Cluster, error) {
	return s.listClusters(ctx, "SELECT "+clusterColumns+" FROM clusters ORDER BY id")
}

func (s *SQLStore) ListClustersOwnedByGroup(ctx context.Context, groupID string) ([]store.Cluster, error) {
	return s.listClusters(ctx,
		"SELECT "+clusterColumns+" FROM clusters WHERE owning_group_id = ? ORDER BY id", groupID)
}

func (s *SQLStore) listClusters(ctx context.Context, query string, args ...any) ([]store.Cluster, error) {
	var rows []clusterRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing clusters: %w", err)
	}
	clusters := make([]store.Cluster, 0, len(rows))
	for _, r := range rows {
		c, err := r.toCluster()
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}
	return clusters, nil
}

func (s *SQLStore) AddClusterAccess(ctx context.Context, clusterID, groupID string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind("INSERT INTO cluster_allowed_groups (cluster_id, group_id) VALUES (?, ?) ON CONFLICT DO NOTHING"),
		clusterID, groupID)
	if err != nil {
		return fmt.Errorf("granting group %s access to cluster %s: %w", groupID, clusterID, err)
	}
	return nil
}

// RemoveClusterAccess also drops the pair's application grants, so a later
// re-grant starts from a clean slate.
func (s *SQLStore) RemoveClusterAccess(ctx context.Context, clusterID, groupID string) error {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range []string{
			"DELETE FROM cluster_group_applications WHERE cluster_id = ? AND group_id = ?",
			"DELETE FROM cluster_allowed_groups WHERE cluster_id = ? AND group_id = ?",
		} {
			if _, err := tx.ExecContext(ctx, tx.Rebind(stmt), clusterID, groupID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("revoking group %s access to cluster %s: %w", groupID, clusterID, err)
	}
	return nil
}

func (s *SQLStore) ClusterAccessExists(ctx context.Context, clusterID, groupID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		s.db.Rebind("SELECT COUNT(*) FROM cluster_allowed_groups WHERE cluster_id = ? AND group_id = ?"),
		clusterID, groupID)
	if err != nil {
		return false, fmt.Errorf("checking access of group %s to cluster %s: %w", groupID, clusterID, err)
	}
	return n > 0, nil
}

func (s *SQLStore) ListClusterAccessGroupIDs(ctx context.Context, clusterID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		s.db.Rebind("SELECT group_id FROM cluster_allowed_groups WHERE cluster_id = ? ORDER BY group_id"),
		clusterID)
	if err != nil {
		return nil, fmt.Errorf("listing groups with access to cluster %s: %w", clusterID, err)
	}
	return ids, nil
}

func (s *SQLStore) AddClusterGroupApplication(ctx context.Context, clusterID, groupID, application string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind("INSERT INTO cluster_group_applications (cluster_id, group_id, application) VALUES (?, ?, ?) ON CONFLICT DO NOTHING"),
		clusterID, groupID, application)
	if err != nil {
		return fmt.Errorf("granting application %s to group %s on cluster %s: %w", application, groupID, clusterID, err)
	}
	return nil
}

func (s *SQLStore) RemoveClusterGroupApplication(ctx context.Context, clusterID, groupID, application string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind("DELETE FROM cluster_group_applications WHERE cluster_id = ? AND group_id = ? AND application = ?"),
		clusterID, groupID, application)
	if err != nil {
		return fmt.Errorf("revoking application %s from group %s on cluster %s: %w", application, groupID, clusterID, err)
	}
	return nil
}

func (s *SQLStore) ListClusterGroupApplications(ctx context.Context, clusterID, groupID string) ([]string, error) {
	var apps []string
	err := s.db.SelectContext(ctx, &apps,
		s.db.Rebind("SELECT application FROM cluster_group_applications WHERE cluster_id = ? AND group_id = ? ORDER BY application"),
		clusterID, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing applications granted to group %s on cluster %s: %w", groupID, clusterID, err)
	}
	return apps, nil
}
