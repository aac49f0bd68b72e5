package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/slateci/slate-api-server/internal/store"
)

const instanceColumns = "id, name, application, owning_group_id, cluster_id, config, created"

func (s *SQLStore) PutInstance(ctx context.Context, inst store.ApplicationInstance) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO instances (id, name, application, owning_group_id, cluster_id, config, created)
		VALUES (:id, :name, :application, :owning_group_id, :cluster_id, :config, :created)`,
		instanceToRow(inst))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrNameInUse
		}
		return fmt.Errorf("inserting instance %s: %w", inst.ID, err)
	}
	return nil
}

func (s *SQLStore) GetInstance(ctx context.Context, id string) (store.ApplicationInstance, error) {
	return s.getInstance(ctx, "SELECT "+instanceColumns+" FROM instances WHERE id = ?", id)
}

func (s *SQLStore) GetInstanceByName(ctx context.Context, name string) (store.ApplicationInstance, error) {
	return s.getInstance(ctx, "SELECT "+instanceColumns+" FROM instances WHERE name = ?", name)
}

func (s *SQLStore) getInstance(ctx context.Context, query, arg string) (store.ApplicationInstance, error) {
	var row instanceRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ApplicationInstance{}, nil
	}
	if err != nil {
		return store.ApplicationInstance{}, fmt.Errorf("loading instance %s: %w", arg, err)
	}
	return row.toInstance(), nil
}

func (s *SQLStore) DeleteInstance(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM instances WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("deleting instance %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) ListInstances(ctx context.Context, filter store.InstanceFilter) ([]store.ApplicationInstance, error) {
	query := "SELECT " + instanceColumns + " FROM instances"
	var conds []string
	var args []any
	if filter.GroupID != "" {
		conds = append(conds, "owning_group_id = ?")
		args = append(args, filter.GroupID)
	}
	if filter.ClusterID != "" {
		conds = append(conds, "cluster_id = ?")
		args = append(args, filter.ClusterID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"

	var rows []instanceRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}
	instances := make([]store.ApplicationInstance, 0, len(rows))
	for _, r := range rows {
		instances = append(instances, r.toInstance())
	}
	return instances, nil
}
