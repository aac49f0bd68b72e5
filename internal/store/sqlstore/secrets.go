package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/slateci/slate-api-server/internal/store"
)

const secretColumns = "id, name, group_id, cluster_id, created, contents"

func (s *SQLStore) PutSecret(ctx context.Context, sec store.Secret) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO secrets (id, name, group_id, cluster_id, created, contents)
		VALUES (:id, :name, :group_id, :cluster_id, :created, :contents)`,
		secretToRow(sec))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrNameInUse
		}
		return fmt.Errorf("inserting secret %s: %w", sec.ID, err)
	}
	return nil
}

func (s *SQLStore) GetSecret(ctx context.Context, id string) (store.Secret, error) {
	var row secretRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT "+secretColumns+" FROM secrets WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Secret{}, nil
	}
	if err != nil {
		return store.Secret{}, fmt.Errorf("loading secret %s: %w", id, err)
	}
	return row.toSecret()
}

func (s *SQLStore) GetSecretByName(ctx context.Context, groupID, clusterID, name string) (store.Secret, error) {
	var row secretRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind("SELECT "+secretColumns+" FROM secrets WHERE group_id = ? AND cluster_id = ? AND name = ?"),
		groupID, clusterID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Secret{}, nil
	}
	if err != nil {
		return store.Secret{}, fmt.Errorf("loading secret %s of group %s on cluster %s: %w", name, groupID, clusterID, err)
	}
	return row.toSecret()
}

func (s *SQLStore) DeleteSecret(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM secrets WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("deleting secret %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) ListSecrets(ctx context.Context, filter store.SecretFilter) ([]store.Secret, error) {
	query := "SELECT " + secretColumns + " FROM secrets"
	var conds []string
	var args []any
	if filter.GroupID != "" {
		conds = append(conds, "group_id = ?")
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

	var rows []secretRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing secrets: %w", err)
	}
	secrets := make([]store.Secret, 0, len(rows))
	for _, r := range rows {
		sec, err := r.toSecret()
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, sec)
	}
	return secrets, nil
}
