package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/slateci/slate-api-server/internal/store"
)

const groupColumns = "id, name, email, phone, science_field, description"

func (s *SQLStore) PutGroup(ctx context.Context, g store.Group) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO "groups" (id, name, email, phone, science_field, description)
		VALUES (:id, :name, :email, :phone, :science_field, :description)`,
		groupToRow(g))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrNameInUse
		}
		return fmt.Errorf("inserting group %s: %w", g.ID, err)
	}
	return nil
}

func (s *SQLStore) GetGroup(ctx context.Context, id string) (store.Group, error) {
	return s.getGroup(ctx, `SELECT `+groupColumns+` FROM "groups" WHERE id = ?`, id)
}

func (s *SQLStore) GetGroupByName(ctx context.Context, name string) (store.Group, error) {
	return s.getGroup(ctx, `SELECT `+groupColumns+` FROM "groups" WHERE name = ?`, name)
}

func (s *SQLStore) getGroup(ctx context.Context, query, arg string) (store.Group, error) {
	var row groupRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Group{}, nil
	}
	if err != nil {
		return store.Group{}, fmt.Errorf("loading group %s: %w", arg, err)
	}
	return row.toGroup(), nil
}

func (s *SQLStore) UpdateGroup(ctx context.Context, g store.Group) error {
	_, err := s.db.NamedExecContext(ctx, `
		UPDATE "groups"
		SET name = :name, email = :email, phone = :phone,
		    science_field = :science_field, description = :description
		WHERE id = :id`,
		groupToRow(g))
	if err != nil {
		return fmt.Errorf("updating group %s: %w", g.ID, err)
	}
	return nil
}

func (s *SQLStore) DeleteGroup(ctx context.Context, id string) error {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range []string{
			"DELETE FROM user_groups WHERE group_id = ?",
			"DELETE FROM cluster_allowed_groups WHERE group_id = ?",
			"DELETE FROM cluster_group_applications WHERE group_id = ?",
			`DELETE FROM "groups" WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, tx.Rebind(stmt), id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting group %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) ListGroups(ctx context.Context) ([]store.Group, error) {
	var rows []groupRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+groupColumns+` FROM "groups" ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	groups := make([]store.Group, 0, len(rows))
	for _, r := range rows {
		groups = append(groups, r.toGroup())
	}
	return groups, nil
}
