package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/slateci/slate-api-server/internal/store"
)

const userColumns = "id, name, email, phone, institution, token, globus_id, admin"

func (s *SQLStore) PutUser(ctx context.Context, u store.User) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, name, email, phone, institution, token, globus_id, admin)
		VALUES (:id, :name, :email, :phone, :institution, :token, :globus_id, :admin)`,
		userToRow(u))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrGlobusIDInUse
		}
		return fmt.Errorf("inserting user %s: %w", u.ID, err)
	}
	return nil
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (store.User, error) {
	return s.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

func (s *SQLStore) GetUserByToken(ctx context.Context, token string) (store.User, error) {
	return s.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE token = ?", token)
}

func (s *SQLStore) GetUserByGlobusID(ctx context.Context, globusID string) (store.User, error) {
	return s.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE globus_id = ?", globusID)
}

func (s *SQLStore) getUser(ctx context.Context, query, arg string) (store.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, nil
	}
	if err != nil {
		// The argument may be a bearer token, so it stays out of the error.
		return store.User{}, fmt.Errorf("loading user: %w", err)
	}
	return row.toUser(), nil
}

func (s *SQLStore) UpdateUser(ctx context.Context, u store.User) error {
	_, err := s.db.NamedExecContext(ctx, `
		UPDATE users
		SET name = :name, email = :email, phone = :phone, institution = :institution,
		    token = :token, globus_id = :globus_id, admin = :admin
		WHERE id = :id`,
		userToRow(u))
	if err != nil {
		return fmt.Errorf("updating user %s: %w", u.ID, err)
	}
	return nil
}

func (s *SQLStore) DeleteUser(ctx context.Context, id string) error {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM user_groups WHERE user_id = ?"), id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM users WHERE id = ?"), id)
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting user %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) ListUsers(ctx context.Context) ([]store.User, error) {
	var rows []userRow
	err := s.db.SelectContext(ctx, &rows, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	users := make([]store.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toUser())
	}
	return users, nil
}

func (s *SQLStore) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind("INSERT INTO user_groups (user_id, group_id) VALUES (?, ?) ON CONFLICT DO NOTHING"),
		userID, groupID)
	if err != nil {
		return fmt.Errorf("adding user %s to group %s: %w", userID, groupID, err)
	}
	return nil
}

func (s *SQLStore) RemoveUserFromGroup(ctx context.Context, userID, groupID string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind("DELETE FROM user_groups WHERE user_id = ? AND group_id = ?"),
		userID, groupID)
	if err != nil {
		return fmt.Errorf("removing user %s from group %s: %w", userID, groupID, err)
	}
	return nil
}

func (s *SQLStore) UserInGroup(ctx context.Context, userID, groupID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		s.db.Rebind("SELECT COUNT(*) FROM user_groups WHERE user_id = ? AND group_id = ?"),
		userID, groupID)
	if err != nil {
		return false, fmt.Errorf("checking membership of %s in %s: %w", userID, groupID, err)
	}
	return n > 0, nil
}

func (s *SQLStore) ListUserGroupIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		s.db.Rebind("SELECT group_id FROM user_groups WHERE user_id = ? ORDER BY group_id"),
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing groups of user %s: %w", userID, err)
	}
	return ids, nil
}

func (s *SQLStore) ListGroupMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		s.db.Rebind("SELECT user_id FROM user_groups WHERE group_id = ? ORDER BY user_id"),
		groupID)
	if err != nil {
		return nil, fmt.Errorf("listing members of group %s: %w", groupID, err)
	}
	return ids, nil
}
