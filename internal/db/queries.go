package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// AuthorizedUser is one entry in the bot's access list.
type AuthorizedUser struct {
	UserID    int64
	Username  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAuthorized reports whether a user is on the access list.
func (s *Store) IsAuthorized(ctx context.Context, userID int64) (bool, error) {
	if s == nil {
		return false, errors.New("nil store")
	}
	var found int64
	row := s.DB.QueryRowContext(ctx, `SELECT user_id FROM authorized_users WHERE user_id = ?`, userID)
	err := row.Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Authorize adds a user to the access list, or refreshes the stored username
// if the user is already present. Calling it twice leaves one record.
func (s *Store) Authorize(ctx context.Context, userID int64, username string) error {
	if s == nil {
		return errors.New("nil store")
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO authorized_users(user_id, username, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET username = excluded.username, updated_at = excluded.updated_at`,
		userID, username, now(), now())
	return err
}

// Revoke removes a user from the access list and reports whether a record
// existed.
func (s *Store) Revoke(ctx context.Context, userID int64) (bool, error) {
	if s == nil {
		return false, errors.New("nil store")
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM authorized_users WHERE user_id = ?`, userID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// List returns every authorized user ordered by when they were added.
func (s *Store) List(ctx context.Context) ([]AuthorizedUser, error) {
	if s == nil {
		return nil, errors.New("nil store")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT user_id, username, created_at, updated_at
		FROM authorized_users ORDER BY created_at, user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []AuthorizedUser
	for rows.Next() {
		var u AuthorizedUser
		if err := rows.Scan(&u.UserID, &u.Username, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Seed inserts user IDs that are not yet on the access list. Existing rows
// keep their stored username.
func (s *Store) Seed(ctx context.Context, userIDs []int64) error {
	if s == nil {
		return errors.New("nil store")
	}
	for _, id := range userIDs {
		if _, err := s.DB.ExecContext(ctx, `INSERT OR IGNORE INTO authorized_users(user_id, username, created_at, updated_at)
			VALUES (?, '', ?, ?)`, id, now(), now()); err != nil {
			return err
		}
	}
	return nil
}
