package remotestore

import (
	"fmt"

	"context"

	"github.com/jackc/pgx/v5"

	"github.com/mcpterminal/assistant/internal/models"
)

// CreateUser inserts a new active user, failing on a duplicate username
// (the table's UNIQUE constraint does the enforcing; this just gives it
// a readable error).
func (s *Store) CreateUser(ctx context.Context, username, name, email string) (models.User, error) {
	u := models.User{Username: username, Name: name, Email: email, Active: true}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, name, email, active) VALUES ($1, $2, $3, TRUE) RETURNING id`,
		username, name, email,
	).Scan(&u.ID)
	if err != nil {
		return models.User{}, fmt.Errorf("create user %q: %w", username, err)
	}
	return u, nil
}

// ListUsers returns every user row, active first then by username.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, username, name, email, active FROM users ORDER BY active DESC, username ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.Active); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UserStats reports the total and per-status breakdown of history_user
// rows owned by username, for `user stats`.
type UserStats struct {
	Username   string
	Total      int64
	Completed  int64
	Cancelled  int64
	Errored    int64
	Pending    int64
	Processing int64
}

// Stats aggregates history_user counts by status for a single user.
func (s *Store) Stats(ctx context.Context, username string) (UserStats, error) {
	stats := UserStats{Username: username}
	rows, err := s.pool.Query(ctx, `
		SELECT h.status, COUNT(*)
		FROM history_user h
		JOIN users u ON u.id = h.user_id
		WHERE u.username = $1
		GROUP BY h.status`, username)
	if err != nil {
		return stats, fmt.Errorf("stats for %q: %w", username, err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan stats row: %w", err)
		}
		stats.Total += count
		switch models.Status(status) {
		case models.StatusCompleted:
			stats.Completed = count
		case models.StatusCancelled:
			stats.Cancelled = count
		case models.StatusError:
			stats.Errored = count
		case models.StatusPending:
			stats.Pending = count
		case models.StatusProcessing:
			stats.Processing = count
		}
	}
	return stats, rows.Err()
}

// DeactivateUser implements `user delete`: a soft delete (active=false),
// never a hard row delete, since history_user.user_id still needs to
// resolve for historical rows after a user is removed from active use.
func (s *Store) DeactivateUser(ctx context.Context, username string) error {
	return s.setActive(ctx, username, false)
}

// ReactivateUser implements `user reactivate`, flipping active back on.
func (s *Store) ReactivateUser(ctx context.Context, username string) error {
	return s.setActive(ctx, username, true)
}

func (s *Store) setActive(ctx context.Context, username string, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET active = $1 WHERE username = $2`, active, username)
	if err != nil {
		return fmt.Errorf("set active=%v for %q: %w", active, username, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
