package remotestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

func TestUserAdminLifecycle(t *testing.T) {
	url := liveDatabaseURL(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := Bootstrap(ctx, url); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	s, err := Open(ctx, url, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	username := "alice_admin_test"
	u, err := s.CreateUser(ctx, username, "Alice", "alice@example.com")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if !u.Active {
		t.Error("expected a newly created user to be active")
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	found := false
	for _, got := range users {
		if got.Username == username {
			found = true
		}
	}
	if !found {
		t.Fatal("expected ListUsers to include the created user")
	}

	if err := s.DeactivateUser(ctx, username); err != nil {
		t.Fatalf("DeactivateUser: %v", err)
	}
	got, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if got.Active {
		t.Error("expected user to be inactive after DeactivateUser")
	}

	if err := s.ReactivateUser(ctx, username); err != nil {
		t.Fatalf("ReactivateUser: %v", err)
	}
	got, err = s.GetUserByUsername(ctx, username)
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if !got.Active {
		t.Error("expected user to be active again after ReactivateUser")
	}

	stats, err := s.Stats(ctx, username)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("expected zero history rows for a fresh user, got %d", stats.Total)
	}
}

func TestDeactivateUserUnknownUsernameReturnsNoRows(t *testing.T) {
	url := liveDatabaseURL(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := Bootstrap(ctx, url); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	s, err := Open(ctx, url, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	err = s.DeactivateUser(ctx, "no_such_user_at_all")
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("expected pgx.ErrNoRows, got %v", err)
	}
}
