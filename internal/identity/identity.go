// Package identity resolves the two ownership keys every HistoryEntry
// carries: the local Machine fingerprint and the (optional) admin-managed
// User looked up by username.
package identity

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/mcpterminal/assistant/internal/errs"
	"github.com/mcpterminal/assistant/internal/models"
)

// MachineStore is the subset of LocalStore Identity needs to register a
// machine.
type MachineStore interface {
	UpsertMachine(ctx context.Context, m models.Machine) error
}

// UserStore is the subset of RemoteStore Identity needs to resolve a
// username. Returning (nil, nil) means "not found".
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// RegisterMachine upserts the Machine row for this host, refreshing
// last_seen/hostname/ip/os_info. Created on first run.
func RegisterMachine(ctx context.Context, store MachineStore, homeDir string) (models.Machine, error) {
	id, err := MachineID(homeDir)
	if err != nil {
		return models.Machine{}, fmt.Errorf("derive machine id: %w", err)
	}

	hostname, _ := os.Hostname()
	now := time.Now().UTC()
	m := models.Machine{
		MachineID: id,
		Hostname:  hostname,
		IP:        localIP(),
		OSInfo:    osInfo(),
		FirstSeen: now,
		LastSeen:  now,
	}

	if err := store.UpsertMachine(ctx, m); err != nil {
		return models.Machine{}, fmt.Errorf("upsert machine: %w", err)
	}
	return m, nil
}

// ResolveUser looks up a User by username, failing with errs.KindUserNotFound
// when no active user matches.
func ResolveUser(ctx context.Context, store UserStore, username string) (models.User, error) {
	if username == "" {
		return models.User{}, errs.New(errs.KindUserNotFound, "no username supplied")
	}
	u, err := store.GetUserByUsername(ctx, username)
	if err != nil {
		return models.User{}, errs.Wrap(errs.KindUserNotFound, "lookup user "+username, err)
	}
	if u == nil || !u.Active {
		return models.User{}, errs.New(errs.KindUserNotFound, "no active user named "+username)
	}
	return *u, nil
}

func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}

func osInfo() string {
	return fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
}
