package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mcpterminal/assistant/internal/models"
)

// UpsertMachine implements identity.MachineStore: creates the Machine row
// on first run, otherwise refreshes last_seen/hostname/ip/os_info.
// total_commands is only ever advanced by IncrementCommandCount.
func (db *DB) UpsertMachine(ctx context.Context, m models.Machine) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO machines (machine_id, hostname, ip, os_info, first_seen, last_seen, total_commands)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(machine_id) DO UPDATE SET
			hostname = excluded.hostname,
			ip = excluded.ip,
			os_info = excluded.os_info,
			last_seen = excluded.last_seen`,
		m.MachineID, m.Hostname, m.IP, m.OSInfo, m.FirstSeen, m.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert machine: %w", err)
	}
	return nil
}

// IncrementCommandCount bumps a machine's total_commands, called whenever
// a command is persisted for it.
func (db *DB) IncrementCommandCount(ctx context.Context, machineID string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE machines SET total_commands = total_commands + 1, last_seen = CURRENT_TIMESTAMP WHERE machine_id = ?`, machineID)
	return err
}

// GetMachine returns the Machine row, or nil if not registered.
func (db *DB) GetMachine(ctx context.Context, machineID string) (*models.Machine, error) {
	var m models.Machine
	err := db.conn.QueryRowContext(ctx, `
		SELECT machine_id, hostname, ip, os_info, first_seen, last_seen, total_commands
		FROM machines WHERE machine_id = ?`, machineID,
	).Scan(&m.MachineID, &m.Hostname, &m.IP, &m.OSInfo, &m.FirstSeen, &m.LastSeen, &m.TotalCommands)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get machine: %w", err)
	}
	return &m, nil
}
