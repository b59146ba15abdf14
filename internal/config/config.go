// Package config loads and saves <home>/.mcp-terminal/turso-config.json,
// the on-disk record of how this machine reaches RemoteStore. Writes are
// atomic (temp file plus rename) and load-modify-save cycles are
// serialized across processes with an advisory flock.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mcpterminal/assistant/internal/models"
)

const (
	dirName  = ".mcp-terminal"
	fileName = "turso-config.json"
	lockName = "turso-config.json.lock"
	filePerm = 0o600
	dirPerm  = 0o700
)

func configPath(homeDir string) string {
	return filepath.Join(homeDir, dirName, fileName)
}

func lockPath(homeDir string) string {
	return filepath.Join(homeDir, dirName, lockName)
}

// Load reads turso-config.json, returning a zero-value TursoConfig (not
// an error) when the file does not yet exist — first run is a valid,
// local-only state.
func Load(homeDir string) (*models.TursoConfig, error) {
	data, err := os.ReadFile(configPath(homeDir))
	if err != nil {
		if os.IsNotExist(err) {
			return &models.TursoConfig{}, nil
		}
		return nil, err
	}

	var cfg models.TursoConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to turso-config.json via a temp-file-plus-rename swap,
// so a reader never observes a partially written file, with owner-only
// permissions.
func Save(homeDir string, cfg *models.TursoConfig) error {
	path := configPath(homeDir)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "turso-config-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, path)
}

// withLock serializes Load-modify-Save cycles against other mcp-terminal
// processes sharing the same home directory, using an OS advisory lock
// released automatically on process exit.
func withLock(homeDir string, fn func() error) error {
	dir := filepath.Join(homeDir, dirName)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}

	f, err := os.OpenFile(lockPath(homeDir), os.O_CREATE|os.O_RDWR, filePerm)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return fn()
}

// SetRemote persists the Remote connection parameters, stamping
// CreatedAt if this is the first time the file is written.
func SetRemote(homeDir, url, token, syncURL string, isAdmin bool) error {
	return withLock(homeDir, func() error {
		cfg, err := Load(homeDir)
		if err != nil {
			return err
		}
		cfg.URL = url
		cfg.Token = token
		cfg.SyncURL = syncURL
		cfg.IsAdminConfig = isAdmin
		if cfg.CreatedAt.IsZero() {
			cfg.CreatedAt = time.Now().UTC()
		}
		return Save(homeDir, cfg)
	})
}

// SetSyncInterval persists the configured sync cadence (e.g. "30s"),
// overriding syncengine.DefaultInterval on next startup.
func SetSyncInterval(homeDir, interval string) error {
	return withLock(homeDir, func() error {
		cfg, err := Load(homeDir)
		if err != nil {
			return err
		}
		cfg.SyncInterval = interval
		return Save(homeDir, cfg)
	})
}

// SetHistoryMode persists the default Scope used when none is given on
// the command line.
func SetHistoryMode(homeDir, mode string) error {
	return withLock(homeDir, func() error {
		cfg, err := Load(homeDir)
		if err != nil {
			return err
		}
		cfg.HistoryMode = mode
		return Save(homeDir, cfg)
	})
}

// SetMachineID records the resolved machine fingerprint in the config
// file. The fingerprint itself is still resolved by identity.MachineID;
// nothing reads this field back in its place.
func SetMachineID(homeDir, machineID string) error {
	return withLock(homeDir, func() error {
		cfg, err := Load(homeDir)
		if err != nil {
			return err
		}
		cfg.MachineID = machineID
		return Save(homeDir, cfg)
	})
}

// IsConfigured reports whether turso-config.json has a Remote URL set,
// i.e. whether this installation is sync-capable or local-only.
func IsConfigured(homeDir string) (bool, error) {
	cfg, err := Load(homeDir)
	if err != nil {
		return false, err
	}
	return cfg.URL != "", nil
}
