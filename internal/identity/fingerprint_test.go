package identity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMachineIDIsStableAcrossCalls(t *testing.T) {
	ResetCacheForTest()
	home := t.TempDir()

	first, err := MachineID(home)
	if err != nil {
		t.Fatalf("MachineID: %v", err)
	}
	second, err := MachineID(home)
	if err != nil {
		t.Fatalf("MachineID: %v", err)
	}
	if first != second {
		t.Errorf("MachineID changed between calls: %q vs %q", first, second)
	}
	if len(first) != 64 {
		t.Errorf("expected a 64-char hex SHA-256 digest, got %d chars: %q", len(first), first)
	}
}

func TestMachineIDCachedOwnerReadOnly(t *testing.T) {
	ResetCacheForTest()
	home := t.TempDir()

	if _, err := MachineID(home); err != nil {
		t.Fatalf("MachineID: %v", err)
	}

	path := filepath.Join(home, ".mcp-terminal", cacheFileName)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat cache file: %v", err)
	}
	if info.Mode().Perm() != cacheFilePerm {
		t.Errorf("cache file perm = %v, want %v", info.Mode().Perm(), os.FileMode(cacheFilePerm))
	}
}

func TestMachineIDSurvivesCacheReload(t *testing.T) {
	ResetCacheForTest()
	home := t.TempDir()

	first, err := MachineID(home)
	if err != nil {
		t.Fatalf("MachineID: %v", err)
	}

	// Simulate a fresh process: reset the in-memory memoization and reload
	// from the cache file written by the previous call.
	ResetCacheForTest()
	second, err := MachineID(home)
	if err != nil {
		t.Fatalf("MachineID: %v", err)
	}
	if first != second {
		t.Errorf("MachineID not stable across cache reload: %q vs %q", first, second)
	}
}
