package localstore

import "path/filepath"

// dbFile is the LocalStore's file under <home>/.mcp-terminal.
const dbFile = ".mcp-terminal/cache.db"

// DBPath returns the LocalStore database path for the given home directory.
func DBPath(homeDir string) string {
	return filepath.Join(homeDir, dbFile)
}
