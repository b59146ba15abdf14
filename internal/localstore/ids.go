package localstore

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// generateID returns a locally-assigned stable hex identifier for a
// history_cache row.
func generateID() (string, error) {
	b := make([]byte, 8) // 16 hex characters
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// generateCommandUUID returns a fresh command_uuid for a locally
// originated row. ImportHistory does not key on it: it matches rows by
// request_id.
func generateCommandUUID() string {
	return uuid.NewString()
}
