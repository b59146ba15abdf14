package remotestore

import (
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mcpterminal/assistant/internal/models"
)

// scanRows reads the common HistoryEntry column set shared by every
// scope table and the hybrid union query.
func scanRows(rows pgx.Rows) ([]models.HistoryEntry, error) {
	var out []models.HistoryEntry
	for rows.Next() {
		var (
			e                      models.HistoryEntry
			status                 string
			response               *string
			userID                 *int64
			machineID              *string
			completedAt            *time.Time
			tokensUsed, execTimeMS *int64
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Command, &response, &status, &userID, &machineID,
			&e.SessionID, &e.Timestamp, &e.UpdatedAt, &completedAt, &tokensUsed, &execTimeMS); err != nil {
			return nil, err
		}
		e.Status = models.Status(status)
		e.Response = response
		e.UserID = userID
		e.MachineID = machineID
		e.TokensUsed = tokensUsed
		e.ExecutionTimeMS = execTimeMS
		e.CompletedAt = completedAt
		out = append(out, e)
	}
	return out, rows.Err()
}
