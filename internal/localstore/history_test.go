package localstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcpterminal/assistant/internal/errs"
	"github.com/mcpterminal/assistant/internal/models"
)

func TestOpenCreatesDatabaseFile(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, ".mcp-terminal", "cache.db")); os.IsNotExist(err) {
		t.Error("database file not created")
	}
}

func TestSaveCommandRejectsEmptyCommand(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	_, err = db.SaveCommand(context.Background(), SaveInput{RequestID: "req_1", Command: "", Status: models.StatusPending})
	if err == nil {
		t.Fatal("expected error for empty command")
	}
	var e *errs.Error
	if ok := asErr(err, &e); !ok || e.Kind != errs.KindBadInput {
		t.Errorf("expected BadInput, got %v", err)
	}
}

func TestSaveCommandThenGetHistory(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	uuid, err := db.SaveCommand(ctx, SaveInput{
		RequestID: "req_1", Command: "list files", Status: models.StatusPending,
		SessionID: "sess_1", Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("SaveCommand: %v", err)
	}
	if uuid == "" {
		t.Fatal("expected non-empty command uuid")
	}

	rows, err := db.GetHistory(ctx, models.HistoryFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].RequestID != "req_1" {
		t.Errorf("RequestID = %q, want req_1", rows[0].RequestID)
	}
	if rows[0].SyncStatus != models.SyncPending {
		t.Errorf("SyncStatus = %q, want pending", rows[0].SyncStatus)
	}

	pending, err := db.GetPendingSync(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingSync: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending sync item, got %d", len(pending))
	}
	if pending[0].Op != "insert" {
		t.Errorf("Op = %q, want insert", pending[0].Op)
	}
}

func TestUpdateStatusTerminalSetsCompletedAt(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if _, err := db.SaveCommand(ctx, SaveInput{
		RequestID: "req_2", Command: "do a thing", Status: models.StatusPending,
		SessionID: "sess_1", Timestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("SaveCommand: %v", err)
	}

	resp := "done"
	if err := db.UpdateStatus(ctx, "req_2", models.StatusCompleted, &resp, nil, nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	rows, err := db.GetHistory(ctx, models.HistoryFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	e := rows[0]
	if e.Status != models.StatusCompleted {
		t.Errorf("Status = %q, want completed", e.Status)
	}
	if e.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set for terminal status")
	}
	if e.CompletedAt.Before(e.Timestamp) {
		t.Errorf("CompletedAt %v before Timestamp %v", e.CompletedAt, e.Timestamp)
	}
	if e.Response == nil || *e.Response != "done" {
		t.Errorf("Response = %v, want done", e.Response)
	}
}

func TestImportHistoryIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	entries := []models.HistoryEntry{{
		RequestID: "req_remote_1", Command: "from remote", Status: models.StatusCompleted,
		SessionID: "s1", Timestamp: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}}

	if err := db.ImportHistory(ctx, entries); err != nil {
		t.Fatalf("first ImportHistory: %v", err)
	}
	if err := db.ImportHistory(ctx, entries); err != nil {
		t.Fatalf("second ImportHistory: %v", err)
	}

	rows, err := db.GetHistory(ctx, models.HistoryFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly 1 row after double import, got %d", len(rows))
	}
}

func asErr(err error, target **errs.Error) bool {
	e, ok := err.(*errs.Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
