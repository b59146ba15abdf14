package historyview

import (
	"context"
	"errors"
	"testing"

	"github.com/mcpterminal/assistant/internal/models"
)

type fakeLocal struct {
	entries  []models.HistoryEntry
	imported []models.HistoryEntry
}

func (f *fakeLocal) GetHistory(ctx context.Context, filter models.HistoryFilter, limit, offset int) ([]models.HistoryEntry, error) {
	return f.entries, nil
}

func (f *fakeLocal) ImportHistory(ctx context.Context, entries []models.HistoryEntry) error {
	f.imported = append(f.imported, entries...)
	return nil
}

type fakeRemote struct {
	entries []models.HistoryEntry
	err     error
}

func (f *fakeRemote) GetHistory(ctx context.Context, scope string, limit, offset int) ([]models.HistoryEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

func TestGetPrefersRemoteAndBackfillsLocal(t *testing.T) {
	local := &fakeLocal{}
	remote := &fakeRemote{entries: []models.HistoryEntry{{RequestID: "req_1", Command: "ls"}}}

	v := New(local, remote)
	got, err := v.Get(context.Background(), models.HistoryFilter{Scope: models.ScopeUser}, 10, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 1 || got[0].RequestID != "req_1" {
		t.Fatalf("got = %+v", got)
	}
	if len(local.imported) != 1 {
		t.Fatalf("expected remote page to be backfilled into local, got %+v", local.imported)
	}
}

func TestGetFallsBackToLocalOnRemoteError(t *testing.T) {
	local := &fakeLocal{entries: []models.HistoryEntry{{RequestID: "req_local", Command: "pwd"}}}
	remote := &fakeRemote{err: errors.New("connection refused")}

	v := New(local, remote)
	got, err := v.Get(context.Background(), models.HistoryFilter{Scope: models.ScopeUser}, 10, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 1 || got[0].RequestID != "req_local" {
		t.Fatalf("got = %+v, want local fallback entry", got)
	}
	if len(local.imported) != 0 {
		t.Fatalf("should not backfill on fallback path, got %+v", local.imported)
	}
}

func TestGetUsesLocalOnlyWhenRemoteNil(t *testing.T) {
	local := &fakeLocal{entries: []models.HistoryEntry{{RequestID: "req_2"}}}

	v := New(local, nil)
	got, err := v.Get(context.Background(), models.HistoryFilter{Scope: models.ScopeUser}, 10, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 1 || got[0].RequestID != "req_2" {
		t.Fatalf("got = %+v", got)
	}
}

func TestSearchFiltersByCommandAndResponse(t *testing.T) {
	resp := "used grep -r"
	local := &fakeLocal{}
	remote := &fakeRemote{entries: []models.HistoryEntry{
		{RequestID: "req_a", Command: "git status"},
		{RequestID: "req_b", Command: "find . -name foo", Response: &resp},
		{RequestID: "req_c", Command: "ls -la"},
	}}

	v := New(local, remote)
	got, err := v.Search(context.Background(), "grep", models.ScopeUser, 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].RequestID != "req_b" {
		t.Fatalf("got = %+v, want only req_b to match", got)
	}
}

func TestSearchEmptyQueryMatchesEverything(t *testing.T) {
	local := &fakeLocal{}
	remote := &fakeRemote{entries: []models.HistoryEntry{
		{RequestID: "req_a"}, {RequestID: "req_b"},
	}}

	v := New(local, remote)
	got, err := v.Search(context.Background(), "", models.ScopeUser, 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
}

func TestSearchRespectsLimitAfterFiltering(t *testing.T) {
	local := &fakeLocal{}
	var entries []models.HistoryEntry
	for i := 0; i < 20; i++ {
		entries = append(entries, models.HistoryEntry{RequestID: "req", Command: "grep pattern"})
	}
	remote := &fakeRemote{entries: entries}

	v := New(local, remote)
	got, err := v.Search(context.Background(), "grep", models.ScopeUser, 3, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
}
