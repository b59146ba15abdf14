// Package historyview is the read facade `cmd/history.go` and `cmd/chat.go`
// use to list and search past commands. It prefers RemoteStore when
// reachable — since Remote is the merged view across every machine and
// user in scope — and falls back to LocalStore when Remote errors. A
// successful Remote read also imports the page into LocalStore, so the
// local cache stays warm for the next offline read.
package historyview

import (
	"context"
	"strings"

	"github.com/mcpterminal/assistant/internal/models"
)

// LocalStore is the subset of localstore.DB the view reads from and
// backfills into.
type LocalStore interface {
	GetHistory(ctx context.Context, filter models.HistoryFilter, limit, offset int) ([]models.HistoryEntry, error)
	ImportHistory(ctx context.Context, entries []models.HistoryEntry) error
}

// RemoteStore is the subset of remotestore.Store the view reads from.
type RemoteStore interface {
	GetHistory(ctx context.Context, scope string, limit, offset int) ([]models.HistoryEntry, error)
}

// View composes Local and Remote into a single read path. Remote may be
// nil, in which case every read is served from Local directly
// (local-only mode).
type View struct {
	local  LocalStore
	remote RemoteStore
}

// New builds a View. remote may be nil for local-only mode.
func New(local LocalStore, remote RemoteStore) *View {
	return &View{local: local, remote: remote}
}

// Get returns up to limit history entries for filter.Scope, offset rows
// in. It tries Remote first (when configured) and transparently falls
// back to Local on any Remote error, including the scope being unset —
// Remote requires an explicit scope string, Local accepts the richer
// HistoryFilter directly.
func (v *View) Get(ctx context.Context, filter models.HistoryFilter, limit, offset int) ([]models.HistoryEntry, error) {
	if v.remote != nil && filter.Scope != "" {
		entries, err := v.remote.GetHistory(ctx, string(filter.Scope), limit, offset)
		if err == nil {
			v.backfill(ctx, entries)
			return entries, nil
		}
	}
	return v.local.GetHistory(ctx, filter, limit, offset)
}

// Search narrows Get's result set to entries whose command or response
// contains query (case-insensitive). Remote has no server-side text
// search, so Search always pages through Remote (or Local, on fallback)
// and filters client-side; callers needing deep results should widen
// limit accordingly.
func (v *View) Search(ctx context.Context, query string, scope models.Scope, limit, offset int) ([]models.HistoryEntry, error) {
	filter := models.HistoryFilter{Scope: scope, Query: query}

	// Pull a wider page than requested since client-side filtering
	// discards non-matching rows; fetchLimit bounds how far we page
	// before giving up rather than scanning the whole table.
	const fetchMultiplier = 4
	const maxFetch = 500
	fetchLimit := limit * fetchMultiplier
	if fetchLimit > maxFetch {
		fetchLimit = maxFetch
	}
	if fetchLimit < limit {
		fetchLimit = limit
	}

	entries, err := v.Get(ctx, filter, fetchLimit, offset)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var matched []models.HistoryEntry
	for _, e := range entries {
		if matches(e, needle) {
			matched = append(matched, e)
			if len(matched) >= limit {
				break
			}
		}
	}
	return matched, nil
}

func matches(e models.HistoryEntry, lowerNeedle string) bool {
	if lowerNeedle == "" {
		return true
	}
	if strings.Contains(strings.ToLower(e.Command), lowerNeedle) {
		return true
	}
	if e.Response != nil && strings.Contains(strings.ToLower(*e.Response), lowerNeedle) {
		return true
	}
	return false
}

// backfill imports a successful Remote page into Local so subsequent
// offline reads see it. Import failures are swallowed: a missed
// backfill degrades the next offline read, it does not invalidate this
// one.
func (v *View) backfill(ctx context.Context, entries []models.HistoryEntry) {
	if len(entries) == 0 {
		return
	}
	_ = v.local.ImportHistory(ctx, entries)
}
