// Package syncengine reconciles LocalStore and RemoteStore under
// intermittent connectivity. Upload drains the local sync_queue to
// Remote; download pages through Remote history and imports it back,
// resolving conflicts by comparing timestamps. This is a row-overwrite
// model, not an event log: both sides key on request_id and the newest
// write wins, with every divergence recorded in conflict_log.
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mcpterminal/assistant/internal/errs"
	"github.com/mcpterminal/assistant/internal/eventbus"
	"github.com/mcpterminal/assistant/internal/models"
	"github.com/mcpterminal/assistant/internal/remotestore"
)

// DefaultInterval is the periodic reconciliation cadence.
const DefaultInterval = 30 * time.Second

const (
	defaultBatchSize   = 50
	maxDownloadPage    = 100
	downloadBacklogCap = 2 // stop after 2*batchSize rows accumulated
	firstSyncWindow    = 7 * 24 * time.Hour
	exhaustedMinAge    = 24 * time.Hour
)

// ConflictStrategy selects how ResolveConflict settles a divergent pair.
type ConflictStrategy string

const (
	// StrategyLastWriteWins keeps whichever side has the greater
	// updated_at/timestamp. The default.
	StrategyLastWriteWins ConflictStrategy = "last-write-wins"
	// StrategyMerge is a placeholder for field-level merge policies;
	// mcp-terminal's HistoryEntry has no mergeable fields beyond
	// command/response/status, so it currently behaves like
	// last-write-wins but is kept distinct for configuration clarity.
	StrategyMerge ConflictStrategy = "merge"
	// StrategyManual records the conflict but skips the import,
	// leaving resolution to an operator inspecting conflict_log.
	StrategyManual ConflictStrategy = "manual"
)

// LocalStore is the subset of localstore.DB the sync engine depends on.
type LocalStore interface {
	GetPendingSync(ctx context.Context, limit int) ([]models.SyncQueueItem, error)
	MarkSynced(ctx context.Context, commandUUIDs []string) error
	ClearSyncQueue(ctx context.Context, ids []int64) error
	IncrementRetryCount(ctx context.Context, id int64, uploadErr error) error
	PurgeExhausted(ctx context.Context, minAge time.Duration) (int64, error)
	ImportHistory(ctx context.Context, entries []models.HistoryEntry) error
	GetByRequestID(ctx context.Context, requestID string) (*models.HistoryEntry, error)
	GetSyncMetadata(ctx context.Context) (time.Time, bool, error)
	SetSyncMetadata(ctx context.Context, lastSyncTime time.Time) error
	LogConflict(ctx context.Context, entry models.ConflictLogEntry) error
	Cleanup(ctx context.Context, daysToKeep int) (int64, error)
}

// RemoteStore is the subset of remotestore.Store the sync engine depends
// on for uploading queued writes and downloading history pages.
type RemoteStore interface {
	SaveGlobal(ctx context.Context, requestID, command string, response *string, status models.Status, meta remotestore.ScopeMeta) (string, error)
	SaveUser(ctx context.Context, requestID, command string, response *string, status models.Status, meta remotestore.ScopeMeta) (string, error)
	SaveMachine(ctx context.Context, requestID, command string, response *string, status models.Status, meta remotestore.ScopeMeta) (string, error)
	UpdateStatusByRequestID(ctx context.Context, requestID string, status models.Status, response *string, tokensUsed, execTimeMS *int64) error
	GetHistory(ctx context.Context, scope string, limit, offset int) ([]models.HistoryEntry, error)
	Ping(ctx context.Context) error
}

// Config parameterizes an Engine.
type Config struct {
	Interval         time.Duration
	BatchSize        int
	Strategy         ConflictStrategy
	HasUser          bool
	CleanupRetention int // days, passed to LocalStore.Cleanup
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Strategy == "" {
		c.Strategy = StrategyLastWriteWins
	}
	if c.CleanupRetention <= 0 {
		c.CleanupRetention = 30
	}
	return c
}

// Engine runs periodic bidirectional reconciliation, serialized by a
// single isSyncing flag: concurrent invocations (a timer tick racing a
// ForceSync call) are no-ops.
type Engine struct {
	local  LocalStore
	remote RemoteStore
	bus    *eventbus.Bus
	cfg    Config

	isSyncing atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

// New builds an Engine. bus may be nil.
func New(local LocalStore, remote RemoteStore, bus *eventbus.Bus, cfg Config) *Engine {
	return &Engine{
		local:  local,
		remote: remote,
		bus:    bus,
		cfg:    cfg.withDefaults(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run blocks, ticking every cfg.Interval until ctx is cancelled or Stop
// is called.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.runOnce(ctx)
		}
	}
}

// Stop halts Run and waits for the in-flight tick (if any) to finish.
// Run must already be running in another goroutine; Stop must be called
// at most once per Engine.
func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
}

// ForceSync triggers an immediate reconciliation pass outside the normal
// tick, still serialized by isSyncing.
func (e *Engine) ForceSync(ctx context.Context) {
	e.runOnce(ctx)
}

func (e *Engine) runOnce(ctx context.Context) {
	if !e.isSyncing.CompareAndSwap(false, true) {
		return // a sync is already in flight; this tick is a no-op
	}
	defer e.isSyncing.Store(false)

	if err := e.remote.Ping(ctx); err != nil {
		slog.Debug("sync: remote unreachable, skipping tick", "err", err)
		return // offline; retry on the next tick
	}

	uploadErr := e.upload(ctx)
	downloadErr := e.download(ctx)
	e.cleanup(ctx)

	// Progress: lastSyncTime advances only after both phases complete
	// without error, so a partial failure leaves the watermark unchanged
	// and the next run retries from the same point.
	if uploadErr == nil && downloadErr == nil {
		if err := e.local.SetSyncMetadata(ctx, time.Now().UTC()); err != nil {
			e.publishError(err)
		}
	}
}

func (e *Engine) publishError(err error) {
	if e.bus != nil {
		e.bus.Error("", errs.KindNetworkTransient, err.Error())
	}
}

// upload drains up to BatchSize queued items and pushes each to Remote:
// an "insert" op (a brand-new row an offline Ask only managed to save
// locally) is routed to the scope table implied by its ownership keys,
// since Remote never had a row for that request_id to UPDATE; an
// "update" op (a later status/response transition on a row Remote
// already has) goes through UpdateStatusByRequestID.
func (e *Engine) upload(ctx context.Context) error {
	items, err := e.local.GetPendingSync(ctx, e.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("get pending sync: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	var successUUIDs []string
	var successIDs []int64
	for _, item := range items {
		var entry models.HistoryEntry
		if err := json.Unmarshal(item.Payload, &entry); err != nil {
			slog.Warn("sync: unmarshal queue payload", "id", item.ID, "err", err)
			_ = e.local.IncrementRetryCount(ctx, item.ID, err)
			continue
		}

		var uploadErr error
		if item.Op == "insert" {
			_, uploadErr = e.saveScoped(ctx, entry)
		} else {
			uploadErr = e.remote.UpdateStatusByRequestID(ctx, entry.RequestID, entry.Status, entry.Response, entry.TokensUsed, entry.ExecutionTimeMS)
		}
		if uploadErr != nil {
			slog.Warn("sync: upload item", "id", item.ID, "request_id", entry.RequestID, "err", uploadErr)
			_ = e.local.IncrementRetryCount(ctx, item.ID, uploadErr)
			continue
		}
		successUUIDs = append(successUUIDs, item.RecordID)
		successIDs = append(successIDs, item.ID)
	}

	if err := e.local.MarkSynced(ctx, successUUIDs); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	if err := e.local.ClearSyncQueue(ctx, successIDs); err != nil {
		return fmt.Errorf("clear sync queue: %w", err)
	}
	return nil
}

// saveScoped creates Remote's row for a locally-originated "insert" op,
// choosing the scope table by the entry's ownership keys: a user-owned
// entry goes to history_user, else a machine-owned entry to
// history_machine, else history_global.
func (e *Engine) saveScoped(ctx context.Context, entry models.HistoryEntry) (string, error) {
	meta := remotestore.ScopeMeta{
		UserID:    entry.UserID,
		MachineID: entry.MachineID,
		SessionID: entry.SessionID,
		Timestamp: entry.Timestamp,
	}
	switch {
	case entry.UserID != nil:
		return e.remote.SaveUser(ctx, entry.RequestID, entry.Command, entry.Response, entry.Status, meta)
	case entry.MachineID != nil:
		return e.remote.SaveMachine(ctx, entry.RequestID, entry.Command, entry.Response, entry.Status, meta)
	default:
		return e.remote.SaveGlobal(ctx, entry.RequestID, entry.Command, entry.Response, entry.Status, meta)
	}
}

// download pages through Remote history since the last watermark,
// resolves conflicts against LocalStore, and imports the winners.
// Machine history is paged unconditionally, user history too whenever a
// user is configured; both scopes are walked and merged before the
// single ImportHistory call.
func (e *Engine) download(ctx context.Context) error {
	since, ok, err := e.local.GetSyncMetadata(ctx)
	if err != nil {
		return fmt.Errorf("get sync metadata: %w", err)
	}
	if !ok {
		since = time.Now().UTC().Add(-firstSyncWindow)
	}

	winners, err := e.downloadScope(ctx, "machine", since)
	if err != nil {
		return err
	}

	if e.cfg.HasUser {
		userWinners, err := e.downloadScope(ctx, "user", since)
		if err != nil {
			return err
		}
		winners = append(winners, userWinners...)
	}

	if len(winners) == 0 {
		return nil
	}
	if err := e.local.ImportHistory(ctx, winners); err != nil {
		return fmt.Errorf("import history: %w", err)
	}
	return nil
}

// downloadScope pages through a single Remote scope since the watermark,
// resolving conflicts against LocalStore as it goes.
func (e *Engine) downloadScope(ctx context.Context, scope string, since time.Time) ([]models.HistoryEntry, error) {
	pageSize := e.cfg.BatchSize
	if pageSize > maxDownloadPage {
		pageSize = maxDownloadPage
	}

	var winners []models.HistoryEntry
	offset := 0
	total := 0
	for {
		page, err := e.remote.GetHistory(ctx, scope, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("get remote history (%s): %w", scope, err)
		}
		for _, remote := range page {
			if remote.UpdatedAt.Before(since) {
				continue
			}
			winner, err := e.resolve(ctx, remote)
			if err != nil {
				return nil, err
			}
			if winner != nil {
				winners = append(winners, *winner)
			}
		}
		total += len(page)
		offset += pageSize
		if len(page) < pageSize || total >= downloadBacklogCap*e.cfg.BatchSize {
			break
		}
	}
	return winners, nil
}

// resolve implements CheckConflict + ResolveConflict: looks up the local
// row by request_id — the identity the two stores share; a
// locally-originated row's command_uuid is a local dedup key Remote
// never sees — and, if it diverges from remote, resolves per
// cfg.Strategy and logs the outcome.
func (e *Engine) resolve(ctx context.Context, remote models.HistoryEntry) (*models.HistoryEntry, error) {
	local, err := e.local.GetByRequestID(ctx, remote.RequestID)
	if err != nil {
		return nil, fmt.Errorf("get local by request_id: %w", err)
	}
	if local == nil {
		return &remote, nil // no local copy yet, nothing to conflict with
	}
	if !diverges(*local, remote) {
		return &remote, nil
	}

	resolution, winner := e.resolveStrategy(*local, remote)

	localJSON, _ := json.Marshal(local)
	remoteJSON, _ := json.Marshal(remote)
	if logErr := e.local.LogConflict(ctx, models.ConflictLogEntry{
		CommandUUID: remote.RequestID,
		LocalData:   localJSON,
		RemoteData:  remoteJSON,
		Resolution:  resolution,
		ResolvedAt:  time.Now().UTC(),
	}); logErr != nil {
		return nil, fmt.Errorf("log conflict: %w", logErr)
	}
	slog.Info("sync: conflict resolved", "request_id", remote.RequestID, "resolution", resolution)
	return winner, nil
}

func diverges(local, remote models.HistoryEntry) bool {
	if local.Command != remote.Command || local.Status != remote.Status {
		return true
	}
	localResp, remoteResp := "", ""
	if local.Response != nil {
		localResp = *local.Response
	}
	if remote.Response != nil {
		remoteResp = *remote.Response
	}
	return localResp != remoteResp
}

func (e *Engine) resolveStrategy(local, remote models.HistoryEntry) (resolution string, winner *models.HistoryEntry) {
	switch e.cfg.Strategy {
	case StrategyManual:
		return "manual_skip", nil
	case StrategyMerge:
		if remote.UpdatedAt.After(local.UpdatedAt) {
			return "merged", &remote
		}
		return "merged", nil
	default: // last-write-wins
		if remote.UpdatedAt.After(local.UpdatedAt) {
			return "kept_remote", &remote
		}
		return "kept_local", nil
	}
}

// cleanup deletes exhausted sync_queue rows older than 24h and runs
// LocalStore's retention sweep.
func (e *Engine) cleanup(ctx context.Context) {
	if _, err := e.local.PurgeExhausted(ctx, exhaustedMinAge); err != nil {
		e.publishError(err)
	}
	if _, err := e.local.Cleanup(ctx, e.cfg.CleanupRetention); err != nil {
		e.publishError(err)
	}
}
