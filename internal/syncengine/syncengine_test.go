package syncengine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mcpterminal/assistant/internal/models"
	"github.com/mcpterminal/assistant/internal/remotestore"
)

type fakeLocal struct {
	mu        sync.Mutex
	pending   []models.SyncQueueItem
	synced    []string
	cleared   []int64
	byUUID    map[string]*models.HistoryEntry
	imported  []models.HistoryEntry
	lastSync  time.Time
	haveSync  bool
	conflicts []models.ConflictLogEntry
	retries   map[int64]int
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{byUUID: map[string]*models.HistoryEntry{}, retries: map[int64]int{}}
}

func (f *fakeLocal) GetPendingSync(ctx context.Context, limit int) ([]models.SyncQueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeLocal) MarkSynced(ctx context.Context, commandUUIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, commandUUIDs...)
	return nil
}

func (f *fakeLocal) ClearSyncQueue(ctx context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, ids...)
	return nil
}

func (f *fakeLocal) IncrementRetryCount(ctx context.Context, id int64, uploadErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries[id]++
	return nil
}

func (f *fakeLocal) PurgeExhausted(ctx context.Context, minAge time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeLocal) ImportHistory(ctx context.Context, entries []models.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imported = append(f.imported, entries...)
	return nil
}

func (f *fakeLocal) GetByRequestID(ctx context.Context, requestID string) (*models.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byUUID[requestID], nil
}

func (f *fakeLocal) GetSyncMetadata(ctx context.Context) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSync, f.haveSync, nil
}

func (f *fakeLocal) SetSyncMetadata(ctx context.Context, lastSyncTime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSync = lastSyncTime
	f.haveSync = true
	return nil
}

func (f *fakeLocal) LogConflict(ctx context.Context, entry models.ConflictLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicts = append(f.conflicts, entry)
	return nil
}

func (f *fakeLocal) Cleanup(ctx context.Context, daysToKeep int) (int64, error) {
	return 0, nil
}

type fakeRemote struct {
	mu             sync.Mutex
	statusLog      map[string]models.Status
	history        []models.HistoryEntry // used when historyByScope has no entry for the requested scope
	historyByScope map[string][]models.HistoryEntry
	pingErr        error
	saved          []string // "scope:request_id" for every Save{Global,User,Machine} call
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{statusLog: map[string]models.Status{}}
}

func (f *fakeRemote) save(scope, requestID string, status models.Status) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusLog[requestID] = status
	f.saved = append(f.saved, scope+":"+requestID)
	return "remote-" + requestID, nil
}

func (f *fakeRemote) SaveGlobal(ctx context.Context, requestID, command string, response *string, status models.Status, meta remotestore.ScopeMeta) (string, error) {
	return f.save("global", requestID, status)
}

func (f *fakeRemote) SaveUser(ctx context.Context, requestID, command string, response *string, status models.Status, meta remotestore.ScopeMeta) (string, error) {
	return f.save("user", requestID, status)
}

func (f *fakeRemote) SaveMachine(ctx context.Context, requestID, command string, response *string, status models.Status, meta remotestore.ScopeMeta) (string, error) {
	return f.save("machine", requestID, status)
}

func (f *fakeRemote) UpdateStatusByRequestID(ctx context.Context, requestID string, status models.Status, response *string, tokensUsed, execTimeMS *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusLog[requestID] = status
	return nil
}

func (f *fakeRemote) GetHistory(ctx context.Context, scope string, limit, offset int) ([]models.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := f.history
	if scoped, ok := f.historyByScope[scope]; ok {
		src = scoped
	}
	if offset >= len(src) {
		return nil, nil
	}
	end := offset + limit
	if end > len(src) {
		end = len(src)
	}
	return src[offset:end], nil
}

func (f *fakeRemote) Ping(ctx context.Context) error { return f.pingErr }

func TestUploadDrainsQueueAndClearsOnSuccess(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()

	payload, _ := json.Marshal(models.HistoryEntry{RequestID: "req_1", Status: models.StatusCompleted})
	local.pending = []models.SyncQueueItem{{ID: 1, RecordID: "uuid-1", Payload: payload}}

	e := New(local, remote, nil, Config{})
	if err := e.upload(context.Background()); err != nil {
		t.Fatalf("upload: %v", err)
	}

	if remote.statusLog["req_1"] != models.StatusCompleted {
		t.Fatalf("remote status = %v, want completed", remote.statusLog["req_1"])
	}
	if len(local.synced) != 1 || local.synced[0] != "uuid-1" {
		t.Fatalf("synced = %v", local.synced)
	}
	if len(local.cleared) != 1 || local.cleared[0] != 1 {
		t.Fatalf("cleared = %v", local.cleared)
	}
}

func TestUploadSkipsUndecodablePayloadAndRetries(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	local.pending = []models.SyncQueueItem{{ID: 7, RecordID: "uuid-7", Payload: []byte("not json")}}

	e := New(local, remote, nil, Config{})
	if err := e.upload(context.Background()); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if local.retries[7] != 1 {
		t.Fatalf("retries[7] = %d, want 1", local.retries[7])
	}
	if len(local.synced) != 0 {
		t.Fatalf("expected nothing marked synced, got %v", local.synced)
	}
}

func TestUploadRoutesInsertOpsToTheirScopeInstead(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()

	userID := int64(7)
	machineID := "mach-1"
	payloadUser, _ := json.Marshal(models.HistoryEntry{RequestID: "req_u", Status: models.StatusPending, UserID: &userID})
	payloadMachine, _ := json.Marshal(models.HistoryEntry{RequestID: "req_m", Status: models.StatusPending, MachineID: &machineID})
	payloadGlobal, _ := json.Marshal(models.HistoryEntry{RequestID: "req_g", Status: models.StatusPending})
	local.pending = []models.SyncQueueItem{
		{ID: 1, RecordID: "uuid-u", Op: "insert", Payload: payloadUser},
		{ID: 2, RecordID: "uuid-m", Op: "insert", Payload: payloadMachine},
		{ID: 3, RecordID: "uuid-g", Op: "insert", Payload: payloadGlobal},
	}

	e := New(local, remote, nil, Config{})
	if err := e.upload(context.Background()); err != nil {
		t.Fatalf("upload: %v", err)
	}

	want := []string{"user:req_u", "machine:req_m", "global:req_g"}
	if len(remote.saved) != len(want) {
		t.Fatalf("saved = %v, want %v", remote.saved, want)
	}
	for i, w := range want {
		if remote.saved[i] != w {
			t.Errorf("saved[%d] = %q, want %q", i, remote.saved[i], w)
		}
	}
	if len(local.synced) != 3 || len(local.cleared) != 3 {
		t.Fatalf("expected all 3 inserts synced and cleared, got synced=%v cleared=%v", local.synced, local.cleared)
	}
}

func TestUploadUpdateOpStillUsesUpdateStatusByRequestID(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()

	payload, _ := json.Marshal(models.HistoryEntry{RequestID: "req_1", Status: models.StatusCompleted})
	local.pending = []models.SyncQueueItem{{ID: 1, RecordID: "uuid-1", Op: "update", Payload: payload}}

	e := New(local, remote, nil, Config{})
	if err := e.upload(context.Background()); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(remote.saved) != 0 {
		t.Fatalf("update op should never call Save*, got %v", remote.saved)
	}
	if remote.statusLog["req_1"] != models.StatusCompleted {
		t.Fatalf("remote status = %v, want completed", remote.statusLog["req_1"])
	}
}

func TestDownloadImportsNewRemoteEntries(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	now := time.Now().UTC()
	remote.history = []models.HistoryEntry{
		{RequestID: "req_a", Command: "ls", Status: models.StatusCompleted, UpdatedAt: now},
	}

	e := New(local, remote, nil, Config{})
	if err := e.download(context.Background()); err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(local.imported) != 1 || local.imported[0].RequestID != "req_a" {
		t.Fatalf("imported = %+v", local.imported)
	}
}

func TestDownloadResolvesConflictLastWriteWins(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	now := time.Now().UTC()

	local.byUUID["req_b"] = &models.HistoryEntry{
		RequestID: "req_b", Command: "ls", Status: models.StatusCompleted, UpdatedAt: now.Add(-time.Minute),
	}
	remote.history = []models.HistoryEntry{
		{RequestID: "req_b", Command: "ls -la", Status: models.StatusCompleted, UpdatedAt: now},
	}

	e := New(local, remote, nil, Config{})
	if err := e.download(context.Background()); err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(local.conflicts) != 1 {
		t.Fatalf("expected a logged conflict, got %d", len(local.conflicts))
	}
	if local.conflicts[0].Resolution != "kept_remote" {
		t.Fatalf("resolution = %q, want kept_remote", local.conflicts[0].Resolution)
	}
	if len(local.imported) != 1 || local.imported[0].Command != "ls -la" {
		t.Fatalf("imported = %+v, want remote's ls -la to win", local.imported)
	}
}

func TestDownloadPagesBothMachineAndUserScopesWhenUserConfigured(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	now := time.Now().UTC()
	remote.historyByScope = map[string][]models.HistoryEntry{
		"machine": {{RequestID: "req_machine", Command: "uname -a", Status: models.StatusCompleted, UpdatedAt: now}},
		"user":    {{RequestID: "req_user", Command: "whoami", Status: models.StatusCompleted, UpdatedAt: now}},
	}

	e := New(local, remote, nil, Config{HasUser: true})
	if err := e.download(context.Background()); err != nil {
		t.Fatalf("download: %v", err)
	}

	got := map[string]bool{}
	for _, entry := range local.imported {
		got[entry.RequestID] = true
	}
	if !got["req_machine"] || !got["req_user"] {
		t.Fatalf("imported = %+v, want both req_machine and req_user", local.imported)
	}
}

func TestDownloadSkipsUserScopeWhenNoUserConfigured(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	now := time.Now().UTC()
	remote.historyByScope = map[string][]models.HistoryEntry{
		"machine": {{RequestID: "req_machine", Command: "uname -a", Status: models.StatusCompleted, UpdatedAt: now}},
		"user":    {{RequestID: "req_user", Command: "whoami", Status: models.StatusCompleted, UpdatedAt: now}},
	}

	e := New(local, remote, nil, Config{HasUser: false})
	if err := e.download(context.Background()); err != nil {
		t.Fatalf("download: %v", err)
	}

	if len(local.imported) != 1 || local.imported[0].RequestID != "req_machine" {
		t.Fatalf("imported = %+v, want only req_machine", local.imported)
	}
}

func TestDownloadManualStrategySkipsImport(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	now := time.Now().UTC()

	local.byUUID["req_c"] = &models.HistoryEntry{
		RequestID: "req_c", Command: "ls", Status: models.StatusCompleted, UpdatedAt: now.Add(-time.Minute),
	}
	remote.history = []models.HistoryEntry{
		{RequestID: "req_c", Command: "ls -la", Status: models.StatusCompleted, UpdatedAt: now},
	}

	e := New(local, remote, nil, Config{Strategy: StrategyManual})
	if err := e.download(context.Background()); err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(local.conflicts) != 1 || local.conflicts[0].Resolution != "manual_skip" {
		t.Fatalf("conflicts = %+v", local.conflicts)
	}
	if len(local.imported) != 0 {
		t.Fatalf("manual strategy should not import, got %+v", local.imported)
	}
}

func TestRunOnceIsNoOpWhenAlreadySyncing(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	e := New(local, remote, nil, Config{})

	e.isSyncing.Store(true)
	e.runOnce(context.Background())

	// With isSyncing already held, runOnce must return immediately without
	// ever pinging remote.
	remote.mu.Lock()
	defer remote.mu.Unlock()
	if len(remote.statusLog) != 0 {
		t.Fatal("runOnce should not have touched remote while isSyncing was held")
	}
}

func TestRunOnceSkipsWhenRemoteUnreachable(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	remote.pingErr = context.DeadlineExceeded

	e := New(local, remote, nil, Config{})
	e.runOnce(context.Background())

	if local.haveSync {
		t.Fatal("sync metadata should not advance when remote is unreachable")
	}
}

func TestForceSyncAdvancesWatermark(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()

	e := New(local, remote, nil, Config{})
	e.ForceSync(context.Background())

	if !local.haveSync {
		t.Fatal("expected ForceSync to set sync metadata on a clean run")
	}
}

func TestStopTerminatesRun(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	e := New(local, remote, nil, Config{Interval: time.Hour})

	done := make(chan struct{})
	go func() {
		e.Run(context.Background())
		close(done)
	}()

	// Let Run install its stop/done channels before calling Stop.
	time.Sleep(10 * time.Millisecond)
	e.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
