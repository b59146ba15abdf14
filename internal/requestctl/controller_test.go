package requestctl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mcpterminal/assistant/internal/aiprovider"
	"github.com/mcpterminal/assistant/internal/localstore"
	"github.com/mcpterminal/assistant/internal/models"
	"github.com/mcpterminal/assistant/internal/remotestore"
)

type fakeLocal struct {
	mu      sync.Mutex
	saved   []localstore.SaveInput
	updated []string
}

func (f *fakeLocal) SaveCommand(ctx context.Context, in localstore.SaveInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, in)
	return "uuid-" + in.RequestID, nil
}

func (f *fakeLocal) UpdateStatus(ctx context.Context, requestID string, status models.Status, response *string, tokensUsed, execTimeMS *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, string(status))
	return nil
}

func (f *fakeLocal) IncrementCommandCount(ctx context.Context, machineID string) error {
	return nil
}

type fakeRemote struct {
	mu         sync.Mutex
	statusLog  []models.Status
	lastAnswer *string
}

func (f *fakeRemote) SaveGlobal(ctx context.Context, requestID, command string, response *string, status models.Status, meta remotestore.ScopeMeta) (string, error) {
	return "turso-" + requestID, nil
}
func (f *fakeRemote) SaveUser(ctx context.Context, requestID, command string, response *string, status models.Status, meta remotestore.ScopeMeta) (string, error) {
	return "turso-" + requestID, nil
}
func (f *fakeRemote) SaveMachine(ctx context.Context, requestID, command string, response *string, status models.Status, meta remotestore.ScopeMeta) (string, error) {
	return "turso-" + requestID, nil
}
func (f *fakeRemote) UpdateStatusByRequestID(ctx context.Context, requestID string, status models.Status, response *string, tokensUsed, execTimeMS *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusLog = append(f.statusLog, status)
	f.lastAnswer = response
	return nil
}

type fakeAI struct {
	result Result
	err    error
	delay  time.Duration
}

// Result mirrors aiprovider.Result to avoid importing it twice in the
// test file's fake constructor call sites.
type Result = aiprovider.Result

func (f fakeAI) Ask(ctx context.Context, question string, history []aiprovider.Message) (aiprovider.Result, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return aiprovider.Result{}, ctx.Err()
		}
	}
	return f.result, f.err
}

func TestAskHappyPath(t *testing.T) {
	local := &fakeLocal{}
	remote := &fakeRemote{}
	ai := fakeAI{result: aiprovider.Result{Response: "use ls -la"}}

	c := New(local, remote, ai, nil, Config{Scope: models.ScopeUser})
	requestID, err := c.Ask(context.Background(), "sess_1", "list files")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if requestID == "" {
		t.Fatal("expected non-empty request_id")
	}

	remote.mu.Lock()
	defer remote.mu.Unlock()
	if len(remote.statusLog) == 0 || remote.statusLog[len(remote.statusLog)-1] != models.StatusCompleted {
		t.Fatalf("expected final remote status completed, got %v", remote.statusLog)
	}
	if remote.lastAnswer == nil || *remote.lastAnswer != "use ls -la" {
		t.Errorf("lastAnswer = %v, want use ls -la", remote.lastAnswer)
	}

	if _, ok := c.active.get(requestID); ok {
		t.Error("expected active map entry to be removed after completion")
	}
}

func TestAskAIErrorTransitionsToError(t *testing.T) {
	local := &fakeLocal{}
	remote := &fakeRemote{}
	ai := fakeAI{err: context.DeadlineExceeded}

	c := New(local, remote, ai, nil, Config{Scope: models.ScopeUser})
	_, err := c.Ask(context.Background(), "sess_1", "do a thing")
	if err == nil {
		t.Fatal("expected an error result")
	}

	remote.mu.Lock()
	defer remote.mu.Unlock()
	if remote.statusLog[len(remote.statusLog)-1] != models.StatusError {
		t.Fatalf("expected final remote status error, got %v", remote.statusLog)
	}
}

func TestCancelMarksActiveMapImmediately(t *testing.T) {
	local := &fakeLocal{}
	remote := &fakeRemote{}
	ai := fakeAI{result: aiprovider.Result{Response: "late answer"}, delay: 200 * time.Millisecond}

	c := New(local, remote, ai, nil, Config{Scope: models.ScopeUser})

	var requestID string
	done := make(chan struct{})
	go func() {
		defer close(done)
		requestID, _ = c.Ask(context.Background(), "sess_1", "slow question")
	}()

	// Give Ask time to register the active entry, then cancel it.
	time.Sleep(20 * time.Millisecond)
	c.active.mu.RLock()
	var rid string
	for id := range c.active.entries {
		rid = id
	}
	c.active.mu.RUnlock()
	if rid == "" {
		t.Fatal("expected an active request to cancel")
	}
	c.Cancel(rid)

	status, ok := c.active.status(rid)
	if !ok {
		t.Fatal("active entry should still exist immediately after Cancel")
	}
	if status != models.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", status)
	}

	<-done
	if requestID != rid {
		t.Fatalf("requestID mismatch: %q vs %q", requestID, rid)
	}
}

// fakeSlowAI ignores ctx cancellation entirely and always returns a
// successful result after delay, modeling a provider that does not
// honor the AI-scoped token promptly and produces a late answer after
// cancellation.
type fakeSlowAI struct {
	result aiprovider.Result
	delay  time.Duration
}

func (f fakeSlowAI) Ask(ctx context.Context, question string, history []aiprovider.Message) (aiprovider.Result, error) {
	time.Sleep(f.delay)
	return f.result, nil
}

// TestLateAnswerAfterCancelIsDiscarded: a cancel that lands while the
// AI call is in flight must leave the final Remote status cancelled,
// even when the AI provider goes on to produce a successful answer
// after the cancellation has already been flushed to Remote.
func TestLateAnswerAfterCancelIsDiscarded(t *testing.T) {
	local := &fakeLocal{}
	remote := &fakeRemote{}
	ai := fakeSlowAI{result: aiprovider.Result{Response: "late answer"}, delay: 50 * time.Millisecond}

	c := New(local, remote, ai, nil, Config{Scope: models.ScopeUser})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Ask(context.Background(), "sess_1", "slow question")
	}()

	time.Sleep(10 * time.Millisecond)
	c.active.mu.RLock()
	var rid string
	for id := range c.active.entries {
		rid = id
	}
	c.active.mu.RUnlock()
	if rid == "" {
		t.Fatal("expected an active request to cancel")
	}
	c.Cancel(rid)

	// flushCancellation's async Remote/Local writes race the Ask
	// goroutine's own finishCancelled; give the flush a head start
	// before the slow AI call (fakeSlowAI) resolves.
	time.Sleep(20 * time.Millisecond)

	<-done

	remote.mu.Lock()
	defer remote.mu.Unlock()
	final := remote.statusLog[len(remote.statusLog)-1]
	if final != models.StatusCancelled {
		t.Fatalf("final remote status = %q, want cancelled (late answer must be discarded)", final)
	}
	if remote.lastAnswer == nil || *remote.lastAnswer != models.CancelledText {
		t.Fatalf("lastAnswer = %v, want %q", remote.lastAnswer, models.CancelledText)
	}

	if _, ok := c.active.get(rid); ok {
		t.Error("expected active map entry to be removed once Ask's finally step ran")
	}
}

func TestActiveMapCancelIsSticky(t *testing.T) {
	m := newActiveMap()
	m.put(&activeRequest{requestID: "req_x", status: models.StatusPending})

	m.setStatus("req_x", models.StatusCancelled)
	m.setStatus("req_x", models.StatusProcessing)

	status, ok := m.status("req_x")
	if !ok {
		t.Fatal("entry disappeared")
	}
	if status != models.StatusCancelled {
		t.Fatalf("status = %q, want cancelled (forward transitions must not overwrite a cancel)", status)
	}
}

// capturingAI records the conversation history each Ask call receives.
type capturingAI struct {
	mu        sync.Mutex
	histories [][]aiprovider.Message
	result    aiprovider.Result
}

func (a *capturingAI) Ask(ctx context.Context, question string, history []aiprovider.Message) (aiprovider.Result, error) {
	a.mu.Lock()
	a.histories = append(a.histories, history)
	a.mu.Unlock()
	return a.result, nil
}

// After a mid-flight cancel, the next Ask in the same session must send
// a history containing the synthesized assistant marker.
func TestNextAskCarriesInterruptionMarker(t *testing.T) {
	local := &fakeLocal{}
	remote := &fakeRemote{}
	ai := fakeSlowAI{result: aiprovider.Result{Response: "late answer"}, delay: 50 * time.Millisecond}

	c := New(local, remote, ai, nil, Config{Scope: models.ScopeUser})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Ask(context.Background(), "sess_1", "first question")
	}()

	time.Sleep(10 * time.Millisecond)
	c.active.mu.RLock()
	var rid string
	for id := range c.active.entries {
		rid = id
	}
	c.active.mu.RUnlock()
	if rid == "" {
		t.Fatal("expected an active request to cancel")
	}
	c.Cancel(rid)
	<-done

	capture := &capturingAI{result: aiprovider.Result{Response: "second answer"}}
	c.SetAI(capture)
	if _, err := c.Ask(context.Background(), "sess_1", "second question"); err != nil {
		t.Fatalf("second Ask: %v", err)
	}

	capture.mu.Lock()
	defer capture.mu.Unlock()
	if len(capture.histories) != 1 {
		t.Fatalf("expected one captured history, got %d", len(capture.histories))
	}
	found := false
	for _, msg := range capture.histories[0] {
		if msg.Role == "assistant" && msg.Content == interruptedByUser {
			found = true
		}
	}
	if !found {
		t.Fatalf("history %v does not contain the synthesized interruption marker", capture.histories[0])
	}
}

func TestIsDoubleTap(t *testing.T) {
	t0 := time.Now()
	if IsDoubleTap(time.Time{}, t0) {
		t.Error("zero last time should never count as a double tap")
	}
	if !IsDoubleTap(t0, t0.Add(100*time.Millisecond)) {
		t.Error("100ms apart should count as a double tap")
	}
	if IsDoubleTap(t0, t0.Add(800*time.Millisecond)) {
		t.Error("800ms apart should not count as a double tap")
	}
}
