// Package requestctl implements the request lifecycle controller: the
// hardest subsystem in mcp-terminal. It takes a user question and drives
// it to a terminal status, dual-writing to LocalStore and RemoteStore,
// while supporting per-request cancellation through two independent
// cancellation tokens (one for the AI call, one for the DB writes that
// must survive it).
package requestctl

import (
	"context"
	"strings"
	"time"

	"github.com/mcpterminal/assistant/internal/aiprovider"
	"github.com/mcpterminal/assistant/internal/errs"
	"github.com/mcpterminal/assistant/internal/eventbus"
	"github.com/mcpterminal/assistant/internal/localstore"
	"github.com/mcpterminal/assistant/internal/models"
	"github.com/mcpterminal/assistant/internal/patternplanner"
	"github.com/mcpterminal/assistant/internal/remotestore"
	"github.com/mcpterminal/assistant/internal/shell"
)

// DoubleTapWindow is the interval within which a second ESC clears the
// input buffer instead of cancelling a second time.
const DoubleTapWindow = 500 * time.Millisecond

// LocalStore is the subset of localstore.DB the controller depends on.
type LocalStore interface {
	SaveCommand(ctx context.Context, in localstore.SaveInput) (string, error)
	UpdateStatus(ctx context.Context, requestID string, status models.Status, response *string, tokensUsed, execTimeMS *int64) error
	IncrementCommandCount(ctx context.Context, machineID string) error
}

// RemoteStore is the subset of remotestore.Store the controller depends
// on. It is optional: a controller built with a nil RemoteStore runs in
// local-only mode (e.g. offline, or NetworkError during pending-insert).
type RemoteStore interface {
	SaveGlobal(ctx context.Context, requestID, command string, response *string, status models.Status, meta remotestore.ScopeMeta) (string, error)
	SaveUser(ctx context.Context, requestID, command string, response *string, status models.Status, meta remotestore.ScopeMeta) (string, error)
	SaveMachine(ctx context.Context, requestID, command string, response *string, status models.Status, meta remotestore.ScopeMeta) (string, error)
	UpdateStatusByRequestID(ctx context.Context, requestID string, status models.Status, response *string, tokensUsed, execTimeMS *int64) error
}

// Config parameterizes a Controller: the write scope, ownership keys, and
// optional collaborators.
type Config struct {
	Scope     models.Scope
	UserID    *int64
	MachineID *string

	// Patterns/Shell are both optional; when either is nil, step 5
	// (PatternPlanner enrichment) is skipped entirely.
	Patterns *patternplanner.Registry
	Shell    shell.Runner
}

// Controller drives Ask/Cancel over the active-request map.
type Controller struct {
	local  LocalStore
	remote RemoteStore
	ai     aiprovider.Provider
	bus    *eventbus.Bus
	cfg    Config

	sm        *stateMachine
	active    *activeMap
	histories *sessionHistories
}

// New builds a Controller. remote may be nil (local-only mode); bus may
// be nil (no UI notifications, used in tests).
func New(local LocalStore, remote RemoteStore, ai aiprovider.Provider, bus *eventbus.Bus, cfg Config) *Controller {
	return &Controller{
		local:     local,
		remote:    remote,
		ai:        ai,
		bus:       bus,
		cfg:       cfg,
		sm:        newStateMachine(),
		active:    newActiveMap(),
		histories: newSessionHistories(),
	}
}

// SetAI replaces the Controller's AI provider. New leaves ai nil so the
// concrete provider can be wired in by cmd/chat.go after construction.
func (c *Controller) SetAI(ai aiprovider.Provider) {
	c.ai = ai
}

func (c *Controller) publishStatus(requestID string, status models.Status) {
	if c.bus != nil {
		c.bus.StatusChange(requestID, status.String())
	}
}

// publishProgress emits a coarse lifecycle fraction so the UI can show
// forward motion between the pending and terminal status changes.
func (c *Controller) publishProgress(requestID string, fraction float64) {
	if c.bus != nil {
		c.bus.Progress(requestID, fraction)
	}
}

// Ask drives question through its full lifecycle and returns the
// request_id once a terminal status (or an early local-only cancellation)
// has been recorded. The AI call itself runs synchronously within Ask;
// callers that want a non-blocking UI should invoke Ask from their own
// goroutine and listen on the EventBus for progress.
func (c *Controller) Ask(ctx context.Context, sessionID, question string) (string, error) {
	requestID, err := generateRequestID()
	if err != nil {
		return "", err
	}

	aiCtx, aiCancel := context.WithCancel(ctx)
	dbCtx, dbCancel := context.WithCancel(context.Background())

	entry := &activeRequest{
		requestID: requestID,
		sessionID: sessionID,
		command:   question,
		status:    models.StatusPending,
		aiCancel:  aiCancel,
		dbCancel:  dbCancel,
		startedAt: time.Now().UTC(),
	}
	c.active.put(entry)
	c.publishStatus(requestID, models.StatusPending)

	// Step 2: abort any in-flight AI token of a previous request owned
	// by this session. Its DB writes are left intact.
	if prior := c.active.priorForSession(sessionID, requestID); prior != nil {
		prior.aiCancel()
	}

	// Step 3: persist the pending row, Remote first (best-effort) then
	// always locally.
	hist := c.histories.get(sessionID)
	c.persistPending(dbCtx, entry)
	c.publishProgress(requestID, 0.25)

	// Step 4: re-check cancellation immediately after the save.
	if status, _ := c.active.status(requestID); status == models.StatusCancelled {
		if c.active.markHistoryRecorded(requestID) {
			hist.recordEscInterrupted(question)
		}
		c.finishCancelled(dbCtx, entry)
		return requestID, nil
	}

	// Step 5: optionally enrich context via PatternPlanner.
	enrichment := c.enrich(ctx, question)

	// A cancel may have landed while the shell probes ran; a cancelled
	// entry must not be driven forward into processing. (setStatus also
	// refuses to overwrite cancelled, closing the remaining race window.)
	if status, _ := c.active.status(requestID); status == models.StatusCancelled {
		if c.active.markHistoryRecorded(requestID) {
			hist.recordEscInterrupted(question)
		}
		c.finishCancelled(dbCtx, entry)
		return requestID, nil
	}

	// Step 6: pending -> processing.
	if err := c.sm.transition(requestID, models.StatusPending, models.StatusProcessing); err != nil {
		return requestID, err
	}
	c.active.setStatus(requestID, models.StatusProcessing)
	c.publishStatus(requestID, models.StatusProcessing)
	c.publishProgress(requestID, 0.5)
	if c.remote != nil {
		if err := c.remote.UpdateStatusByRequestID(dbCtx, requestID, models.StatusProcessing, nil, nil, nil); err != nil {
			c.publishError(requestID, errs.KindNetworkTransient, err)
		}
	}

	// Step 7: build conversation history with synthetic interruption
	// markers.
	history := hist.build()
	prompt := question
	if enrichment != "" {
		prompt = question + "\n\n" + enrichment
	}

	// Step 8: invoke the AI provider under the AI-scoped token only.
	result, aiErr := c.ai.Ask(aiCtx, prompt, history)

	// Step 9: re-check the local active map — the primary source of
	// truth — not the DB, to avoid latency races.
	if status, _ := c.active.status(requestID); status == models.StatusCancelled {
		if c.active.markHistoryRecorded(requestID) {
			hist.recordInterrupted(question)
		}
		c.finishCancelled(dbCtx, entry)
		return requestID, nil
	}

	if aiErr != nil {
		return requestID, c.finishError(dbCtx, entry, aiErr)
	}

	answer := aiprovider.Text(result)
	hist.recordAnswered(question, answer)
	return requestID, c.finishCompleted(dbCtx, entry, answer, result.TokensUsed)
}

// enrich consults PatternPlanner (if configured) and returns rendered
// context text to append to the question, or "" if no pattern matched or
// either collaborator is unset.
func (c *Controller) enrich(ctx context.Context, question string) string {
	if c.cfg.Patterns == nil || c.cfg.Shell == nil {
		return ""
	}
	plan, ok := c.cfg.Patterns.Match(question)
	if !ok {
		return ""
	}
	for !patternplanner.IsComplete(plan) {
		cmds := patternplanner.NextCommands(plan)
		if len(cmds) == 0 {
			break
		}
		var outputs []string
		stepID := cmds[0].StepID
		for _, pc := range cmds {
			out, err := c.cfg.Shell.Run(ctx, pc.Command, shell.DefaultTimeout)
			if err != nil {
				out = ""
			}
			outputs = append(outputs, out)
		}
		patternplanner.UpdateContext(plan, stepID, strings.Join(outputs, "\n"))
	}
	result := patternplanner.Aggregate(plan)
	if s, ok := result.(string); ok {
		return s
	}
	return ""
}

func (c *Controller) persistPending(ctx context.Context, entry *activeRequest) {
	meta := remotestore.ScopeMeta{
		UserID:    c.cfg.UserID,
		MachineID: c.cfg.MachineID,
		SessionID: entry.sessionID,
		Timestamp: entry.startedAt,
	}
	if c.remote != nil {
		tursoID, err := c.saveRemoteScoped(ctx, entry.requestID, entry.command, nil, models.StatusPending, meta)
		if err != nil {
			c.publishError(entry.requestID, errs.KindNetworkTransient, err)
		} else {
			c.active.setTursoID(entry.requestID, tursoID)
		}
	}
	if c.local != nil {
		if _, err := c.local.SaveCommand(ctx, localstore.SaveInput{
			RequestID: entry.requestID,
			Command:   entry.command,
			Status:    models.StatusPending,
			UserID:    c.cfg.UserID,
			MachineID: c.cfg.MachineID,
			SessionID: entry.sessionID,
			Timestamp: entry.startedAt,
		}); err != nil {
			c.publishError(entry.requestID, errs.KindBadInput, err)
		}
		if c.cfg.MachineID != nil {
			if err := c.local.IncrementCommandCount(ctx, *c.cfg.MachineID); err != nil {
				c.publishError(entry.requestID, errs.KindBadInput, err)
			}
		}
	}
}

func (c *Controller) saveRemoteScoped(ctx context.Context, requestID, command string, response *string, status models.Status, meta remotestore.ScopeMeta) (string, error) {
	switch c.cfg.Scope {
	case models.ScopeGlobal:
		return c.remote.SaveGlobal(ctx, requestID, command, response, status, meta)
	case models.ScopeMachine:
		return c.remote.SaveMachine(ctx, requestID, command, response, status, meta)
	case models.ScopeHybrid:
		id, err := c.remote.SaveGlobal(ctx, requestID, command, response, status, meta)
		if err != nil {
			return "", err
		}
		if meta.MachineID != nil {
			if _, err := c.remote.SaveMachine(ctx, requestID, command, response, status, meta); err != nil {
				return "", err
			}
		}
		if meta.UserID != nil {
			if _, err := c.remote.SaveUser(ctx, requestID, command, response, status, meta); err != nil {
				return "", err
			}
		}
		return id, nil
	default: // models.ScopeUser
		return c.remote.SaveUser(ctx, requestID, command, response, status, meta)
	}
}

func (c *Controller) publishError(requestID string, kind errs.Kind, err error) {
	if c.bus != nil {
		c.bus.Error(requestID, kind, err.Error())
	}
}

func (c *Controller) finishCancelled(ctx context.Context, entry *activeRequest) {
	response := models.CancelledText
	if c.remote != nil {
		if err := c.remote.UpdateStatusByRequestID(ctx, entry.requestID, models.StatusCancelled, &response, nil, nil); err != nil {
			c.publishError(entry.requestID, errs.KindNetworkTransient, err)
		}
	}
	if c.local != nil {
		if err := c.local.UpdateStatus(ctx, entry.requestID, models.StatusCancelled, &response, nil, nil); err != nil {
			c.publishError(entry.requestID, errs.KindBadInput, err)
		}
	}
	c.publishStatus(entry.requestID, models.StatusCancelled)
	entry.dbCancel()
	c.active.remove(entry.requestID)
}

func (c *Controller) finishError(ctx context.Context, entry *activeRequest, aiErr error) error {
	response := aiErr.Error()
	if err := c.sm.transition(entry.requestID, models.StatusProcessing, models.StatusError); err != nil {
		return err
	}
	if c.remote != nil {
		if err := c.remote.UpdateStatusByRequestID(ctx, entry.requestID, models.StatusError, &response, nil, nil); err != nil {
			c.publishError(entry.requestID, errs.KindNetworkTransient, err)
		}
	}
	if c.local != nil {
		if err := c.local.UpdateStatus(ctx, entry.requestID, models.StatusError, &response, nil, nil); err != nil {
			c.publishError(entry.requestID, errs.KindBadInput, err)
		}
	}
	c.publishStatus(entry.requestID, models.StatusError)
	c.publishError(entry.requestID, errs.KindAIError, aiErr)
	entry.dbCancel()
	c.active.remove(entry.requestID)
	return errs.Wrap(errs.KindAIError, "AI provider returned an error", aiErr).WithRequestID(entry.requestID)
}

func (c *Controller) finishCompleted(ctx context.Context, entry *activeRequest, answer string, tokensUsed int64) error {
	if err := c.sm.transition(entry.requestID, models.StatusProcessing, models.StatusCompleted); err != nil {
		return err
	}
	tokens := &tokensUsed
	if c.remote != nil {
		if err := c.remote.UpdateStatusByRequestID(ctx, entry.requestID, models.StatusCompleted, &answer, tokens, nil); err != nil {
			c.publishError(entry.requestID, errs.KindNetworkTransient, err)
		}
	}
	if c.local != nil {
		if err := c.local.UpdateStatus(ctx, entry.requestID, models.StatusCompleted, &answer, tokens, nil); err != nil {
			c.publishError(entry.requestID, errs.KindBadInput, err)
		}
	}
	c.publishStatus(entry.requestID, models.StatusCompleted)
	c.publishProgress(entry.requestID, 1)
	entry.dbCancel()
	c.active.remove(entry.requestID)
	return nil
}

// Cancel implements single-ESC semantics: mark cancelled in the active
// map immediately, abort only the AI token, and asynchronously flush the
// cancellation to Remote. Entry removal itself stays with Ask's own
// finally step (finishCancelled/finishCompleted/finishError) so that a
// late-arriving AI response still finds the entry and is correctly
// discarded rather than racing Cancel's async Remote flush to removal.
func (c *Controller) Cancel(requestID string) {
	entry, ok := c.active.get(requestID)
	if !ok {
		return
	}
	c.active.setStatus(requestID, models.StatusCancelled)
	entry.aiCancel()
	c.publishStatus(requestID, models.StatusCancelled)

	// Step 4: append the session-local ESC marker to the recent-history
	// ring, unless one of Ask's own cancellation checkpoints got there
	// first (markHistoryRecorded arbitrates the race).
	if c.active.markHistoryRecorded(requestID) {
		c.histories.get(entry.sessionID).recordEscInterrupted(entry.command)
	}

	go c.flushCancellation(entry)
}

// flushCancellation performs the asynchronous, fire-and-forget Remote
// update behind Cancel: the local active map is authoritative, so a
// failed Remote write here is not itself fatal, but is retried once.
//
// It deliberately leaves entry in the active map and leaves dbCancel
// uncalled: Ask's own goroutine is still running (blocked in the AI
// call) and is the only path that later discovers the cancellation via
// its step-9 active-map check, via finishCancelled. If this function
// removed the entry first, a late-arriving successful AI answer would
// find no active-map entry, read as "not cancelled", and finishCompleted
// would overwrite the correct cancelled status with completed — exactly
// the late-answer overwrite the whole design exists to prevent.
// Ask's finishCancelled/finishCompleted/finishError are the sole owners
// of entry removal and of entry.dbCancel(); this function only ensures
// Remote/Local see the cancellation promptly even if the AI call never
// returns.
func (c *Controller) flushCancellation(entry *activeRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	response := models.CancelledText
	if c.remote != nil {
		if err := c.remote.UpdateStatusByRequestID(ctx, entry.requestID, models.StatusCancelled, &response, nil, nil); err != nil {
			// Retry once; the update is idempotent keyed by request_id.
			_ = c.remote.UpdateStatusByRequestID(ctx, entry.requestID, models.StatusCancelled, &response, nil, nil)
		}
	}
	if c.local != nil {
		_ = c.local.UpdateStatus(ctx, entry.requestID, models.StatusCancelled, &response, nil, nil)
	}
}

// IsDoubleTap reports whether now falls within DoubleTapWindow of last.
// It never touches request state — callers use it purely to decide
// whether a second ESC should clear the input buffer instead of calling
// Cancel again.
func IsDoubleTap(last, now time.Time) bool {
	if last.IsZero() {
		return false
	}
	return now.Sub(last) <= DoubleTapWindow
}
