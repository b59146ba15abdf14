package requestctl

import (
	"fmt"

	"github.com/mcpterminal/assistant/internal/models"
)

// TransitionError reports an attempt to move a request through a status
// edge the DAG does not define.
type TransitionError struct {
	From, To  models.Status
	RequestID string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s for request %s", e.From, e.To, e.RequestID)
}

// stateMachine enforces the forbidden-backward-transition rule:
// pending -> processing -> {completed, cancelled, error}, plus
// pending -> cancelled directly. Only the DAG shape matters here; a
// HistoryEntry's status has no per-transition preconditions.
type stateMachine struct {
	edges map[models.Status]map[models.Status]bool
}

func newStateMachine() *stateMachine {
	sm := &stateMachine{edges: make(map[models.Status]map[models.Status]bool)}
	sm.allow(models.StatusPending, models.StatusProcessing)
	sm.allow(models.StatusPending, models.StatusCancelled)
	sm.allow(models.StatusProcessing, models.StatusCompleted)
	sm.allow(models.StatusProcessing, models.StatusCancelled)
	sm.allow(models.StatusProcessing, models.StatusError)
	return sm
}

func (sm *stateMachine) allow(from, to models.Status) {
	if sm.edges[from] == nil {
		sm.edges[from] = make(map[models.Status]bool)
	}
	sm.edges[from][to] = true
}

func (sm *stateMachine) isValid(from, to models.Status) bool {
	return sm.edges[from][to]
}

// transition validates from->to and returns a *TransitionError if the
// edge is not part of the DAG.
func (sm *stateMachine) transition(requestID string, from, to models.Status) error {
	if !sm.isValid(from, to) {
		return &TransitionError{From: from, To: to, RequestID: requestID}
	}
	return nil
}
