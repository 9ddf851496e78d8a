package session

import (
	"github.com/agentbridge/core/pkg/approval"
	"github.com/agentbridge/core/pkg/models"
)

// Observer receives coordinator notifications. Calls arrive synchronously
// on the event delivery goroutine, in event arrival order; implementations
// must not block.
type Observer interface {
	// StateChanged fires on every lifecycle transition.
	StateChanged(old, new State)

	// EventReceived forwards content, thinking, tool, status, diagnostic,
	// and display events for the active session.
	EventReceived(env models.EventEnvelope)

	// ApprovalRequested surfaces a pending approval for display.
	ApprovalRequested(p approval.Pending)

	// ApprovalResolved reports how a pending approval was settled.
	ApprovalResolved(r approval.Resolution)

	// PromptCompleted reports completion of one submitted prompt.
	PromptCompleted(requestID, response string, usage *models.TokenUsage)

	// SessionError reports request-level and terminal failures.
	SessionError(err error)
}

// NopObserver is an Observer that ignores everything. Embed it to implement
// only the notifications you care about.
type NopObserver struct{}

func (NopObserver) StateChanged(old, new State)                                   {}
func (NopObserver) EventReceived(env models.EventEnvelope)                        {}
func (NopObserver) ApprovalRequested(p approval.Pending)                          {}
func (NopObserver) ApprovalResolved(r approval.Resolution)                        {}
func (NopObserver) PromptCompleted(requestID, response string, u *models.TokenUsage) {}
func (NopObserver) SessionError(err error)                                        {}
