// Package approval tracks the single in-flight approval request for a
// session and resolves it by explicit user decision, deadline expiry, or
// session teardown, submitting the outcome to the backend exactly once.
package approval

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/agentbridge/core/errors"
	"github.com/agentbridge/core/logging"
	"github.com/agentbridge/core/pkg/models"
	"github.com/sirupsen/logrus"
)

// Decision strings understood by the backend.
const (
	DecisionAllow       = "Allow"
	DecisionDeny        = "Deny"
	DecisionAlwaysAllow = "AlwaysAllow"
)

// DefaultTimeout applies when a request arrives without a usable timeout.
const DefaultTimeout = 300 * time.Second

// Resolution reasons reported to the observer.
const (
	ReasonDecision = "decision"
	ReasonTimeout  = "timeout"
	ReasonTeardown = "teardown"
	ReasonRemote   = "remote"
)

// DecisionSubmitter is the transport capability the coordinator needs.
type DecisionSubmitter interface {
	SubmitApproval(ctx context.Context, sessionID, approvalID, decision string) (*models.ApprovalDecisionResponse, error)
}

// Pending is one outstanding approval request.
type Pending struct {
	ApprovalID     string
	SessionID      string
	Prompt         string
	Options        []string
	Default        string
	Deadline       time.Time
	Context        *models.ApprovalContext
	ContextSummary string
}

// Resolution describes how a pending approval was settled. Decision is the
// string submitted on the wire; Err is non-nil when submission failed after
// the retry.
type Resolution struct {
	ApprovalID string
	Decision   string
	Reason     string
	Err        error
}

// Coordinator owns zero-or-one pending approval. Whichever of explicit
// decision, deadline expiry, or teardown fires first wins; the losers are
// no-ops, enforced by a generation counter.
type Coordinator struct {
	submitter DecisionSubmitter
	logger    *logrus.Entry

	mu          sync.Mutex
	pending     *Pending
	timer       *time.Timer
	gen         int
	alwaysAllow bool

	onRequest  func(p Pending)
	onResolved func(r Resolution)
}

// NewCoordinator creates a coordinator submitting decisions through the
// given transport capability.
func NewCoordinator(submitter DecisionSubmitter) *Coordinator {
	return &Coordinator{
		submitter: submitter,
		logger:    logging.NewLogger("approval"),
	}
}

// OnRequest registers a notification fired when a new approval request is
// accepted into the pending slot.
func (c *Coordinator) OnRequest(fn func(p Pending)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRequest = fn
}

// OnResolved registers a notification fired once per approval when the
// pending slot is cleared.
func (c *Coordinator) OnResolved(fn func(r Resolution)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResolved = fn
}

// Pending returns a copy of the outstanding request, or nil.
func (c *Coordinator) Pending() *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	p := *c.pending
	return &p
}

// AlwaysAllowEnabled reports whether a prior AlwaysAllow decision has
// disabled further approval gating for this session.
func (c *Coordinator) AlwaysAllowEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alwaysAllow
}

// ResetAlwaysAllow clears the always-allow flag. Called when a new session
// starts so the flag never leaks across sessions.
func (c *Coordinator) ResetAlwaysAllow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alwaysAllow = false
}

// HandleApprovalRequired accepts an approval:required event. A second
// request while one is pending is a backend protocol violation: it is
// logged and dropped, never merged or overwritten.
func (c *Coordinator) HandleApprovalRequired(payload models.ApprovalRequiredPayload) {
	timeout := time.Duration(payload.Timeout * float64(time.Second))
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c.mu.Lock()
	if c.pending != nil {
		existing := c.pending.ApprovalID
		c.mu.Unlock()
		c.logger.WithError(errors.ProtocolViolation("concurrent approval request")).
			WithFields(logrus.Fields{
				"pending_approval_id": existing,
				"dropped_approval_id": payload.ApprovalID,
			}).Warn("Dropping approval request while another is pending")
		return
	}

	pend := &Pending{
		ApprovalID:     payload.ApprovalID,
		SessionID:      payload.SessionID,
		Prompt:         payload.Prompt,
		Options:        payload.Options,
		Default:        payload.Default,
		Deadline:       time.Now().Add(timeout),
		Context:        payload.Context,
		ContextSummary: Summarize(payload.Context, payload.Prompt),
	}
	c.gen++
	gen := c.gen
	c.pending = pend
	c.timer = time.AfterFunc(timeout, func() { c.expire(gen) })
	onRequest := c.onRequest
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"approval_id": pend.ApprovalID,
		"session_id":  pend.SessionID,
		"timeout":     timeout,
		"default":     pend.Default,
	}).Info("Approval required")

	if onRequest != nil {
		onRequest(*pend)
	}
}

// HandleUserDecision resolves the pending approval with the user's choice.
// The approval id must match the pending one.
func (c *Coordinator) HandleUserDecision(approvalID, decision string) error {
	c.mu.Lock()
	if c.pending == nil || c.pending.ApprovalID != approvalID {
		c.mu.Unlock()
		return errors.New(errors.ErrCodeNoPendingApproval, "no pending approval matches the given id").
			WithDetail("approval_id", approvalID)
	}
	pend := c.takeLocked()
	c.mu.Unlock()

	c.finish(pend, decision, ReasonDecision)
	return nil
}

// HandleRemoteResolution accepts an approval:granted or approval:denied
// event resolving the pending approval on the server side. No decision is
// submitted back; the slot is simply cleared. A no-op when the id does not
// match, which covers the echo the backend emits after our own submission.
func (c *Coordinator) HandleRemoteResolution(payload models.ApprovalResolvedPayload) {
	c.mu.Lock()
	if c.pending == nil || c.pending.ApprovalID != payload.ApprovalID {
		c.mu.Unlock()
		return
	}
	pend := c.takeLocked()
	onResolved := c.onResolved
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"approval_id": pend.ApprovalID,
		"decision":    payload.Decision,
	}).Info("Approval resolved by backend")

	if onResolved != nil {
		onResolved(Resolution{ApprovalID: pend.ApprovalID, Decision: payload.Decision, Reason: ReasonRemote})
	}
}

// Teardown force-resolves any pending approval with its default decision.
// Called during session shutdown so the backend is never left waiting.
func (c *Coordinator) Teardown() {
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return
	}
	pend := c.takeLocked()
	c.mu.Unlock()

	c.logger.WithField("approval_id", pend.ApprovalID).Info("Resolving pending approval for teardown")
	c.finish(pend, pend.Default, ReasonTeardown)
}

// expire fires on deadline. The generation check makes it a guaranteed
// no-op when an explicit decision or teardown already claimed the slot.
func (c *Coordinator) expire(gen int) {
	c.mu.Lock()
	if c.pending == nil || gen != c.gen {
		c.mu.Unlock()
		return
	}
	pend := c.takeLocked()
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"approval_id": pend.ApprovalID,
		"default":     pend.Default,
	}).Warn("Approval timed out, submitting default decision")
	c.finish(pend, pend.Default, ReasonTimeout)
}

// takeLocked claims the pending slot: it stops the deadline timer, clears
// the slot, and bumps the generation so any racing timer loses. Callers
// hold the mutex.
func (c *Coordinator) takeLocked() *Pending {
	pend := c.pending
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	return pend
}

// finish submits the decision to the backend, retrying exactly once on
// failure, and notifies the observer. The slot is already cleared by the
// time finish runs, so resolution happens exactly once per approval.
func (c *Coordinator) finish(pend *Pending, decision, reason string) {
	wire := decision
	if strings.EqualFold(decision, DecisionAlwaysAllow) {
		c.mu.Lock()
		c.alwaysAllow = true
		c.mu.Unlock()
		wire = DecisionAllow
		c.logger.WithField("session_id", pend.SessionID).Info("Always-allow enabled for session")
	}

	_, err := c.submitter.SubmitApproval(context.Background(), pend.SessionID, pend.ApprovalID, wire)
	if err != nil {
		c.logger.WithError(err).WithField("approval_id", pend.ApprovalID).Warn("Decision submission failed, retrying once")
		_, err = c.submitter.SubmitApproval(context.Background(), pend.SessionID, pend.ApprovalID, wire)
	}

	resolution := Resolution{ApprovalID: pend.ApprovalID, Decision: wire, Reason: reason}
	if err != nil {
		resolution.Err = errors.ApprovalFailed(pend.ApprovalID, err)
		c.logger.WithError(resolution.Err).Error("Decision submission failed after retry, abandoning approval")
	} else {
		c.logger.WithFields(logrus.Fields{
			"approval_id": pend.ApprovalID,
			"decision":    wire,
			"reason":      reason,
		}).Info("Approval resolved")
	}

	c.mu.Lock()
	onResolved := c.onResolved
	c.mu.Unlock()
	if onResolved != nil {
		onResolved(resolution)
	}
}
