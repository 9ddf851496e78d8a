// Package session implements the top-level lifecycle state machine: it
// creates and destroys backend sessions, gates outgoing prompts on session
// state, and wires the event stream and approval handling together.
package session

import (
	"context"
	"sync"

	"github.com/agentbridge/core/errors"
	"github.com/agentbridge/core/logging"
	"github.com/agentbridge/core/pkg/approval"
	"github.com/agentbridge/core/pkg/credentials"
	"github.com/agentbridge/core/pkg/models"
	"github.com/agentbridge/core/pkg/snapshot"
	"github.com/agentbridge/core/pkg/stream"
	"github.com/agentbridge/core/pkg/transport"
	"github.com/sirupsen/logrus"
)

// Config carries coordinator settings. Zero values fall back to defaults.
type Config struct {
	Profile  string
	Backoff  stream.BackoffPolicy
	Snapshot snapshot.Options
}

// Coordinator owns at most one active session. A new session always
// replaces, never merges with, a prior one; events tagged with a superseded
// session id are dropped.
type Coordinator struct {
	transport   transport.Transport
	credentials credentials.Store
	snapshotter *snapshot.Snapshotter
	approvals   *approval.Coordinator
	observer    Observer
	logger      *logrus.Entry

	mu           sync.Mutex
	profile      string
	backoff      stream.BackoffPolicy
	snapshotOpts snapshot.Options
	state        State
	startGen     int
	sessionID    string
	stream       *stream.Client
	queued       []string
	inflight     map[string]struct{}
	usage        models.TokenUsage
}

// NewCoordinator creates a coordinator. observer may be nil.
func NewCoordinator(tr transport.Transport, creds credentials.Store, snap *snapshot.Snapshotter, cfg Config, observer Observer) *Coordinator {
	if observer == nil {
		observer = NopObserver{}
	}
	backoff := cfg.Backoff
	if backoff.MaxAttempts == 0 {
		backoff = stream.DefaultBackoffPolicy()
	}
	snapOpts := cfg.Snapshot
	if snapOpts == (snapshot.Options{}) {
		snapOpts = snapshot.DefaultOptions()
	}

	c := &Coordinator{
		transport:    tr,
		credentials:  creds,
		snapshotter:  snap,
		approvals:    approval.NewCoordinator(tr),
		observer:     observer,
		logger:       logging.NewLogger("session"),
		profile:      cfg.Profile,
		backoff:      backoff,
		snapshotOpts: snapOpts,
		inflight:     make(map[string]struct{}),
	}

	c.approvals.OnRequest(observer.ApprovalRequested)
	c.approvals.OnResolved(observer.ApprovalResolved)
	return c
}

// UpdateConfig replaces the settings used when the next session is created.
// The current session keeps the settings it started with. Zero-valued fields
// leave the existing setting in place.
func (c *Coordinator) UpdateConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.Profile != "" {
		c.profile = cfg.Profile
	}
	if cfg.Backoff.MaxAttempts != 0 {
		c.backoff = cfg.Backoff
	}
	if cfg.Snapshot != (snapshot.Options{}) {
		c.snapshotOpts = cfg.Snapshot
	}
}

// State returns the effective lifecycle state, reporting Busy while any
// prompt awaits completion.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectiveLocked()
}

// SessionID returns the active session id, or empty when none exists.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// TokenUsage returns cumulative token accounting for the current session.
func (c *Coordinator) TokenUsage() models.TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// AlwaysAllowEnabled reports whether the session-scoped always-allow policy
// flag is set.
func (c *Coordinator) AlwaysAllowEnabled() bool {
	return c.approvals.AlwaysAllowEnabled()
}

// HandleUserDecision resolves the pending approval with the user's choice.
func (c *Coordinator) HandleUserDecision(approvalID, decision string) error {
	return c.approvals.HandleUserDecision(approvalID, decision)
}

// PendingApproval returns a copy of the outstanding approval request, or nil.
func (c *Coordinator) PendingApproval() *approval.Pending {
	return c.approvals.Pending()
}

// Status fetches current backend status for the active session.
func (c *Coordinator) Status(ctx context.Context) (*models.SessionStatus, error) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		return nil, errors.New(errors.ErrCodeSessionNotFound, "no active session")
	}
	return c.transport.GetStatus(ctx, sessionID)
}

// SubmitPrompt sends a prompt to the backend, lazily creating the session on
// the first call. During creation, prompts are queued and replayed in
// arrival order. A prompt-submit failure leaves the session active so the
// user may retry; only session creation failures move to Error.
func (c *Coordinator) SubmitPrompt(ctx context.Context, prompt string) error {
	c.mu.Lock()
	switch c.state {
	case StateError:
		c.mu.Unlock()
		return errors.New(errors.ErrCodeSessionStopped, "session is in error state, reset before submitting").
			WithDetail("state", StateError.String())

	case StateStarting:
		c.queued = append(c.queued, prompt)
		c.mu.Unlock()
		return nil

	case StateActive:
		sessionID := c.sessionID
		c.mu.Unlock()
		return c.submit(ctx, sessionID, prompt)

	default: // Uninitialized or Stopped: start a fresh session
		old := c.effectiveLocked()
		c.state = StateStarting
		c.startGen++
		gen := c.startGen
		c.queued = append(c.queued, prompt)
		c.mu.Unlock()
		c.observer.StateChanged(old, StateStarting)

		go c.start(context.Background(), gen)
		return nil
	}
}

// Stop tears the session down: any pending approval is force-resolved with
// its default decision, the event stream is disconnected, and the backend
// session is deleted. Idempotent.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateUninitialized || c.state == StateStopped {
		c.mu.Unlock()
		return nil
	}
	old := c.effectiveLocked()
	sessionID := c.sessionID
	streamClient := c.stream
	// Clearing the session id up front makes the stale-event guard drop any
	// envelope still in the dispatch path, and makes an in-flight start
	// attempt discard its result instead of adopting it.
	c.sessionID = ""
	c.stream = nil
	c.queued = nil
	c.inflight = make(map[string]struct{})
	c.state = StateStopped
	c.mu.Unlock()
	if old != StateStopped {
		c.observer.StateChanged(old, StateStopped)
	}

	c.approvals.Teardown()
	if streamClient != nil {
		streamClient.Disconnect()
	}

	var err error
	if sessionID != "" {
		if _, derr := c.transport.DeleteSession(ctx, sessionID); derr != nil {
			err = errors.Wrap(derr, errors.ErrCodeSessionDeleteFailed, "failed to delete backend session")
			c.logger.WithError(derr).WithField("session_id", sessionID).Warn("Backend session delete failed")
		}
	}

	c.logger.WithField("session_id", sessionID).Info("Session stopped")
	return err
}

// Reset returns the coordinator to Uninitialized. It is the only way out of
// the Error state.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	streamClient := c.stream
	c.stream = nil
	c.sessionID = ""
	c.queued = nil
	c.inflight = make(map[string]struct{})
	c.usage = models.TokenUsage{}
	c.mu.Unlock()

	if streamClient != nil {
		streamClient.Disconnect()
	}
	c.setState(StateUninitialized)
}

// start performs lazy session creation: snapshot, credentials, backend
// call, event stream attach, then queued prompt replay. gen identifies this
// start attempt; Stop, Reset, or a newer attempt makes every step after the
// create call a no-op.
func (c *Coordinator) start(ctx context.Context, gen int) {
	c.mu.Lock()
	profile := c.profile
	snapOpts := c.snapshotOpts
	c.mu.Unlock()

	req := &models.CreateSessionRequest{
		Profile: profile,
		Context: c.snapshotter.Snapshot(snapOpts),
	}
	if creds, err := c.credentials.Get(ctx); err != nil {
		c.logger.WithError(err).Warn("No credentials available, creating session without them")
	} else {
		req.Credentials = creds
	}

	resp, err := c.transport.CreateSession(ctx, req)
	if err != nil {
		c.mu.Lock()
		stale := c.state != StateStarting || c.startGen != gen
		if !stale {
			c.queued = nil
		}
		c.mu.Unlock()
		if stale {
			return
		}
		c.setState(StateError)
		c.observer.SessionError(errors.SessionCreateFailed(profile, err))
		return
	}

	// Stop or Reset issued while the create call was in flight wins: the
	// response is discarded and the orphaned backend session is deleted
	// instead of adopted.
	c.mu.Lock()
	if c.state != StateStarting || c.startGen != gen {
		c.mu.Unlock()
		c.logger.WithField("session_id", resp.SessionID).Info("Session superseded during creation, deleting")
		if _, derr := c.transport.DeleteSession(ctx, resp.SessionID); derr != nil {
			c.logger.WithError(derr).WithField("session_id", resp.SessionID).Warn("Orphaned session delete failed")
		}
		return
	}
	streamClient := c.newStream(resp.SessionID)
	c.sessionID = resp.SessionID
	c.stream = streamClient
	c.usage = models.TokenUsage{}
	c.inflight = make(map[string]struct{})
	c.mu.Unlock()

	// The always-allow flag is session-scoped and never carries over
	c.approvals.ResetAlwaysAllow()

	c.logger.WithFields(logrus.Fields{
		"session_id": resp.SessionID,
		"profile":    resp.Profile,
	}).Info("Session created")

	if err := streamClient.Connect(resp.SessionID); err != nil {
		c.mu.Lock()
		stale := c.state != StateStarting || c.startGen != gen
		c.mu.Unlock()
		if !stale {
			c.setState(StateError)
			c.observer.SessionError(err)
		}
		return
	}

	c.drainQueue(ctx, gen, resp.SessionID)
}

// drainQueue replays prompts queued during Starting in arrival order, then
// moves to Active. Prompts queued while draining are replayed too, so order
// is preserved end to end. The loop bails out when the start attempt has
// been superseded or a stream failure moved the coordinator to Error.
func (c *Coordinator) drainQueue(ctx context.Context, gen int, sessionID string) {
	for {
		c.mu.Lock()
		if c.state != StateStarting || c.startGen != gen {
			c.mu.Unlock()
			return
		}
		if len(c.queued) == 0 {
			c.state = StateActive
			next := c.effectiveLocked()
			c.mu.Unlock()
			c.observer.StateChanged(StateStarting, next)
			return
		}
		prompt := c.queued[0]
		c.queued = c.queued[1:]
		c.mu.Unlock()

		if err := c.submit(ctx, sessionID, prompt); err != nil {
			c.logger.WithError(err).Warn("Queued prompt failed")
		}
	}
}

// submit sends one prompt with a fresh context snapshot and records its
// request id until the matching prompt:complete arrives.
func (c *Coordinator) submit(ctx context.Context, sessionID, prompt string) error {
	c.mu.Lock()
	snapOpts := c.snapshotOpts
	c.mu.Unlock()

	req := &models.PromptRequest{
		Prompt:        prompt,
		ContextUpdate: c.snapshotter.Snapshot(snapOpts),
	}

	resp, err := c.transport.SubmitPrompt(ctx, sessionID, req)
	if err != nil {
		wrapped := errors.PromptSubmitFailed(sessionID, err)
		c.observer.SessionError(wrapped)
		return wrapped
	}

	c.mu.Lock()
	old := c.effectiveLocked()
	c.inflight[resp.RequestID] = struct{}{}
	next := c.effectiveLocked()
	c.mu.Unlock()
	if old != next {
		c.observer.StateChanged(old, next)
	}

	c.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"request_id": resp.RequestID,
	}).Debug("Prompt submitted")
	return nil
}

// newStream builds the event stream client for one session id and registers
// the dispatch handlers, each behind the stale-event guard. The caller holds
// the mutex.
func (c *Coordinator) newStream(sessionID string) *stream.Client {
	client := stream.NewClient(c.transport, c.backoff)

	client.On(models.EventApprovalRequired, c.guard(c.handleApprovalRequired))
	client.On(models.EventApprovalGranted, c.guard(c.handleApprovalResolved))
	client.On(models.EventApprovalDenied, c.guard(c.handleApprovalResolved))
	client.On(models.EventPromptComplete, c.guard(c.handlePromptComplete))
	client.On(models.EventSessionEnd, c.guard(c.handleSessionEnd))

	forwarded := []models.EventType{
		models.EventSessionStart,
		models.EventPromptSubmit,
		models.EventContentBlockStart,
		models.EventContentBlockDelta,
		models.EventContentBlockEnd,
		models.EventThinkingDelta,
		models.EventThinkingFinal,
		models.EventToolPre,
		models.EventToolPost,
		models.EventToolError,
		models.EventDiagnosticAdd,
		models.EventDiagnosticClear,
		models.EventStatusUpdate,
		models.EventDisplayText,
		models.EventError,
		models.EventWarning,
	}
	for _, eventType := range forwarded {
		client.On(eventType, c.guard(c.observer.EventReceived))
	}

	client.OnClosed(func(err error) {
		if err == nil {
			return
		}
		c.mu.Lock()
		current := c.sessionID
		c.mu.Unlock()
		if current != sessionID {
			return
		}
		c.setState(StateError)
		c.observer.SessionError(err)
	})

	return client
}

// guard drops envelopes whose session id does not match the current one.
// This protects against a slow reconnect delivering events for a session
// the user has already replaced.
func (c *Coordinator) guard(h func(env models.EventEnvelope)) stream.Handler {
	return func(env models.EventEnvelope) {
		c.mu.Lock()
		current := c.sessionID
		c.mu.Unlock()

		if env.SessionID() != current {
			c.logger.WithFields(logrus.Fields{
				"event":            string(env.Event),
				"event_session_id": env.SessionID(),
				"session_id":       current,
			}).Debug("Dropping stale event")
			return
		}
		h(env)
	}
}

func (c *Coordinator) handleApprovalRequired(env models.EventEnvelope) {
	var payload models.ApprovalRequiredPayload
	if err := env.DecodePayload(&payload); err != nil {
		c.logger.WithError(err).Warn("Malformed approval request dropped")
		return
	}
	c.approvals.HandleApprovalRequired(payload)
}

func (c *Coordinator) handleApprovalResolved(env models.EventEnvelope) {
	var payload models.ApprovalResolvedPayload
	if err := env.DecodePayload(&payload); err != nil {
		c.logger.WithError(err).Warn("Malformed approval resolution dropped")
		return
	}
	c.approvals.HandleRemoteResolution(payload)
}

func (c *Coordinator) handlePromptComplete(env models.EventEnvelope) {
	var payload models.PromptCompletePayload
	if err := env.DecodePayload(&payload); err != nil {
		c.logger.WithError(err).Warn("Malformed prompt completion dropped")
		return
	}

	c.mu.Lock()
	old := c.effectiveLocked()
	delete(c.inflight, payload.RequestID)
	if payload.TokenUsage != nil {
		c.usage.InputTokens += payload.TokenUsage.InputTokens
		c.usage.OutputTokens += payload.TokenUsage.OutputTokens
	}
	next := c.effectiveLocked()
	c.mu.Unlock()

	if old != next {
		c.observer.StateChanged(old, next)
	}
	c.observer.PromptCompleted(payload.RequestID, payload.Response, payload.TokenUsage)
}

// handleSessionEnd reacts to a backend-initiated end: the stream is
// disconnected and the coordinator moves to Stopped without a delete call,
// since the backend already tore the session down.
func (c *Coordinator) handleSessionEnd(env models.EventEnvelope) {
	var payload models.SessionEndPayload
	if err := env.DecodePayload(&payload); err != nil {
		c.logger.WithError(err).Warn("Malformed session end dropped")
		return
	}

	c.mu.Lock()
	if payload.TokenUsage != nil {
		c.usage = *payload.TokenUsage
	}
	streamClient := c.stream
	c.sessionID = ""
	c.stream = nil
	c.inflight = make(map[string]struct{})
	c.queued = nil
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"session_id": payload.SessionID,
		"reason":     payload.Reason,
	}).Info("Session ended by backend")

	if streamClient != nil {
		streamClient.Disconnect()
	}
	c.setState(StateStopped)
}

// effectiveLocked derives the externally visible state. Callers hold the
// mutex.
func (c *Coordinator) effectiveLocked() State {
	if c.state == StateActive && len(c.inflight) > 0 {
		return StateBusy
	}
	return c.state
}

// setState records a transition and notifies the observer when the
// effective state actually changed.
func (c *Coordinator) setState(next State) {
	c.mu.Lock()
	old := c.effectiveLocked()
	c.state = next
	updated := c.effectiveLocked()
	c.mu.Unlock()

	if old != updated {
		c.observer.StateChanged(old, updated)
	}
}
