// Package stream maintains the server-push event channel for one session:
// it opens the SSE connection, dispatches typed events to registered
// handlers in arrival order, and reconnects with exponential backoff when
// the channel drops.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/agentbridge/core/errors"
	"github.com/agentbridge/core/logging"
	"github.com/agentbridge/core/pkg/models"
	"github.com/sirupsen/logrus"
)

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateClosed is terminal: reached by explicit Disconnect or by
	// exhausting reconnect attempts. No further retries happen.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventsOpener is the single transport capability the client needs.
type EventsOpener interface {
	OpenEvents(ctx context.Context, sessionID string) (<-chan models.EventEnvelope, error)
}

// Handler consumes one event envelope. Handlers run synchronously on the
// stream's delivery goroutine, in arrival order.
type Handler func(env models.EventEnvelope)

// knownEvents is the set of event types the client will dispatch. Envelopes
// outside this set are logged and dropped.
var knownEvents = map[models.EventType]struct{}{
	models.EventSessionStart:      {},
	models.EventSessionEnd:        {},
	models.EventPromptSubmit:      {},
	models.EventPromptComplete:    {},
	models.EventContentBlockStart: {},
	models.EventContentBlockDelta: {},
	models.EventContentBlockEnd:   {},
	models.EventThinkingDelta:     {},
	models.EventThinkingFinal:     {},
	models.EventToolPre:           {},
	models.EventToolPost:          {},
	models.EventToolError:         {},
	models.EventApprovalRequired:  {},
	models.EventApprovalGranted:   {},
	models.EventApprovalDenied:    {},
	models.EventDiagnosticAdd:     {},
	models.EventDiagnosticClear:   {},
	models.EventStatusUpdate:      {},
	models.EventDisplayText:       {},
	models.EventError:             {},
	models.EventWarning:           {},
}

// Client maintains the event stream for one session id.
type Client struct {
	opener EventsOpener
	policy BackoffPolicy
	logger *logrus.Entry

	mu        sync.Mutex
	state     State
	sessionID string
	handlers  map[models.EventType][]Handler
	cancel    context.CancelFunc
	gen       int

	onConnected    func()
	onReconnecting func(attempt int, delay time.Duration)
	onClosed       func(err error)
}

// NewClient creates a stream client using the given transport capability and
// backoff policy.
func NewClient(opener EventsOpener, policy BackoffPolicy) *Client {
	return &Client{
		opener:   opener,
		policy:   policy,
		logger:   logging.NewLogger("stream"),
		handlers: make(map[models.EventType][]Handler),
	}
}

// On registers a handler for an event type. Registration is only effective
// before Connect; handlers are invoked in registration order.
func (c *Client) On(eventType models.EventType, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], handler)
}

// OnConnected registers a notification fired on every successful channel
// open (initial connect and each reconnect).
func (c *Client) OnConnected(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = fn
}

// OnReconnecting registers a notification fired before each backoff wait.
func (c *Client) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnecting = fn
}

// OnClosed registers a notification fired when the client reaches the
// terminal closed state. err is nil for an explicit Disconnect and non-nil
// when reconnect attempts were exhausted.
func (c *Client) OnClosed(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts consuming events for the given session id. It is an error
// to call Connect while a previous connection is still live; Disconnect
// first.
func (c *Client) Connect(sessionID string) error {
	c.mu.Lock()
	if c.state != StateDisconnected && c.state != StateClosed {
		c.mu.Unlock()
		return errors.New(errors.ErrCodeInvalidInput, "stream client is already connected").
			WithDetail("state", c.state.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.sessionID = sessionID
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.run(ctx, sessionID, gen)
	return nil
}

// Disconnect halts the stream and any in-flight retry wait. Idempotent and
// safe to call from any state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	alreadyClosed := c.state == StateClosed || c.state == StateDisconnected
	c.state = StateClosed
	onClosed := c.onClosed
	c.mu.Unlock()

	if !alreadyClosed && onClosed != nil {
		onClosed(nil)
	}
}

// run owns the connect/dispatch/reconnect loop for one Connect call.
func (c *Client) run(ctx context.Context, sessionID string, gen int) {
	attempt := 0

	for {
		ch, err := c.opener.OpenEvents(ctx, sessionID)
		if err == nil {
			if !c.transition(gen, StateConnected) {
				return
			}
			attempt = 0
			c.logger.WithField("session_id", sessionID).Info("Event stream connected")
			c.notifyConnected()

			// Deliver until the channel closes (server side or ctx cancel)
			for env := range ch {
				c.dispatch(env)
			}
		}

		if ctx.Err() != nil {
			// Explicit disconnect; Disconnect already set the final state
			return
		}

		if err != nil {
			c.logger.WithError(err).WithField("session_id", sessionID).Warn("Event stream connection failed")
		} else {
			c.logger.WithField("session_id", sessionID).Warn("Event stream closed unexpectedly")
		}

		attempt++
		if attempt > c.policy.MaxAttempts {
			terminal := errors.ReconnectExhausted(sessionID, c.policy.MaxAttempts, err)
			c.logger.WithField("session_id", sessionID).Error("Reconnect attempts exhausted, giving up")
			if c.transition(gen, StateClosed) {
				c.notifyClosed(terminal)
			}
			return
		}

		delay := c.policy.Delay(attempt - 1)
		if !c.transition(gen, StateReconnecting) {
			return
		}
		c.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"attempt":    attempt,
			"delay":      delay,
		}).Info("Reconnecting to event stream")
		c.notifyReconnecting(attempt, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// transition moves to next unless the connection generation has been
// superseded (a newer Connect or a Disconnect happened). Returns false when
// the caller's loop should exit.
func (c *Client) transition(gen int, next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state == StateClosed {
		return false
	}
	c.state = next
	return true
}

// dispatch hands an envelope to every registered handler for its type, in
// arrival order. Unknown event types are logged and dropped, never raised.
func (c *Client) dispatch(env models.EventEnvelope) {
	if _, ok := knownEvents[env.Event]; !ok {
		c.logger.WithField("event", string(env.Event)).Debug("Dropping unknown event type")
		return
	}

	c.mu.Lock()
	handlers := c.handlers[env.Event]
	c.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
}

func (c *Client) notifyConnected() {
	c.mu.Lock()
	fn := c.onConnected
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) notifyReconnecting(attempt int, delay time.Duration) {
	c.mu.Lock()
	fn := c.onReconnecting
	c.mu.Unlock()
	if fn != nil {
		fn(attempt, delay)
	}
}

func (c *Client) notifyClosed(err error) {
	c.mu.Lock()
	fn := c.onClosed
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
