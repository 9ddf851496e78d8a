package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agentbridge/core/errors"
	"github.com/agentbridge/core/pkg/approval"
	"github.com/agentbridge/core/pkg/credentials"
	"github.com/agentbridge/core/pkg/models"
	"github.com/agentbridge/core/pkg/snapshot"
	"github.com/agentbridge/core/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type approvalCall struct {
	sessionID  string
	approvalID string
	decision   string
}

// fakeTransport scripts backend behavior and records every call.
type fakeTransport struct {
	mu            sync.Mutex
	sessionID     string
	createCalls   []*models.CreateSessionRequest
	createErr     error
	createBlock   chan struct{}
	prompts       []string
	promptErr     error
	nextRequestID int
	approvals     []approvalCall
	deleted       []string
	events        chan models.EventEnvelope
	openErr       error
}

func newFakeTransport(sessionID string) *fakeTransport {
	return &fakeTransport{
		sessionID: sessionID,
		events:    make(chan models.EventEnvelope, 32),
	}
}

func (f *fakeTransport) CreateSession(ctx context.Context, req *models.CreateSessionRequest) (*models.CreateSessionResponse, error) {
	f.mu.Lock()
	f.createCalls = append(f.createCalls, req)
	block := f.createBlock
	err := f.createErr
	id := f.sessionID
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &models.CreateSessionResponse{SessionID: id, Status: "created", Profile: req.Profile, CreatedAt: time.Now()}, nil
}

func (f *fakeTransport) SubmitPrompt(ctx context.Context, sessionID string, req *models.PromptRequest) (*models.PromptResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.promptErr != nil {
		return nil, f.promptErr
	}
	f.prompts = append(f.prompts, req.Prompt)
	f.nextRequestID++
	return &models.PromptResponse{RequestID: fmt.Sprintf("req-%d", f.nextRequestID), Status: "accepted"}, nil
}

func (f *fakeTransport) SubmitApproval(ctx context.Context, sessionID, approvalID, decision string) (*models.ApprovalDecisionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals = append(f.approvals, approvalCall{sessionID, approvalID, decision})
	return &models.ApprovalDecisionResponse{Status: "ok"}, nil
}

func (f *fakeTransport) GetStatus(ctx context.Context, sessionID string) (*models.SessionStatus, error) {
	return &models.SessionStatus{SessionID: sessionID, Status: "idle"}, nil
}

func (f *fakeTransport) ListSessions(ctx context.Context) (*models.SessionListResponse, error) {
	return &models.SessionListResponse{}, nil
}

func (f *fakeTransport) DeleteSession(ctx context.Context, sessionID string) (*models.DeleteSessionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sessionID)
	return &models.DeleteSessionResponse{Status: "stopped"}, nil
}

func (f *fakeTransport) Health(ctx context.Context) (*models.HealthResponse, error) {
	return &models.HealthResponse{Status: "ok"}, nil
}

func (f *fakeTransport) OpenEvents(ctx context.Context, sessionID string) (<-chan models.EventEnvelope, error) {
	f.mu.Lock()
	err := f.openErr
	src := f.events
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(chan models.EventEnvelope)
	go func() {
		defer close(out)
		for {
			select {
			case env, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) promptLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.prompts))
	copy(out, f.prompts)
	return out
}

func (f *fakeTransport) approvalLog() []approvalCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]approvalCall, len(f.approvals))
	copy(out, f.approvals)
	return out
}

// recordingObserver buffers every notification on channels.
type recordingObserver struct {
	events    chan models.EventEnvelope
	requests  chan approval.Pending
	resolved  chan approval.Resolution
	completed chan string
	errs      chan error
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		events:    make(chan models.EventEnvelope, 32),
		requests:  make(chan approval.Pending, 8),
		resolved:  make(chan approval.Resolution, 8),
		completed: make(chan string, 8),
		errs:      make(chan error, 8),
	}
}

func (o *recordingObserver) StateChanged(old, new State)            {}
func (o *recordingObserver) EventReceived(env models.EventEnvelope) { o.events <- env }
func (o *recordingObserver) ApprovalRequested(p approval.Pending)   { o.requests <- p }
func (o *recordingObserver) ApprovalResolved(r approval.Resolution) { o.resolved <- r }
func (o *recordingObserver) PromptCompleted(requestID, response string, u *models.TokenUsage) {
	o.completed <- requestID
}
func (o *recordingObserver) SessionError(err error) { o.errs <- err }

// fakeEditor satisfies snapshot.EditorState with a fixed workspace.
type fakeEditor struct{ root string }

func (f *fakeEditor) WorkspaceRoot() string                       { return f.root }
func (f *fakeEditor) ForegroundDocuments() []snapshot.Document    { return nil }
func (f *fakeEditor) BackgroundDocuments() []snapshot.Document    { return nil }
func (f *fakeEditor) ActiveSelection() *models.Selection          { return nil }
func (f *fakeEditor) Diagnostics() []models.Diagnostic            { return nil }

func newTestCoordinator(tr *fakeTransport, obs Observer) *Coordinator {
	snap := snapshot.New(&fakeEditor{root: "/ws"}, nil)
	creds := &credentials.StaticStore{Credentials: models.Credentials{AnthropicAPIKey: "sk-test"}}
	cfg := Config{
		Profile: "dev",
		Backoff: stream.BackoffPolicy{InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, MaxAttempts: 2},
	}
	return NewCoordinator(tr, creds, snap, cfg, obs)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func sendEvent(t *testing.T, tr *fakeTransport, event models.EventType, payload map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	tr.events <- models.EventEnvelope{Event: event, Data: data}
}

func TestLazyCreationQueuesAndReplays(t *testing.T) {
	tr := newFakeTransport("sess-1")
	tr.createBlock = make(chan struct{})
	obs := newRecordingObserver()
	c := newTestCoordinator(tr, obs)

	require.Equal(t, StateUninitialized, c.State())
	require.NoError(t, c.SubmitPrompt(context.Background(), "one"))
	assert.Equal(t, StateStarting, c.State())

	// Prompts during Starting are queued, not dropped
	require.NoError(t, c.SubmitPrompt(context.Background(), "two"))
	require.NoError(t, c.SubmitPrompt(context.Background(), "three"))

	close(tr.createBlock)
	waitFor(t, func() bool { return len(tr.promptLog()) == 3 }, "queued prompts not replayed")
	assert.Equal(t, []string{"one", "two", "three"}, tr.promptLog())
	assert.Equal(t, "sess-1", c.SessionID())
	waitFor(t, func() bool { return c.State() == StateBusy }, "prompts in flight should report busy")

	tr.mu.Lock()
	req := tr.createCalls[0]
	tr.mu.Unlock()
	assert.Equal(t, "dev", req.Profile)
	require.NotNil(t, req.Context)
	assert.Equal(t, "/ws", req.Context.WorkspaceRoot)
	require.NotNil(t, req.Credentials)
	assert.Equal(t, "sk-test", req.Credentials.AnthropicAPIKey)

	// Completions drain the busy set per request id
	for i := 1; i <= 3; i++ {
		sendEvent(t, tr, models.EventPromptComplete, map[string]interface{}{
			"session_id": "sess-1",
			"request_id": fmt.Sprintf("req-%d", i),
			"response":   "done",
		})
		assert.Equal(t, fmt.Sprintf("req-%d", i), <-obs.completed)
	}
	waitFor(t, func() bool { return c.State() == StateActive }, "never returned to active")
}

func TestStaleEventsDropped(t *testing.T) {
	tr := newFakeTransport("sess-1")
	obs := newRecordingObserver()
	c := newTestCoordinator(tr, obs)

	require.NoError(t, c.SubmitPrompt(context.Background(), "hello"))
	waitFor(t, func() bool { return len(tr.promptLog()) == 1 }, "prompt never submitted")

	// An envelope from a superseded session must produce no side effect
	sendEvent(t, tr, models.EventContentBlockDelta, map[string]interface{}{
		"session_id": "sess-OLD", "block_index": 0, "delta": "stale",
	})
	sendEvent(t, tr, models.EventContentBlockDelta, map[string]interface{}{
		"session_id": "sess-1", "block_index": 0, "delta": "fresh",
	})

	env := <-obs.events
	var payload models.ContentBlockDeltaPayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.Equal(t, "fresh", payload.Delta, "stale event skipped, fresh event delivered")
}

func TestCreateFailureEntersError(t *testing.T) {
	tr := newFakeTransport("sess-1")
	tr.createErr = errors.New(errors.ErrCodeCredentialsMissing, "no key")
	obs := newRecordingObserver()
	c := newTestCoordinator(tr, obs)

	require.NoError(t, c.SubmitPrompt(context.Background(), "hello"))

	err := <-obs.errs
	assert.True(t, errors.Is(err, errors.ErrCodeSessionCreateFailed))
	waitFor(t, func() bool { return c.State() == StateError }, "never entered error state")

	// Error state rejects prompts until an explicit reset
	err = c.SubmitPrompt(context.Background(), "again")
	require.Error(t, err)

	c.Reset()
	assert.Equal(t, StateUninitialized, c.State())

	tr.mu.Lock()
	tr.createErr = nil
	tr.mu.Unlock()
	require.NoError(t, c.SubmitPrompt(context.Background(), "again"))
	waitFor(t, func() bool { return len(tr.promptLog()) == 1 }, "prompt not submitted after reset")
}

func TestPromptFailureLeavesSessionActive(t *testing.T) {
	tr := newFakeTransport("sess-1")
	obs := newRecordingObserver()
	c := newTestCoordinator(tr, obs)

	require.NoError(t, c.SubmitPrompt(context.Background(), "first"))
	waitFor(t, func() bool { return c.State() == StateBusy }, "session never became active")

	tr.mu.Lock()
	tr.promptErr = errors.New(errors.ErrCodeSessionBusy, "busy")
	tr.mu.Unlock()

	err := c.SubmitPrompt(context.Background(), "rejected")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodePromptSubmitFailed))
	assert.True(t, errors.Is(<-obs.errs, errors.ErrCodePromptSubmitFailed))

	// Still usable: the user may retry
	tr.mu.Lock()
	tr.promptErr = nil
	tr.mu.Unlock()
	require.NoError(t, c.SubmitPrompt(context.Background(), "retry"))
	assert.Equal(t, []string{"first", "retry"}, tr.promptLog())
}

func TestStopForceResolvesPendingApproval(t *testing.T) {
	tr := newFakeTransport("sess-1")
	obs := newRecordingObserver()
	c := newTestCoordinator(tr, obs)

	require.NoError(t, c.SubmitPrompt(context.Background(), "hello"))
	waitFor(t, func() bool { return len(tr.promptLog()) == 1 }, "prompt never submitted")

	sendEvent(t, tr, models.EventApprovalRequired, map[string]interface{}{
		"session_id":  "sess-1",
		"approval_id": "appr-1",
		"prompt":      "Allow running: rm x",
		"options":     []string{"AlwaysAllow", "Allow", "Deny"},
		"timeout":     300.0,
		"default":     "deny",
	})
	pend := <-obs.requests
	assert.Equal(t, "appr-1", pend.ApprovalID)

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, StateStopped, c.State())

	calls := tr.approvalLog()
	require.Len(t, calls, 1, "pending approval force-resolved on teardown")
	assert.Equal(t, approvalCall{"sess-1", "appr-1", "deny"}, calls[0])

	tr.mu.Lock()
	deleted := tr.deleted
	tr.mu.Unlock()
	assert.Equal(t, []string{"sess-1"}, deleted)

	// Idempotent
	require.NoError(t, c.Stop(context.Background()))
}

func TestStopDuringStartingDiscardsCreatedSession(t *testing.T) {
	tr := newFakeTransport("sess-1")
	tr.createBlock = make(chan struct{})
	obs := newRecordingObserver()
	c := newTestCoordinator(tr, obs)

	require.NoError(t, c.SubmitPrompt(context.Background(), "hello"))
	require.Equal(t, StateStarting, c.State())

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, StateStopped, c.State())

	// The create call resolves after teardown. Its result must be discarded
	// and the backend session it produced deleted, not adopted.
	close(tr.createBlock)
	waitFor(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.deleted) == 1
	}, "orphaned backend session never deleted")

	tr.mu.Lock()
	deleted := tr.deleted[0]
	tr.mu.Unlock()
	assert.Equal(t, "sess-1", deleted)
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, "", c.SessionID())
	assert.Empty(t, tr.promptLog(), "queued prompt must not replay after stop")
}

func TestResetDuringStartingDiscardsCreatedSession(t *testing.T) {
	tr := newFakeTransport("sess-1")
	tr.createBlock = make(chan struct{})
	obs := newRecordingObserver()
	c := newTestCoordinator(tr, obs)

	require.NoError(t, c.SubmitPrompt(context.Background(), "hello"))
	require.Equal(t, StateStarting, c.State())

	c.Reset()
	assert.Equal(t, StateUninitialized, c.State())

	close(tr.createBlock)
	waitFor(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.deleted) == 1
	}, "orphaned backend session never deleted")

	assert.Equal(t, StateUninitialized, c.State())
	assert.Equal(t, "", c.SessionID())
	assert.Empty(t, tr.promptLog())
}

func TestStopDropsLateEvents(t *testing.T) {
	tr := newFakeTransport("sess-1")
	obs := newRecordingObserver()
	c := newTestCoordinator(tr, obs)

	require.NoError(t, c.SubmitPrompt(context.Background(), "hello"))
	waitFor(t, func() bool { return len(tr.promptLog()) == 1 }, "prompt never submitted")

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, "", c.SessionID(), "session id cleared on stop")

	// An envelope still in the dispatch path when teardown began must be
	// dropped by the stale-event guard, not mutate state.
	delivered := false
	h := c.guard(func(models.EventEnvelope) { delivered = true })
	data, err := json.Marshal(map[string]interface{}{
		"session_id": "sess-1", "request_id": "req-1", "response": "late",
		"token_usage": map[string]int{"input_tokens": 9, "output_tokens": 9},
	})
	require.NoError(t, err)
	h(models.EventEnvelope{Event: models.EventPromptComplete, Data: data})

	assert.False(t, delivered)
	assert.Equal(t, models.TokenUsage{}, c.TokenUsage())
	assert.Equal(t, StateStopped, c.State())
}

func TestUpdateConfigAppliesToNextSession(t *testing.T) {
	tr := newFakeTransport("sess-1")
	obs := newRecordingObserver()
	c := newTestCoordinator(tr, obs)

	require.NoError(t, c.SubmitPrompt(context.Background(), "first"))
	waitFor(t, func() bool { return len(tr.promptLog()) == 1 }, "prompt never submitted")
	require.NoError(t, c.Stop(context.Background()))

	c.UpdateConfig(Config{Profile: "prod"})

	tr.mu.Lock()
	tr.sessionID = "sess-2"
	tr.mu.Unlock()
	require.NoError(t, c.SubmitPrompt(context.Background(), "second"))
	waitFor(t, func() bool { return c.SessionID() == "sess-2" }, "second session never created")

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.createCalls, 2)
	assert.Equal(t, "dev", tr.createCalls[0].Profile)
	assert.Equal(t, "prod", tr.createCalls[1].Profile)
}

func TestAlwaysAllowResetOnNewSession(t *testing.T) {
	tr := newFakeTransport("sess-1")
	obs := newRecordingObserver()
	c := newTestCoordinator(tr, obs)

	require.NoError(t, c.SubmitPrompt(context.Background(), "hello"))
	waitFor(t, func() bool { return len(tr.promptLog()) == 1 }, "prompt never submitted")

	sendEvent(t, tr, models.EventApprovalRequired, map[string]interface{}{
		"session_id": "sess-1", "approval_id": "appr-1", "prompt": "?",
		"options": []string{"AlwaysAllow", "Allow", "Deny"}, "timeout": 300.0, "default": "deny",
	})
	<-obs.requests

	require.NoError(t, c.HandleUserDecision("appr-1", approval.DecisionAlwaysAllow))
	<-obs.resolved
	assert.True(t, c.AlwaysAllowEnabled())

	require.NoError(t, c.Stop(context.Background()))

	// The flag is session-scoped and never carries over
	tr.mu.Lock()
	tr.sessionID = "sess-2"
	tr.mu.Unlock()
	require.NoError(t, c.SubmitPrompt(context.Background(), "fresh"))
	waitFor(t, func() bool { return c.SessionID() == "sess-2" }, "second session never created")
	assert.False(t, c.AlwaysAllowEnabled())
}

func TestTerminalStreamFailureEntersError(t *testing.T) {
	tr := newFakeTransport("sess-1")
	tr.openErr = errors.New(errors.ErrCodeStreamDisconnected, "refused")
	obs := newRecordingObserver()
	c := newTestCoordinator(tr, obs)

	require.NoError(t, c.SubmitPrompt(context.Background(), "hello"))

	err := <-obs.errs
	assert.True(t, errors.Is(err, errors.ErrCodeReconnectExhausted))
	waitFor(t, func() bool { return c.State() == StateError }, "never entered error state")
}

func TestTokenUsageAccumulated(t *testing.T) {
	tr := newFakeTransport("sess-1")
	obs := newRecordingObserver()
	c := newTestCoordinator(tr, obs)

	require.NoError(t, c.SubmitPrompt(context.Background(), "a"))
	waitFor(t, func() bool { return len(tr.promptLog()) == 1 }, "prompt never submitted")
	require.NoError(t, c.SubmitPrompt(context.Background(), "b"))

	sendEvent(t, tr, models.EventPromptComplete, map[string]interface{}{
		"session_id": "sess-1", "request_id": "req-1", "response": "r1",
		"token_usage": map[string]int{"input_tokens": 10, "output_tokens": 20},
	})
	sendEvent(t, tr, models.EventPromptComplete, map[string]interface{}{
		"session_id": "sess-1", "request_id": "req-2", "response": "r2",
		"token_usage": map[string]int{"input_tokens": 5, "output_tokens": 7},
	})
	<-obs.completed
	<-obs.completed

	usage := c.TokenUsage()
	assert.Equal(t, 15, usage.InputTokens)
	assert.Equal(t, 27, usage.OutputTokens)
}

func TestBackendSessionEnd(t *testing.T) {
	tr := newFakeTransport("sess-1")
	obs := newRecordingObserver()
	c := newTestCoordinator(tr, obs)

	require.NoError(t, c.SubmitPrompt(context.Background(), "hello"))
	waitFor(t, func() bool { return len(tr.promptLog()) == 1 }, "prompt never submitted")

	sendEvent(t, tr, models.EventSessionEnd, map[string]interface{}{
		"session_id": "sess-1", "reason": "completed",
		"token_usage": map[string]int{"input_tokens": 3, "output_tokens": 4},
	})

	waitFor(t, func() bool { return c.State() == StateStopped }, "never stopped")
	assert.Equal(t, models.TokenUsage{InputTokens: 3, OutputTokens: 4}, c.TokenUsage())

	tr.mu.Lock()
	deleted := tr.deleted
	tr.mu.Unlock()
	assert.Empty(t, deleted, "no delete call when the backend ended the session")
}
