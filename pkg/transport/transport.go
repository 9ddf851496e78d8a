// Package transport implements the request/response and event stream
// boundary with the agent backend. The backend is treated as an opaque peer;
// everything here is plain HTTP plus one Server-Sent Events channel per
// session id.
package transport

import (
	"context"

	"github.com/agentbridge/core/pkg/models"
)

// Transport is the capability surface the coordinators depend on. HTTPTransport
// is the production implementation; tests substitute fakes.
type Transport interface {
	// CreateSession creates a new backend session.
	CreateSession(ctx context.Context, req *models.CreateSessionRequest) (*models.CreateSessionResponse, error)

	// SubmitPrompt submits a prompt; content arrives on the event stream.
	SubmitPrompt(ctx context.Context, sessionID string, req *models.PromptRequest) (*models.PromptResponse, error)

	// SubmitApproval delivers an approval decision. The approval id is part
	// of the request path, not the body.
	SubmitApproval(ctx context.Context, sessionID, approvalID, decision string) (*models.ApprovalDecisionResponse, error)

	// GetStatus fetches current session status.
	GetStatus(ctx context.Context, sessionID string) (*models.SessionStatus, error)

	// ListSessions lists sessions known to the backend.
	ListSessions(ctx context.Context) (*models.SessionListResponse, error)

	// DeleteSession stops and removes a session. Idempotent client-side: a
	// missing session is not an error.
	DeleteSession(ctx context.Context, sessionID string) (*models.DeleteSessionResponse, error)

	// Health checks backend availability.
	Health(ctx context.Context) (*models.HealthResponse, error)

	// OpenEvents opens the event stream for a session. Envelopes are
	// delivered in arrival order; the channel is closed when the connection
	// drops or ctx is cancelled. Callers own reconnection.
	OpenEvents(ctx context.Context, sessionID string) (<-chan models.EventEnvelope, error)

	// Close releases idle connections.
	Close() error
}
