package models

import "time"

// Credentials carries provider API keys for session creation.
type Credentials struct {
	AnthropicAPIKey string `json:"anthropic_api_key,omitempty"`
}

// CreateSessionRequest is the POST /sessions request body.
type CreateSessionRequest struct {
	Profile     string           `json:"profile"`
	Model       string           `json:"model,omitempty"`
	Credentials *Credentials     `json:"credentials,omitempty"`
	Context     *ContextSnapshot `json:"context,omitempty"`
}

// CreateSessionResponse is the POST /sessions response body.
type CreateSessionResponse struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Profile   string    `json:"profile"`
	CreatedAt time.Time `json:"created_at"`
}

// PromptRequest is the POST /sessions/{id}/prompt request body. ContextUpdate
// is a partial snapshot; omitted sections mean "unchanged".
type PromptRequest struct {
	Prompt        string           `json:"prompt"`
	ContextUpdate *ContextSnapshot `json:"context_update,omitempty"`
}

// PromptResponse acknowledges a prompt submission. The response content
// arrives asynchronously on the event stream, correlated by RequestID.
type PromptResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// ApprovalDecisionRequest is the POST /sessions/{id}/approval request body.
type ApprovalDecisionRequest struct {
	Decision string `json:"decision"`
}

// ApprovalDecisionResponse acknowledges an approval decision.
type ApprovalDecisionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TokenUsage is cumulative token accounting for a session.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// SessionStatus is the GET /sessions/{id} response body.
type SessionStatus struct {
	SessionID       string                 `json:"session_id"`
	Status          string                 `json:"status"`
	Profile         string                 `json:"profile"`
	CreatedAt       time.Time              `json:"created_at"`
	LastActivity    time.Time              `json:"last_activity"`
	MessageCount    int                    `json:"message_count"`
	TokenUsage      *TokenUsage            `json:"token_usage,omitempty"`
	PendingApproval map[string]interface{} `json:"pending_approval,omitempty"`
}

// SessionListItem is one entry in the GET /sessions response.
type SessionListItem struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Profile   string    `json:"profile"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionListResponse is the GET /sessions response body.
type SessionListResponse struct {
	Sessions []SessionListItem `json:"sessions"`
	Total    int               `json:"total"`
}

// DeleteSessionResponse is the DELETE /sessions/{id} response body.
type DeleteSessionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthResponse is the GET /health response body.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	UptimeSeconds  *int   `json:"uptime_seconds,omitempty"`
	ActiveSessions int    `json:"active_sessions"`
}

// ErrorDetail is the backend's structured error payload.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse is the backend's error envelope. Some backend versions nest
// the envelope under a "detail" key; the transport normalizes both forms.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}
