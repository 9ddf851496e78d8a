package models

import (
	"encoding/json"
	"fmt"
)

// EventType is the discriminated tag of an event envelope received on the
// session event stream. Values match the backend's event names.
type EventType string

const (
	EventSessionStart      EventType = "session:start"
	EventSessionEnd        EventType = "session:end"
	EventPromptSubmit      EventType = "prompt:submit"
	EventPromptComplete    EventType = "prompt:complete"
	EventContentBlockStart EventType = "content_block:start"
	EventContentBlockDelta EventType = "content_block:delta"
	EventContentBlockEnd   EventType = "content_block:end"
	EventThinkingDelta     EventType = "thinking:delta"
	EventThinkingFinal     EventType = "thinking:final"
	EventToolPre           EventType = "tool:pre"
	EventToolPost          EventType = "tool:post"
	EventToolError         EventType = "tool:error"
	EventApprovalRequired  EventType = "approval:required"
	EventApprovalGranted   EventType = "approval:granted"
	EventApprovalDenied    EventType = "approval:denied"
	EventDiagnosticAdd     EventType = "diagnostic:add"
	EventDiagnosticClear   EventType = "diagnostic:clear"
	EventStatusUpdate      EventType = "status:update"
	EventDisplayText       EventType = "display:text"
	EventError             EventType = "error"
	EventWarning           EventType = "warning"
)

// EventEnvelope is one discriminated message from the event stream. Data
// stays raw until a consumer decodes it into the payload type matching Event.
type EventEnvelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SessionID extracts the originating session id from the payload. Every
// backend payload carries one; an empty string means a malformed envelope.
func (e *EventEnvelope) SessionID() string {
	var probe struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(e.Data, &probe); err != nil {
		return ""
	}
	return probe.SessionID
}

// DecodePayload unmarshals the envelope payload into target.
func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if err := json.Unmarshal(e.Data, target); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Event, err)
	}
	return nil
}

// SessionStartPayload is the session:start event payload.
type SessionStartPayload struct {
	SessionID string `json:"session_id"`
	Profile   string `json:"profile"`
	Timestamp string `json:"timestamp"`
}

// SessionEndPayload is the session:end event payload.
type SessionEndPayload struct {
	SessionID  string      `json:"session_id"`
	Reason     string      `json:"reason"`
	TokenUsage *TokenUsage `json:"token_usage,omitempty"`
}

// PromptSubmitPayload is the prompt:submit event payload.
type PromptSubmitPayload struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
}

// PromptCompletePayload is the prompt:complete event payload.
type PromptCompletePayload struct {
	SessionID  string      `json:"session_id"`
	RequestID  string      `json:"request_id,omitempty"`
	Response   string      `json:"response"`
	TokenUsage *TokenUsage `json:"token_usage,omitempty"`
}

// ContentBlockStartPayload is the content_block:start event payload.
type ContentBlockStartPayload struct {
	SessionID  string `json:"session_id"`
	BlockType  string `json:"block_type"`
	BlockIndex int    `json:"block_index"`
}

// ContentBlockDeltaPayload is the content_block:delta event payload.
type ContentBlockDeltaPayload struct {
	SessionID  string `json:"session_id"`
	BlockIndex int    `json:"block_index"`
	Delta      string `json:"delta"`
}

// ContentBlockEndPayload is the content_block:end event payload.
type ContentBlockEndPayload struct {
	SessionID  string      `json:"session_id"`
	BlockIndex int         `json:"block_index"`
	Usage      *TokenUsage `json:"usage,omitempty"`
}

// ThinkingDeltaPayload is the thinking:delta event payload.
type ThinkingDeltaPayload struct {
	SessionID string `json:"session_id"`
	Delta     string `json:"delta"`
}

// ThinkingFinalPayload is the thinking:final event payload carrying a
// complete thinking block.
type ThinkingFinalPayload struct {
	SessionID string `json:"session_id"`
	Thinking  string `json:"thinking"`
}

// ToolPrePayload is the tool:pre event payload.
type ToolPrePayload struct {
	SessionID string                 `json:"session_id"`
	ToolName  string                 `json:"tool_name"`
	Operation string                 `json:"operation"`
	Input     map[string]interface{} `json:"input"`
}

// ToolPostPayload is the tool:post event payload.
type ToolPostPayload struct {
	SessionID  string                 `json:"session_id"`
	ToolName   string                 `json:"tool_name"`
	Operation  string                 `json:"operation"`
	Result     map[string]interface{} `json:"result"`
	DurationMS *float64               `json:"duration_ms,omitempty"`
}

// ToolErrorPayload is the tool:error event payload.
type ToolErrorPayload struct {
	SessionID string `json:"session_id"`
	ToolName  string `json:"tool_name"`
	Error     string `json:"error"`
}

// ApprovalContext describes the gated operation behind an approval request.
type ApprovalContext struct {
	ToolName string                 `json:"tool_name"`
	Input    map[string]interface{} `json:"input"`
	Event    string                 `json:"event,omitempty"`
}

// ApprovalRequiredPayload is the approval:required event payload. Timeout is
// in seconds; the deadline is receipt time plus Timeout.
type ApprovalRequiredPayload struct {
	SessionID  string           `json:"session_id"`
	ApprovalID string           `json:"approval_id"`
	Prompt     string           `json:"prompt"`
	Options    []string         `json:"options"`
	Timeout    float64          `json:"timeout"`
	Default    string           `json:"default"`
	Context    *ApprovalContext `json:"context,omitempty"`
}

// ApprovalResolvedPayload is shared by approval:granted and approval:denied.
type ApprovalResolvedPayload struct {
	SessionID  string `json:"session_id"`
	ApprovalID string `json:"approval_id"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason,omitempty"`
}

// DiagnosticAddPayload is the diagnostic:add event payload.
type DiagnosticAddPayload struct {
	SessionID   string       `json:"session_id"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// DiagnosticClearPayload is the diagnostic:clear event payload.
type DiagnosticClearPayload struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path,omitempty"`
}

// StatusUpdatePayload is the status:update event payload.
type StatusUpdatePayload struct {
	SessionID string  `json:"session_id"`
	Status    string  `json:"status"`
	Message   *string `json:"message,omitempty"`
	Progress  *int    `json:"progress,omitempty"`
}

// DisplayTextPayload is the display:text event payload.
type DisplayTextPayload struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Type      string `json:"type"`
}

// ErrorPayload is shared by the error and warning events.
type ErrorPayload struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}
