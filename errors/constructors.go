package errors

import (
	"fmt"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *BridgeError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *BridgeError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// SessionNotFound creates a session not found error
func SessionNotFound(sessionID string) *BridgeError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("session '%s' not found", sessionID)).
		WithDetail("session_id", sessionID)
}

// SessionCreateFailed wraps a backend session-creation failure
func SessionCreateFailed(profile string, err error) *BridgeError {
	return Wrap(err, ErrCodeSessionCreateFailed, fmt.Sprintf("failed to create session with profile '%s'", profile)).
		WithDetail("profile", profile)
}

// PromptSubmitFailed wraps a backend prompt-submission failure
func PromptSubmitFailed(sessionID string, err error) *BridgeError {
	return Wrap(err, ErrCodePromptSubmitFailed, "failed to submit prompt").
		WithDetail("session_id", sessionID)
}

// ApprovalFailed wraps a failure to deliver an approval decision
func ApprovalFailed(approvalID string, err error) *BridgeError {
	return Wrap(err, ErrCodeApprovalFailed, fmt.Sprintf("failed to submit decision for approval '%s'", approvalID)).
		WithDetail("approval_id", approvalID)
}

// ReconnectExhausted creates a terminal reconnection failure error
func ReconnectExhausted(sessionID string, attempts int, err error) *BridgeError {
	return Wrap(err, ErrCodeReconnectExhausted,
		fmt.Sprintf("event stream for session '%s' lost after %d reconnect attempts", sessionID, attempts)).
		WithDetail("session_id", sessionID).
		WithDetail("attempts", attempts)
}

// ProtocolViolation creates an error describing unexpected backend behavior
func ProtocolViolation(reason string) *BridgeError {
	return New(ErrCodeProtocolViolation, fmt.Sprintf("protocol violation: %s", reason))
}

// CredentialsMissing creates a missing credentials error
func CredentialsMissing(provider string) *BridgeError {
	return New(ErrCodeCredentialsMissing, fmt.Sprintf("no credentials available for provider '%s'", provider)).
		WithDetail("provider", provider)
}
