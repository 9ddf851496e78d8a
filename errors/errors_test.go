package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBridgeError(t *testing.T) {
	t.Run("error string without cause", func(t *testing.T) {
		err := New(ErrCodeSessionNotFound, "session 'abc' not found")
		assert.Equal(t, "SESSION_NOT_FOUND: session 'abc' not found", err.Error())
	})

	t.Run("error string with cause", func(t *testing.T) {
		cause := fmt.Errorf("connection refused")
		err := Wrap(cause, ErrCodeSessionCreateFailed, "failed to create session")
		assert.Contains(t, err.Error(), "SESSION_CREATE_FAILED")
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("unwrap returns cause", func(t *testing.T) {
		cause := fmt.Errorf("boom")
		err := Wrap(cause, ErrCodeInternal, "wrapped")
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("with detail", func(t *testing.T) {
		err := New(ErrCodeApprovalFailed, "failed").WithDetail("approval_id", "appr-1")
		assert.Equal(t, "appr-1", err.Details["approval_id"])
	})

	t.Run("Is matches code through wrapping", func(t *testing.T) {
		inner := New(ErrCodeReconnectExhausted, "gone")
		outer := fmt.Errorf("outer: %w", inner)
		assert.True(t, Is(outer, ErrCodeReconnectExhausted))
		assert.False(t, Is(outer, ErrCodeSessionBusy))
	})

	t.Run("GetCode", func(t *testing.T) {
		assert.Equal(t, ErrCodeProtocolViolation, GetCode(ProtocolViolation("duplicate approval")))
		assert.Equal(t, ErrorCode(""), GetCode(fmt.Errorf("plain")))
		assert.Equal(t, ErrorCode(""), GetCode(nil))
	})
}

func TestConstructors(t *testing.T) {
	t.Run("session create failed carries profile", func(t *testing.T) {
		err := SessionCreateFailed("dev", fmt.Errorf("500"))
		assert.Equal(t, ErrCodeSessionCreateFailed, err.Code)
		assert.Equal(t, "dev", err.Details["profile"])
	})

	t.Run("reconnect exhausted carries attempts", func(t *testing.T) {
		err := ReconnectExhausted("sess-1", 10, fmt.Errorf("eof"))
		assert.Equal(t, ErrCodeReconnectExhausted, err.Code)
		assert.Equal(t, 10, err.Details["attempts"])
	})
}
