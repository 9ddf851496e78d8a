package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentbridge/core/errors"
	"github.com/agentbridge/core/logging"
	"github.com/agentbridge/core/pkg/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// requestIDHeader carries a client-generated correlation id so backend logs
// can be matched against ours.
const requestIDHeader = "X-Request-ID"

// HTTPTransport implements Transport against the backend's HTTP API.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no timeout; SSE connections stay open indefinitely.
	streamClient *http.Client
	logger       *logrus.Entry
}

// NewHTTPTransport creates a transport for the given base URL, e.g.
// "http://127.0.0.1:8765". requestTimeout bounds request/response calls only.
func NewHTTPTransport(baseURL string, requestTimeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		streamClient: &http.Client{
			Timeout: 0,
		},
		logger: logging.NewLogger("transport"),
	}
}

// CreateSession creates a new backend session.
func (t *HTTPTransport) CreateSession(ctx context.Context, req *models.CreateSessionRequest) (*models.CreateSessionResponse, error) {
	var resp models.CreateSessionResponse
	if err := t.doJSON(ctx, http.MethodPost, "/sessions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitPrompt submits a prompt to an existing session.
func (t *HTTPTransport) SubmitPrompt(ctx context.Context, sessionID string, req *models.PromptRequest) (*models.PromptResponse, error) {
	var resp models.PromptResponse
	path := fmt.Sprintf("/sessions/%s/prompt", url.PathEscape(sessionID))
	if err := t.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitApproval delivers an approval decision.
func (t *HTTPTransport) SubmitApproval(ctx context.Context, sessionID, approvalID, decision string) (*models.ApprovalDecisionResponse, error) {
	var resp models.ApprovalDecisionResponse
	path := fmt.Sprintf("/sessions/%s/approvals/%s", url.PathEscape(sessionID), url.PathEscape(approvalID))
	body := &models.ApprovalDecisionRequest{Decision: decision}
	if err := t.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetStatus fetches current session status.
func (t *HTTPTransport) GetStatus(ctx context.Context, sessionID string) (*models.SessionStatus, error) {
	var resp models.SessionStatus
	path := fmt.Sprintf("/sessions/%s", url.PathEscape(sessionID))
	if err := t.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListSessions lists sessions known to the backend.
func (t *HTTPTransport) ListSessions(ctx context.Context) (*models.SessionListResponse, error) {
	var resp models.SessionListResponse
	if err := t.doJSON(ctx, http.MethodGet, "/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteSession stops and removes a session. A 404 is treated as success so
// teardown stays idempotent.
func (t *HTTPTransport) DeleteSession(ctx context.Context, sessionID string) (*models.DeleteSessionResponse, error) {
	var resp models.DeleteSessionResponse
	path := fmt.Sprintf("/sessions/%s", url.PathEscape(sessionID))
	err := t.doJSON(ctx, http.MethodDelete, path, nil, &resp)
	if err != nil {
		if errors.Is(err, errors.ErrCodeSessionNotFound) {
			return &models.DeleteSessionResponse{Status: "stopped", Message: "session already gone"}, nil
		}
		return nil, err
	}
	return &resp, nil
}

// Health checks backend availability.
func (t *HTTPTransport) Health(ctx context.Context) (*models.HealthResponse, error) {
	var resp models.HealthResponse
	if err := t.doJSON(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OpenEvents opens the SSE channel for a session and delivers envelopes in
// arrival order until the connection drops or ctx is cancelled.
func (t *HTTPTransport) OpenEvents(ctx context.Context, sessionID string) (<-chan models.EventEnvelope, error) {
	path := fmt.Sprintf("/sessions/%s/events", url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create stream request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := t.streamClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStreamDisconnected, "failed to connect to event stream").
			WithDetail("session_id", sessionID)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, t.parseError(resp)
	}

	ch := make(chan models.EventEnvelope, 16)

	go func() {
		defer resp.Body.Close()
		defer close(ch)

		scanner := bufio.NewScanner(resp.Body)
		// Large buffer: snapshot-bearing events can exceed the 64KB default
		buf := make([]byte, 0, 256*1024)
		scanner.Buffer(buf, 4*1024*1024)

		eventName := ""
		for scanner.Scan() {
			line := scanner.Text()

			// Comments and keepalives
			if strings.HasPrefix(line, ":") {
				continue
			}
			if line == "" {
				eventName = ""
				continue
			}

			if strings.HasPrefix(line, "event: ") {
				eventName = strings.TrimPrefix(line, "event: ")
				continue
			}

			if strings.HasPrefix(line, "data: ") {
				if eventName == "ping" {
					continue
				}
				jsonStr := strings.TrimPrefix(line, "data: ")
				var envelope models.EventEnvelope
				if err := json.Unmarshal([]byte(jsonStr), &envelope); err != nil {
					t.logger.WithError(err).Debug("Skipping malformed event data")
					continue
				}

				select {
				case ch <- envelope:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			t.logger.WithError(err).WithField("session_id", sessionID).Debug("Event stream read error")
		}
	}()

	return ch, nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.httpClient.CloseIdleConnections()
	t.streamClient.CloseIdleConnections()
	return nil
}

// doJSON issues a request with an optional JSON body and decodes the JSON
// response into out. Non-2xx responses become structured errors.
func (t *HTTPTransport) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStreamDisconnected, "backend request failed").
			WithDetail("method", method).
			WithDetail("path", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return t.parseError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrCodeProtocolViolation, "failed to decode backend response").
			WithDetail("path", path)
	}
	return nil
}

// parseError converts a non-2xx response into a BridgeError, preserving the
// backend's error code and message when present.
func (t *HTTPTransport) parseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	detail := decodeErrorDetail(data)
	if detail == nil {
		return errors.New(statusToCode(resp.StatusCode),
			fmt.Sprintf("backend returned status %d", resp.StatusCode)).
			WithDetail("status", resp.StatusCode)
	}

	code := errors.ErrorCode(detail.Code)
	if code == "" {
		code = statusToCode(resp.StatusCode)
	}
	err := errors.New(code, detail.Message).WithDetail("status", resp.StatusCode)
	for k, v := range detail.Details {
		err = err.WithDetail(k, v)
	}
	return err
}

// decodeErrorDetail accepts both {"error": {...}} and the FastAPI form
// {"detail": {"error": {...}}}.
func decodeErrorDetail(data []byte) *models.ErrorDetail {
	var direct models.ErrorResponse
	if err := json.Unmarshal(data, &direct); err == nil && direct.Error.Code != "" {
		return &direct.Error
	}

	var wrapped struct {
		Detail models.ErrorResponse `json:"detail"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Detail.Error.Code != "" {
		return &wrapped.Detail.Error
	}
	return nil
}

func statusToCode(status int) errors.ErrorCode {
	switch status {
	case http.StatusNotFound:
		return errors.ErrCodeSessionNotFound
	case http.StatusConflict:
		return errors.ErrCodeSessionBusy
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.ErrCodeCredentialsMissing
	default:
		return errors.ErrCodeInternal
	}
}

// Ensure HTTPTransport implements Transport.
var _ Transport = (*HTTPTransport)(nil)
