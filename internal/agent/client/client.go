// Package client provides the authenticated HTTP transport to the agent
// server. Every call carries the shared secret header; streaming replies are
// returned unparsed.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cloud-on-prem/goose/internal/agent/tracing"
	"github.com/cloud-on-prem/goose/internal/chat/message"
	"github.com/cloud-on-prem/goose/internal/common/logger"
)

// SecretHeader carries the shared secret on every request.
const SecretHeader = "X-Secret-Key"

const defaultRequestTimeout = 30 * time.Second

// Client talks to one agent server.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	timeout    time.Duration
	logger     *logger.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout should be
// zero so streamed replies are not cut off.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRequestTimeout bounds non-streaming calls. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// New creates a client for the agent server at baseURL.
func New(baseURL, secretKey string, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: &http.Client{},
		timeout:    defaultRequestTimeout,
		logger:     log.WithFields(zap.String("component", "agent-client")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the agent server's base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s %s request: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(SecretHeader, c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	tracing.Inject(ctx, req.Header)
	return req, nil
}

// Request performs one authenticated JSON call. in is encoded as the request
// body when non-nil; out receives the decoded response when non-nil.
// Non-2xx responses return *HTTPError; network errors are returned as is.
func (c *Client) Request(ctx context.Context, method, path string, in, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ctx, span := tracing.TraceHTTPRequest(ctx, method, path)
	defer span.End()

	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		tracing.TraceHTTPResponse(span, 0, err)
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := readResponseBody(resp)
	if err != nil {
		tracing.TraceHTTPResponse(span, resp.StatusCode, err)
		return fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.WithContext(ctx).Debug("agent request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		herr := &HTTPError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       respBody,
		}
		tracing.TraceHTTPResponse(span, resp.StatusCode, herr)
		return herr
	}
	tracing.TraceHTTPResponse(span, resp.StatusCode, nil)

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse %s response (status %d, body: %s): %w", path, resp.StatusCode, truncateBody(respBody), err)
	}
	return nil
}

// StreamChatResponse posts the transcript to /reply and returns the event
// stream body. The caller must close it. Cancelling ctx aborts the stream.
func (c *Client) StreamChatResponse(ctx context.Context, messages []message.Message, sessionID, workingDir string) (io.ReadCloser, error) {
	ctx, span := tracing.TraceHTTPRequest(ctx, http.MethodPost, "/reply")
	defer span.End()

	req, err := c.newRequest(ctx, http.MethodPost, "/reply", ReplyRequest{
		Messages:   ToWireMessages(messages),
		SessionID:  sessionID,
		WorkingDir: workingDir,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		tracing.TraceHTTPResponse(span, 0, err)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := readResponseBody(resp)
		_ = resp.Body.Close()
		herr := &HTTPError{
			Method:     http.MethodPost,
			Path:       "/reply",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       respBody,
		}
		tracing.TraceHTTPResponse(span, resp.StatusCode, herr)
		return nil, herr
	}

	tracing.TraceHTTPResponse(span, resp.StatusCode, nil)
	c.logger.WithContext(ctx).Debug("reply stream opened",
		zap.String("session_id", sessionID),
		zap.Int("messages", len(messages)))
	return resp.Body, nil
}

// Ask sends a one-shot prompt and returns the agent's text answer.
func (c *Client) Ask(ctx context.Context, prompt, sessionID, workingDir string) (string, error) {
	var resp AskResponse
	if err := c.Request(ctx, http.MethodPost, "/reply/ask", AskRequest{
		Prompt:     prompt,
		SessionID:  sessionID,
		WorkingDir: workingDir,
	}, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

// ConfirmToolCall approves or denies a pending tool call.
func (c *Client) ConfirmToolCall(ctx context.Context, id string, confirmed bool) error {
	return c.Request(ctx, http.MethodPost, "/reply/confirm", ConfirmRequest{ID: id, Confirmed: confirmed}, nil)
}

// ConfirmPermission answers a permission prompt with a scoped decision.
func (c *Client) ConfirmPermission(ctx context.Context, id string, pc PermissionConfirmation) error {
	return c.Request(ctx, http.MethodPost, "/reply/confirm", ConfirmRequest{
		ID:            id,
		Confirmed:     pc.Permission.Allows(),
		PrincipalName: pc.PrincipalName,
		PrincipalType: pc.PrincipalType,
		Permission:    pc.Permission,
	}, nil)
}

// ListSessions returns the sessions stored by the agent.
func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var list sessionList
	if err := c.Request(ctx, http.MethodGet, "/sessions", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetSessionHistory returns a stored session's messages.
func (c *Client) GetSessionHistory(ctx context.Context, sessionID string) (*SessionHistory, error) {
	var history SessionHistory
	if err := c.Request(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, &history); err != nil {
		return nil, err
	}
	if history.SessionID == "" {
		history.SessionID = sessionID
	}
	return &history, nil
}

// Versions returns the agent versions the server can create.
func (c *Client) Versions(ctx context.Context) (*VersionsResponse, error) {
	var resp VersionsResponse
	if err := c.Request(ctx, http.MethodGet, "/agent/versions", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Providers returns the LLM providers known to the server.
func (c *Client) Providers(ctx context.Context) ([]ProviderInfo, error) {
	var resp []ProviderInfo
	if err := c.Request(ctx, http.MethodGet, "/agent/providers", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateAgent selects the provider, model and version of the agent.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (json.RawMessage, error) {
	var resp json.RawMessage
	if err := c.Request(ctx, http.MethodPost, "/agent", req, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// AddExtension registers a builtin extension.
func (c *Client) AddExtension(ctx context.Context, name string) error {
	return c.Request(ctx, http.MethodPost, "/extensions/add", ExtensionRequest{
		Type: ExtensionTypeBuiltin,
		Name: name,
	}, nil)
}

// CheckStatus reports whether the server answers /status with 2xx. All errors
// map to false.
func (c *Client) CheckStatus(ctx context.Context) bool {
	return c.Request(ctx, http.MethodGet, "/status", nil, nil) == nil
}

func readResponseBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
