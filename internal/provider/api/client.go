// Package api leases mobile sessions from the hosted session service over
// its JSON HTTP API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"devclean/internal/session"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// requestTimeout bounds a single API round trip. Commands run on the
	// device synchronously, so this is generous.
	requestTimeout = 2 * time.Minute
	// maxErrorBody caps how much of an error response is kept in messages.
	maxErrorBody = 4 << 10
)

var (
	_ session.Provider     = (*Client)(nil)
	_ session.InfoProvider = (*Client)(nil)
	_ session.AppLister    = (*Client)(nil)
)

// ErrRejected is returned when the service answers a request with success=false.
var ErrRejected = errors.New("request rejected by session service")

// StatusError is a non-2xx response from the session service.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client talks to the session service.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client. The client is used as-is, without
// tracing instrumentation.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a client for the service at endpoint. Requests carry
// apiKey as a bearer token.
func NewClient(endpoint, apiKey string, opts ...ClientOption) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("session service endpoint is required")
	}
	baseURL, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse session service URL: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("session service URL %q must be http or https", endpoint)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("session service API key is required")
	}

	c := &Client{baseURL: baseURL, apiKey: apiKey}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   requestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return c, nil
}

type createRequest struct {
	ImageID string            `json:"image_id,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
}

type createResponse struct {
	RequestID    string `json:"request_id"`
	Success      bool   `json:"success"`
	SessionID    string `json:"session_id"`
	ErrorMessage string `json:"error_message"`
}

type statusResponse struct {
	RequestID    string `json:"request_id"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message"`
}

type commandRequest struct {
	Command string `json:"command"`
}

type commandResponse struct {
	Success      bool   `json:"success"`
	Output       string `json:"output"`
	ErrorMessage string `json:"error_message"`
}

type infoResponse struct {
	SessionID    string `json:"session_id"`
	ResourceURL  string `json:"resource_url"`
	ResourceType string `json:"resource_type"`
}

type appsResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message"`
	Apps         []struct {
		Name          string `json:"name"`
		StartCmd      string `json:"start_cmd"`
		StopCmd       string `json:"stop_cmd"`
		WorkDirectory string `json:"work_directory"`
	} `json:"apps"`
}

// CreateSession leases a new session.
func (c *Client) CreateSession(ctx context.Context, params session.CreateParams) (session.Handle, error) {
	var resp createResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", createRequest{ImageID: params.ImageID, Labels: params.Labels}, &resp); err != nil {
		return session.Handle{}, fmt.Errorf("create session: %w", err)
	}
	if !resp.Success {
		return session.Handle{}, fmt.Errorf("create session (request %s): %w: %s", resp.RequestID, ErrRejected, resp.ErrorMessage)
	}
	return session.Handle{ID: resp.SessionID}, nil
}

// DeleteSession releases a session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	var resp statusResponse
	if err := c.do(ctx, http.MethodDelete, sessionPath(sessionID), nil, &resp); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	if !resp.Success {
		return fmt.Errorf("delete session %s: %w: %s", sessionID, ErrRejected, resp.ErrorMessage)
	}
	return nil
}

// Execute runs a shell command inside the session. A command the device
// rejects is a result with Success=false, not an error.
func (c *Client) Execute(ctx context.Context, sessionID, command string) (session.CommandResult, error) {
	var resp commandResponse
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID)+"/commands", commandRequest{Command: command}, &resp); err != nil {
		return session.CommandResult{}, fmt.Errorf("execute in session %s: %w", sessionID, err)
	}
	out := resp.Output
	if !resp.Success && out == "" {
		out = resp.ErrorMessage
	}
	return session.CommandResult{Success: resp.Success, Output: out}, nil
}

// SessionInfo describes a live session.
func (c *Client) SessionInfo(ctx context.Context, sessionID string) (session.Info, error) {
	var resp infoResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID), nil, &resp); err != nil {
		return session.Info{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if resp.SessionID == "" {
		resp.SessionID = sessionID
	}
	return session.Info{
		SessionID:    resp.SessionID,
		ResourceURL:  resp.ResourceURL,
		ResourceType: resp.ResourceType,
	}, nil
}

// InstalledApps lists user-installed launcher apps, excluding system apps.
func (c *Client) InstalledApps(ctx context.Context, sessionID string) ([]session.App, error) {
	var resp appsResponse
	path := sessionPath(sessionID) + "/apps?start_menu=true&ignore_system_apps=true"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list apps in session %s: %w", sessionID, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("list apps in session %s: %w: %s", sessionID, ErrRejected, resp.ErrorMessage)
	}
	apps := make([]session.App, len(resp.Apps))
	for i, a := range resp.Apps {
		apps[i] = session.App{
			Name:          a.Name,
			StartCmd:      a.StartCmd,
			StopCmd:       a.StopCmd,
			WorkDirectory: a.WorkDirectory,
		}
	}
	return apps, nil
}

func sessionPath(sessionID string) string {
	return "/v1/sessions/" + url.PathEscape(sessionID)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	target := strings.TrimRight(c.baseURL.String(), "/") + path
	endpoint, _, _ := strings.Cut(path, "?")

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			Path:       endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}
	if out == nil {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return decodeEmpty(out)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeEmpty treats 204 as an implicit {"success": true}.
func decodeEmpty(out any) error {
	return json.Unmarshal([]byte(`{"success":true}`), out)
}
