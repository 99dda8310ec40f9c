package uiautomator2

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/devicelab-dev/uisync/pkg/logger"
)

// DefaultHTTPTimeout bounds a single HTTP round trip.
const DefaultHTTPTimeout = 30 * time.Second

// Client communicates with UIAutomator2 server.
type Client struct {
	http       *http.Client
	baseURL    string
	sessionID  string
	socketPath string
	logger     *slog.Logger
}

// NewClient creates a client using Unix socket (Linux/Mac).
func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   DefaultHTTPTimeout,
		},
		baseURL:    "http://localhost",
		socketPath: socketPath,
		logger:     logger.Default(),
	}
}

// NewClientTCP creates a client using TCP port (Windows).
func NewClientTCP(port int) *Client {
	return NewClientURL(fmt.Sprintf("http://127.0.0.1:%d", port))
}

// NewClientURL creates a client for an arbitrary base URL.
func NewClientURL(baseURL string) *Client {
	return &Client{
		http: &http.Client{
			Timeout: DefaultHTTPTimeout,
		},
		baseURL: baseURL,
		logger:  logger.Default(),
	}
}

// SetLogger sets the logger used for request timing.
func (c *Client) SetLogger(l *slog.Logger) {
	c.logger = logger.OrDiscard(l)
}

// SessionID returns the current session ID.
func (c *Client) SessionID() string {
	return c.sessionID
}

// HasSession returns true if a session is active.
func (c *Client) HasSession() bool {
	return c.sessionID != ""
}

// request makes an HTTP request to UIAutomator2.
func (c *Client) request(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	start := time.Now()

	var reqBody io.Reader
	var bodyStr string
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
		bodyStr = string(data)
		if len(bodyStr) > 100 {
			bodyStr = bodyStr[:100] + "..."
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Debug("uia2 request failed", "method", method, "path", path, "elapsed", elapsed, "error", err)
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("uia2 request", "method", method, "path", path, "elapsed", elapsed, "status", resp.StatusCode, "body", bodyStr)

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Value.Error != "" {
			return nil, fmt.Errorf("%s: %s", errResp.Value.Error, errResp.Value.Message)
		}
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// sessionPath returns path with session ID prefix.
func (c *Client) sessionPath(path string) string {
	return fmt.Sprintf("/session/%s%s", c.sessionID, path)
}

// Status checks if the server is ready.
func (c *Client) Status(ctx context.Context) (bool, error) {
	data, err := c.request(ctx, "GET", "/status", nil)
	if err != nil {
		return false, err
	}

	var resp struct {
		Value struct {
			Ready   bool   `json:"ready"`
			Message string `json:"message"`
		} `json:"value"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return false, err
	}

	return resp.Value.Ready, nil
}

// CreateSession starts a new automation session.
func (c *Client) CreateSession(ctx context.Context, caps Capabilities) error {
	req := SessionRequest{Capabilities: caps}
	data, err := c.request(ctx, "POST", "/session", req)
	if err != nil {
		return err
	}

	var resp struct {
		SessionID string `json:"sessionId"`
		Value     struct {
			SessionID string `json:"sessionId"`
		} `json:"value"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("parse session response: %w", err)
	}

	id := resp.SessionID
	if id == "" {
		id = resp.Value.SessionID
	}
	if id == "" {
		return fmt.Errorf("no session ID in response")
	}

	c.sessionID = id
	return nil
}

// DeleteSession ends the current session.
func (c *Client) DeleteSession(ctx context.Context) error {
	if c.sessionID == "" {
		return nil
	}

	_, err := c.request(ctx, "DELETE", c.sessionPath(""), nil)
	c.sessionID = ""
	return err
}

// Source returns the window hierarchy as XML.
func (c *Client) Source(ctx context.Context) (string, error) {
	if c.sessionID == "" {
		return "", fmt.Errorf("no active session")
	}

	data, err := c.request(ctx, "GET", c.sessionPath("/source"), nil)
	if err != nil {
		return "", err
	}

	var resp struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("parse source response: %w", err)
	}
	return resp.Value, nil
}

// PressKeyCode sends a key event.
func (c *Client) PressKeyCode(ctx context.Context, keyCode int) error {
	if c.sessionID == "" {
		return fmt.Errorf("no active session")
	}

	_, err := c.request(ctx, "POST", c.sessionPath("/appium/device/press_keycode"), KeyCodeRequest{KeyCode: keyCode})
	return err
}

// GetSettings returns the server settings.
func (c *Client) GetSettings(ctx context.Context) (map[string]interface{}, error) {
	if c.sessionID == "" {
		return nil, fmt.Errorf("no active session")
	}

	data, err := c.request(ctx, "GET", c.sessionPath("/appium/settings"), nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Value map[string]interface{} `json:"value"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse settings response: %w", err)
	}
	return resp.Value, nil
}

// UpdateSettings changes server settings.
func (c *Client) UpdateSettings(ctx context.Context, settings map[string]interface{}) error {
	if c.sessionID == "" {
		return fmt.Errorf("no active session")
	}

	_, err := c.request(ctx, "POST", c.sessionPath("/appium/settings"), SettingsRequest{Settings: settings})
	return err
}
