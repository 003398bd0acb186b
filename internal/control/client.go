package control

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Client talks to a running engine's control API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for addr ("127.0.0.1:7787" or a full URL).
func NewClient(addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Status returns the engine snapshot.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Intervention returns the active intervention, or nil when none is presented.
func (c *Client) Intervention(ctx context.Context) (*Intervention, error) {
	var iv Intervention
	status, err := c.do(ctx, http.MethodGet, "/api/v1/intervention", nil, &iv)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &iv, nil
}

// Dismiss acknowledges a plain intervention.
func (c *Client) Dismiss(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/intervention/dismiss", nil, nil)
	return err
}

// SubmitPassword submits a password for the active intervention.
func (c *Client) SubmitPassword(ctx context.Context, password string) (bool, error) {
	var resp passwordResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/intervention/password", passwordRequest{Password: password}, &resp); err != nil {
		return false, err
	}
	return resp.Accepted, nil
}

// ForgotPassword dismisses a password intervention and redirects to management.
func (c *Client) ForgotPassword(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/intervention/forgot", nil, nil)
	return err
}

// ResetCounters clears the counters of one package.
func (c *Client) ResetCounters(ctx context.Context, packageID string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/policies/"+url.PathEscape(packageID)+"/reset", nil, nil)
	return err
}

// ReportForeground pushes a foreground transition. An empty package marks
// the foreground unknown; a zero time means now.
func (c *Client) ReportForeground(ctx context.Context, packageID string, at time.Time) error {
	req := foregroundRequest{PackageID: packageID}
	if !at.IsZero() {
		req.At = &at
	}
	_, err := c.do(ctx, http.MethodPost, "/api/v1/foreground", req, nil)
	return err
}

// do sends a request and decodes a 2xx body into out. Non-2xx responses are
// returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("engine not reachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = CodeInternal
			apiErr.Message = resp.Status
		}
		return resp.StatusCode, apiErr
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
