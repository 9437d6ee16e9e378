// Package apiclient implements the CLI's HTTP client to a running
// dispatchd coordinator, mirroring the donor's UDSClient.Call JSON-RPC
// request/response shape but retargeted from a Unix socket to HTTP POST
// /rpc (spec.md §6 "operator CLI").
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Command mirrors control.Command without importing internal/control, to
// keep the CLI's dependency surface limited to the wire shape.
type Command struct {
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
	ID     string      `json:"id,omitempty"`
}

// ErrorInfo mirrors control.ErrorInfo.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response mirrors control.Response.
type Response struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorInfo      `json:"error,omitempty"`
}

// Client talks to a dispatchd coordinator's /rpc endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client targeting baseURL (e.g. "http://127.0.0.1:8089").
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Call posts method/params to /rpc and returns the decoded Response. A
// non-nil Response.Error means the coordinator understood the request but
// rejected it (see internal/control's status-code mapping for the HTTP
// status, which Call ignores in favor of the structured body).
func (c *Client) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	reqID := fmt.Sprintf("cli-%d", time.Now().UnixNano())

	body, err := json.Marshal(Command{Method: method, Params: params, ID: reqID})
	if err != nil {
		return nil, fmt.Errorf("apiclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("apiclient: decode response: %w", err)
	}
	return &out, nil
}

// Into calls method and unmarshals a successful Result into v.
func (c *Client) Into(ctx context.Context, method string, params interface{}, v interface{}) error {
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
	}
	if v == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, v)
}

// Ping checks that the coordinator is reachable and responsive.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("apiclient: build healthz request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: healthz request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("apiclient: healthz returned status %d", resp.StatusCode)
	}
	return nil
}
