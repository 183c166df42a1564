// Package client provides the carrier REST client shared by the provider
// adapters: authenticated JSON/form requests with typed API errors.
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
)

// Client is a thin authenticated HTTP client for a carrier API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authorize  func(*http.Request)
}

// Option configures the Client.
type Option func(*Client)

// WithBasicAuth authenticates requests with HTTP basic auth.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.authorize = func(r *http.Request) { r.SetBasicAuth(username, password) }
	}
}

// WithBearer authenticates requests with a bearer token.
func WithBearer(token string) Option {
	return func(c *Client) {
		c.authorize = func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		authorize:  func(*http.Request) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx carrier API response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("carrier api error %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a carrier 404. Idempotent cleanup calls
// (hangup, stop-listening) treat it as success.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status == http.StatusNotFound
}

// Get performs a GET request, decoding a JSON response into out when non-nil.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// PostForm performs a form-encoded POST, decoding a JSON response.
func (c *Client) PostForm(ctx context.Context, path string, data url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

// PostJSON performs a JSON POST, decoding a JSON response.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	c.authorize(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

// errorMessage pulls a human-readable message out of a carrier error body,
// falling back to the raw body.
func errorMessage(body []byte) string {
	var generic struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Errors  []struct {
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &generic); err == nil {
		switch {
		case generic.Message != "":
			return generic.Message
		case generic.Error != "":
			return generic.Error
		case len(generic.Errors) > 0 && generic.Errors[0].Detail != "":
			return generic.Errors[0].Detail
		}
	}
	return strings.TrimSpace(string(body))
}
