package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SebastienMelki/notifyguard/internal/auth"
)

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("gateway returned %d: %s (request %s)", e.StatusCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets callers match any API failure with errors.Is(err, ErrUnexpectedAPI).
func (e *APIError) Unwrap() error {
	return ErrUnexpectedAPI
}

// Client is a typed client for the gateway API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	clientID   string
	apiKey     string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClientID sends id as X-Client-ID on every request.
func WithClientID(id string) ClientOption {
	return func(c *Client) {
		c.clientID = id
	}
}

// WithAPIKey authenticates every request with key.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// NewClient creates a client for the gateway at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check classifies a notification.
func (c *Client) Check(ctx context.Context, req CheckRequest) (*CheckResponse, error) {
	var out CheckResponse
	if err := c.do(ctx, http.MethodPost, "/v1/checks", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Block blocks content.
func (c *Client) Block(ctx context.Context, req ContentRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/blocks", req, nil)
}

// Unblock forgets content and reports whether it was known.
func (c *Client) Unblock(ctx context.Context, req ContentRequest) (bool, error) {
	var out UnblockResponse
	if err := c.do(ctx, http.MethodPost, "/v1/unblocks", req, &out); err != nil {
		return false, err
	}
	return out.Existed, nil
}

// Similarity scores two strings on the gateway.
func (c *Client) Similarity(ctx context.Context, req SimilarityRequest) (*SimilarityResponse, error) {
	var out SimilarityResponse
	if err := c.do(ctx, http.MethodPost, "/v1/similarity", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetConfig returns the policy configuration.
func (c *Client) GetConfig(ctx context.Context) (*ConfigDTO, error) {
	var out ConfigDTO
	if err := c.do(ctx, http.MethodGet, "/v1/config", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateConfig applies a partial policy update and returns the result.
func (c *Client) UpdateConfig(ctx context.Context, patch ConfigPatch) (*ConfigDTO, error) {
	var out ConfigDTO
	if err := c.do(ctx, http.MethodPatch, "/v1/config", patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns the dedup counters.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var out StatsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.clientID != "" {
		req.Header.Set(ClientIDHeader, c.clientID)
	}
	if c.apiKey != "" {
		req.Header.Set(auth.HeaderAPIKey, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get(RequestIDHeader),
		}
		var er ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != "" {
			apiErr.Message = er.Error
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
