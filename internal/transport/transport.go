// Package transport executes raw HTTP calls against the notepad backend.
// The sync core never inspects anything beyond status code and body.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout applies when the caller's context carries no deadline.
const DefaultTimeout = 15 * time.Second

// Response is a successful (non-error status) HTTP exchange.
type Response struct {
	Status int
	Body   []byte
}

// Decode unmarshals the response body into out.
func (r *Response) Decode(out any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("transport: decode response: %w", err)
	}
	return nil
}

// StatusError is an HTTP error response (4xx/5xx). Anything else returned by
// Execute is a network-level failure and eligible for retry.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: http %d", e.Status)
}

// IsNetwork reports whether err is a retryable network-level failure: any
// failure that produced no HTTP response, except caller-initiated
// cancellation.
func IsNetwork(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Transport executes a single HTTP call. Implementations must return
// *StatusError for non-2xx responses.
type Transport interface {
	Execute(ctx context.Context, method, path string, body any, headers map[string]string) (*Response, error)
}

// HTTP is the production Transport backed by net/http.
type HTTP struct {
	base    string
	client  *http.Client
	timeout time.Duration
}

// NewHTTP creates a Transport for the given base URL. timeout <= 0 means
// DefaultTimeout.
func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTP{
		base:    baseURL,
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Execute performs one HTTP call. body, if non-nil, is JSON-encoded.
func (t *HTTP) Execute(ctx context.Context, method, path string, body any, headers map[string]string) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("transport: encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &StatusError{Status: resp.StatusCode, Body: data}
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}
