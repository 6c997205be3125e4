// Package adapter holds the clients of the chain adapters: the BTC adapter
// and the ETH wallet adapter spoken to over HTTP+JSON, and the ethereum
// node reached through JSON-RPC.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultTimeout = 30 * time.Second

// RejectedError is a definitive refusal by the adapter. Retrying the same
// call will not succeed.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "adapter rejected: " + e.Reason }

// CallError is a transport or server failure; the call may be retried.
type CallError struct {
	Method string
	URL    string
	Status int
	Err    error
}

func (e *CallError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// IsRejected reports whether err is a definitive adapter refusal.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

type jsonClient struct {
	base string
	hc   *http.Client
}

func newJSONClient(base string, timeout time.Duration) jsonClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return jsonClient{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: timeout},
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// do sends in as JSON (nil means no body) and decodes the response into
// out. A 4xx answer becomes a RejectedError.
func (c jsonClient) do(ctx context.Context, method, path string, in, out any) error {
	url := c.base + path
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return &CallError{Method: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return &CallError{Method: method, URL: url, Status: resp.StatusCode, Err: err}
	}
	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		reason := eb.Reason
		if reason == "" {
			reason = eb.Error
		}
		if reason == "" {
			reason = strings.TrimSpace(string(raw))
		}
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return &RejectedError{Reason: reason}
	case resp.StatusCode >= 300:
		return &CallError{Method: method, URL: url, Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(raw)))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &CallError{Method: method, URL: url, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
