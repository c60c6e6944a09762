// Package remote talks to the document store over plain request/response
// HTTP. There is no subscription channel; the store is always observed
// by snapshotting the full file list.
package remote

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

	"github.com/madebyisaacr/codesync/internal/syncerr"
	"github.com/tidwall/gjson"
)

// Client talks to the remote document store.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	timeout    time.Duration
}

// NewClient creates a store client. If httpClient is nil,
// http.DefaultClient is used. timeout bounds each individual request;
// a request exceeding it reports the store as unavailable rather than
// hanging.
func NewClient(httpClient *http.Client, baseURL, token string, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
		timeout:    timeout,
	}
}

// do sends one request and decodes a JSON response into result (when
// non-nil). Failures map onto the shared taxonomy: transport errors and
// timeouts become ErrRemoteUnavailable, non-2xx responses become
// ErrRemoteError carrying the body's error field when one is present.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("request to %s: %w", path, err)
		}

		return fmt.Errorf("%w: %s %s: %v", syncerr.ErrRemoteUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response from %s: %v", syncerr.ErrRemoteUnavailable, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The store reports errors as {"error": "..."} but other
		// shapes show up behind proxies; gjson tolerates both.
		if msg := gjson.GetBytes(respBody, "error").Str; msg != "" {
			return fmt.Errorf("%w: %s %s (%d): %s", syncerr.ErrRemoteError, method, path, resp.StatusCode, msg)
		}

		return fmt.Errorf("%w: %s %s returned status %d", syncerr.ErrRemoteError, method, path, resp.StatusCode)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%w: decoding response from %s: %v", syncerr.ErrRemoteError, path, err)
		}
	}

	return nil
}

// ListFiles returns the complete current snapshot of the store. The
// caller treats absence from this list as "does not exist remotely", so
// a partial listing is never acceptable; any failure returns an error
// and no files.
func (c *Client) ListFiles(ctx context.Context) ([]File, error) {
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/files", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	return resp.Files, nil
}

// CreateOrUpdate writes a document's full content under its name,
// creating it if the store has no document with that name.
func (c *Client) CreateOrUpdate(ctx context.Context, name, content string) error {
	req := upsertRequest{Content: content}

	if err := c.do(ctx, http.MethodPut, "/files/"+url.PathEscape(name), req, nil); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}

	return nil
}

// Delete removes a document by name. The engine only calls this when
// the file is already gone from both sides, so a 404 from the store is
// treated as success.
func (c *Client) Delete(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodDelete, "/files/"+url.PathEscape(name), nil, nil)
	if err == nil {
		return nil
	}

	if errors.Is(err, syncerr.ErrRemoteError) && strings.Contains(err.Error(), "404") {
		return nil
	}

	return fmt.Errorf("deleting %s: %w", name, err)
}
