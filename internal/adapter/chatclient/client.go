// Package chatclient provides the HTTP client that opens streamed turn
// connections against the chat backend.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/luocen99/opsconsole/internal/domain"
)

// Client opens turn streams over HTTP server-push.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new chat stream client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // Long timeout for streaming
		},
	}
}

// OpenTurnStream posts the user message and returns the raw event stream.
// The caller owns the returned body; cancelling ctx aborts the read.
func (c *Client) OpenTurnStream(ctx context.Context, req domain.SendRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/turns/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Session-ID", req.SessionID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to open turn stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("chat backend returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return resp.Body, nil
}
