// Package gateway provides the REST client for the command gateway:
// preview/execute round trips, history replay and approval tickets.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/luocen99/opsconsole/internal/domain"
)

// Client is the command gateway client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new gateway client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Preview classifies a command and mints a fresh command_id. Every call
// produces a new plan; a prior command_id is never reused.
func (c *Client) Preview(ctx context.Context, req *domain.PreviewRequest) (*domain.CommandResult, error) {
	var result domain.CommandResult
	if err := c.post(ctx, "/v1/commands/preview", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Execute redeems a previewed command_id, exactly once.
func (c *Client) Execute(ctx context.Context, req *domain.ExecuteRequest) (*domain.CommandResult, error) {
	var result domain.CommandResult
	if err := c.post(ctx, "/v1/commands/execute", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// History returns the most recent audit records.
func (c *Client) History(ctx context.Context, limit int) ([]domain.CommandHistoryItem, error) {
	path := "/v1/commands/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var items []domain.CommandHistoryItem
	if err := c.get(ctx, path, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// HistoryDetail returns one audit record with its replayable event trace.
func (c *Client) HistoryDetail(ctx context.Context, commandID string) (*domain.HistoryDetail, error) {
	var detail domain.HistoryDetail
	if err := c.get(ctx, "/v1/commands/history/"+commandID, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// CreateApproval mints a pending approval ticket.
func (c *Client) CreateApproval(ctx context.Context, req *domain.ApprovalCreateRequest) (*domain.ApprovalTicket, error) {
	var ticket domain.ApprovalTicket
	if err := c.post(ctx, "/v1/approvals", req, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// ConfirmApproval decides a pending ticket.
func (c *Client) ConfirmApproval(ctx context.Context, ticketID string, req *domain.ApprovalConfirmRequest) (*domain.ApprovalTicket, error) {
	var ticket domain.ApprovalTicket
	if err := c.post(ctx, "/v1/approvals/"+ticketID+"/confirm", req, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (c *Client) post(ctx context.Context, path string, req, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(httpReq, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway error [%d]: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
