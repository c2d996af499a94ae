// Package main provides a line-oriented operator console over the WebSocket
// endpoint.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luocen99/opsconsole/internal/adapter/gateway"
	"github.com/luocen99/opsconsole/internal/domain"
)

// Message types
const (
	TypeAttach    = "attach"
	TypeAttachAck = "attach_ack"
	TypeSend      = "send"
	TypeCancel    = "cancel"
	TypeRetry     = "retry"
	TypeError     = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// SendMessage submits a user message.
type SendMessage struct {
	BaseMessage
	Content string `json:"content"`
}

// ErrorMessage represents an error from the server.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client represents a console WebSocket client.
type Client struct {
	conn      *websocket.Conn
	sessionID string
	done      chan struct{}
}

// NewClient creates a new client and connects to the server.
func NewClient(addr string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// Attach binds to a session and waits for the ack.
func (c *Client) Attach(sessionID string) error {
	msg := BaseMessage{
		Type:      TypeAttach,
		Ts:        time.Now().UnixMilli(),
		SessionID: sessionID,
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write attach: %w", err)
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read attach_ack: %w", err)
	}

	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return fmt.Errorf("unmarshal attach_ack: %w", err)
	}

	if base.Type == TypeError {
		var errMsg ErrorMessage
		json.Unmarshal(data, &errMsg)
		return fmt.Errorf("attach failed: %s - %s", errMsg.Code, errMsg.Message)
	}
	if base.Type != TypeAttachAck {
		return fmt.Errorf("expected attach_ack, got: %s", base.Type)
	}

	c.sessionID = base.SessionID
	return nil
}

// Send submits one user message.
func (c *Client) Send(content string) error {
	msg := SendMessage{
		BaseMessage: BaseMessage{
			Type:      TypeSend,
			Ts:        time.Now().UnixMilli(),
			SessionID: c.sessionID,
		},
		Content: content,
	}
	return c.conn.WriteJSON(msg)
}

// Control sends a bare control message (cancel, retry).
func (c *Client) Control(msgType string) error {
	return c.conn.WriteJSON(BaseMessage{
		Type:      msgType,
		Ts:        time.Now().UnixMilli(),
		SessionID: c.sessionID,
	})
}

// ReadMessages reads and renders turn-stream events from the server.
func (c *Client) ReadMessages() {
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Read error: %v", err)
				}
				return
			}
			c.render(data)
		}
	}
}

// render prints one event in a compact operator-friendly form.
func (c *Client) render(data []byte) {
	var ev struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("Unmarshal error: %v", err)
		return
	}

	switch ev.Type {
	case "delta":
		if chunk, ok := ev.Data["contentChunk"].(string); ok {
			fmt.Print(chunk)
		}
	case "thinking_delta":
		// Not rendered inline.
	case "tool_call":
		fmt.Printf("\n[tool] %v\n", ev.Data["tool"])
	case "tool_result":
		fmt.Printf("[tool done]\n")
	case "approval_required":
		fmt.Printf("\n[approval required] ticket=%v risk=%v\n", ev.Data["id"], ev.Data["risk"])
	case "done":
		fmt.Printf("\n[turn %v]\n", ev.Data["stream_state"])
	case TypeError:
		pretty, _ := json.MarshalIndent(ev.Data, "", "  ")
		fmt.Printf("\n[error]\n%s\n", pretty)
	default:
		// meta, heartbeat and friends stay quiet.
	}
}

// previewParams flattens a preview's effective params: the plan's params
// overlaid with any params artifact the gateway attached.
func previewParams(res *domain.CommandResult) map[string]string {
	out := map[string]string{}
	if res.Plan != nil && len(res.Plan.Params) > 0 {
		var planParams map[string]string
		if err := json.Unmarshal(res.Plan.Params, &planParams); err == nil {
			for k, v := range planParams {
				out[k] = v
			}
		}
	}
	if extra, ok := res.Artifacts["params"].(map[string]any); ok {
		for k, v := range extra {
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

// diffParams describes how cur changed relative to prev, one line per added,
// removed or changed key, sorted by key.
func diffParams(prev, cur map[string]string) []string {
	keys := map[string]struct{}{}
	for k := range prev {
		keys[k] = struct{}{}
	}
	for k := range cur {
		keys[k] = struct{}{}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	var lines []string
	for _, k := range names {
		before, had := prev[k]
		after, has := cur[k]
		switch {
		case !had:
			lines = append(lines, fmt.Sprintf("+ %s=%s", k, after))
		case !has:
			lines = append(lines, fmt.Sprintf("- %s", k))
		case before != after:
			lines = append(lines, fmt.Sprintf("~ %s: %s -> %s", k, before, after))
		}
	}
	return lines
}

// lastPreviewParams holds the previous preview's effective params so a
// follow-up preview can show what changed. The input loop is single-threaded.
var lastPreviewParams map[string]string

// runCommand drives the preview/execute/approval flow over the REST gateway.
func runCommand(gw *gateway.Client, input string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	verb, rest, _ := strings.Cut(strings.TrimPrefix(input, "/"), " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "preview":
		res, err := gw.Preview(ctx, &domain.PreviewRequest{Command: rest})
		if err != nil {
			log.Printf("preview error: %v", err)
			return
		}
		fmt.Printf("[%s] risk=%s %s\n", res.Status, res.Risk, res.Summary)
		fmt.Printf("  command_id: %s\n", res.CommandID())
		if len(res.Missing) > 0 {
			fmt.Printf("  missing: %v\n", res.Missing)
		}
		if tok := res.ApprovalToken(); tok != "" {
			fmt.Printf("  approval_token: %s\n", tok)
			fmt.Printf("  ticket_id: %v\n", res.Artifacts["ticket_id"])
		}
		cur := previewParams(res)
		if lastPreviewParams != nil {
			if changes := diffParams(lastPreviewParams, cur); len(changes) > 0 {
				fmt.Println("  changed since last preview:")
				for _, line := range changes {
					fmt.Printf("    %s\n", line)
				}
			}
		}
		lastPreviewParams = cur

	case "execute":
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			fmt.Println("usage: /execute <command_id> [approval_token]")
			return
		}
		req := &domain.ExecuteRequest{CommandID: fields[0], Confirm: true}
		if len(fields) > 1 {
			req.ApprovalToken = fields[1]
		}
		res, err := gw.Execute(ctx, req)
		if err != nil {
			log.Printf("execute error: %v", err)
			return
		}
		fmt.Printf("[%s] %s\n", res.Status, res.Summary)

	case "approve", "reject":
		if rest == "" {
			fmt.Printf("usage: /%s <ticket_id>\n", verb)
			return
		}
		ticket, err := gw.ConfirmApproval(ctx, rest, &domain.ApprovalConfirmRequest{
			Approve:   verb == "approve",
			DecidedBy: "console",
		})
		if err != nil {
			log.Printf("%s error: %v", verb, err)
			return
		}
		fmt.Printf("ticket %s: %s\n", ticket.TicketID, ticket.Status)

	case "history":
		items, err := gw.History(ctx, 20)
		if err != nil {
			log.Printf("history error: %v", err)
			return
		}
		for _, item := range items {
			fmt.Printf("%s  [%s] %s (%s)\n", item.CreatedAt.Format("15:04:05"), item.Status, item.Command, item.Risk)
		}
	}
}

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "console server address")
	apiURL := flag.String("api", "http://localhost:8080", "console REST API base URL")
	session := flag.String("session", "", "session id to attach to (empty for a new one)")
	flag.Parse()

	log.SetFlags(log.Ltime)

	fmt.Printf("Connecting to %s...\n", *addr)

	client, err := NewClient(*addr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	if err := client.Attach(*session); err != nil {
		log.Fatalf("Attach failed: %v", err)
	}

	gw := gateway.NewClient(*apiURL, 30*time.Second)

	fmt.Printf("Session established: %s\n", client.sessionID)
	fmt.Println("\nType a message and press Enter to send.")
	fmt.Println("Commands: /preview <cmd>, /execute <id> [token], /approve <ticket>,")
	fmt.Println("          /reject <ticket>, /history, /cancel, /retry, /quit")

	go client.ReadMessages()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		default:
			if !scanner.Scan() {
				return
			}

			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}

			switch {
			case input == "/quit":
				fmt.Println("Bye!")
				return
			case input == "/cancel":
				if err := client.Control(TypeCancel); err != nil {
					log.Printf("Send error: %v", err)
				}
				continue
			case input == "/retry":
				if err := client.Control(TypeRetry); err != nil {
					log.Printf("Send error: %v", err)
				}
				continue
			case strings.HasPrefix(input, "/"):
				runCommand(gw, input)
				continue
			}

			if err := client.Send(input); err != nil {
				log.Printf("Send error: %v", err)
			}
		}
	}
}
