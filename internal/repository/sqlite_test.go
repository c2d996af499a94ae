package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/luocen99/opsconsole/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConversationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetConversation(ctx, "missing")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing conversation, got %+v", got)
	}

	now := time.Now().UTC().Truncate(time.Second)
	conv := &domain.Conversation{
		SessionID: "s1",
		Messages: []domain.Message{
			{MessageID: "msg_1", Role: "user", Content: "restart payments", Timestamp: now},
			{MessageID: "msg_2", Role: "assistant", Content: "done", Timestamp: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.SaveConversation(ctx, conv); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	got, err = s.GetConversation(ctx, "s1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got == nil || len(got.Messages) != 2 {
		t.Fatalf("unexpected conversation: %+v", got)
	}
	if got.Messages[1].Content != "done" {
		t.Fatalf("unexpected message content %q", got.Messages[1].Content)
	}

	// Upsert replaces the snapshot.
	conv.Messages = append(conv.Messages, domain.Message{MessageID: "msg_3", Role: "user", Content: "again", Timestamp: now})
	conv.UpdatedAt = now.Add(time.Minute)
	if err := s.SaveConversation(ctx, conv); err != nil {
		t.Fatalf("SaveConversation upsert: %v", err)
	}
	got, err = s.GetConversation(ctx, "s1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("expected 3 messages after upsert, got %d", len(got.Messages))
	}
}

func TestPlanLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	plan := &domain.CommandPlan{
		CommandID: "cmd_aaaa1111",
		Command:   "restart payments in staging",
		Intent:    "svc.restart",
		Action:    "svc.restart",
		Params:    json.RawMessage(`{"service":"payments","env":"staging"}`),
		Risk:      domain.RiskMedium,
		Mode:      domain.TicketModeMutating,
		Status:    domain.CommandStatusPreviewed,
		TraceID:   "tr_1",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreatePlan(ctx, plan); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	got, err := s.GetPlan(ctx, plan.CommandID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got == nil || got.Action != "svc.restart" || got.Risk != domain.RiskMedium {
		t.Fatalf("unexpected plan: %+v", got)
	}
	if got.ExecutedAt != nil {
		t.Fatalf("fresh plan should not carry executed_at")
	}

	ok, err := s.MarkPlanExecuted(ctx, plan.CommandID, domain.CommandStatusSucceeded, time.Now().UTC())
	if err != nil {
		t.Fatalf("MarkPlanExecuted: %v", err)
	}
	if !ok {
		t.Fatalf("first execution should win the conditional update")
	}

	// Second redemption of the same command_id must lose.
	ok, err = s.MarkPlanExecuted(ctx, plan.CommandID, domain.CommandStatusSucceeded, time.Now().UTC())
	if err != nil {
		t.Fatalf("MarkPlanExecuted again: %v", err)
	}
	if ok {
		t.Fatalf("duplicate execution should not win the conditional update")
	}

	got, err = s.GetPlan(ctx, plan.CommandID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got.Status != domain.CommandStatusSucceeded || got.ExecutedAt == nil {
		t.Fatalf("unexpected executed plan: %+v", got)
	}
}

func TestPlanMissingParams(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	plan := &domain.CommandPlan{
		CommandID: "cmd_bbbb2222",
		Command:   "restart payments",
		Action:    "svc.restart",
		Risk:      domain.RiskMedium,
		Mode:      domain.TicketModeMutating,
		Status:    domain.CommandStatusPreviewed,
		Missing:   []string{"env"},
		TraceID:   "tr_2",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreatePlan(ctx, plan); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	got, err := s.GetPlan(ctx, plan.CommandID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if len(got.Missing) != 1 || got.Missing[0] != "env" {
		t.Fatalf("missing params not preserved: %+v", got.Missing)
	}
}

func TestHistoryOrderAndDetail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"cmd_1", "cmd_2", "cmd_3"} {
		plan := &domain.CommandPlan{
			CommandID: id, Command: "c", Action: "svc.restart",
			Risk: domain.RiskLow, Mode: domain.TicketModeMutating,
			Status: domain.CommandStatusPreviewed, TraceID: "tr", CreatedAt: base,
		}
		if err := s.CreatePlan(ctx, plan); err != nil {
			t.Fatalf("CreatePlan: %v", err)
		}
		item := &domain.CommandHistoryItem{
			CommandID: id, Command: "c", Risk: domain.RiskLow,
			Status: domain.CommandStatusSucceeded, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendHistory(ctx, item); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	items, err := s.ListHistory(ctx, 2)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].CommandID != "cmd_3" || items[1].CommandID != "cmd_2" {
		t.Fatalf("history not newest-first: %s, %s", items[0].CommandID, items[1].CommandID)
	}

	got, err := s.GetHistory(ctx, "cmd_2")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if got == nil || got.CommandID != "cmd_2" {
		t.Fatalf("unexpected history item: %+v", got)
	}

	got, err = s.GetHistory(ctx, "cmd_nope")
	if err != nil {
		t.Fatalf("GetHistory missing: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing record, got %+v", got)
	}
}

func TestAuditEventsArrivalOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	events := []domain.AuditEvent{
		{EventID: "ev_1", CommandID: "cmd_x", Ts: 1000, Type: domain.AuditPreviewed},
		{EventID: "ev_2", CommandID: "cmd_x", Ts: 2000, Type: domain.AuditExecuted, Payload: json.RawMessage(`{"ok":true}`)},
		{EventID: "ev_3", CommandID: "cmd_y", Ts: 1500, Type: domain.AuditPreviewed},
	}
	for i := range events {
		if err := s.CreateAuditEvent(ctx, &events[i]); err != nil {
			t.Fatalf("CreateAuditEvent: %v", err)
		}
	}

	got, err := s.GetAuditEvents(ctx, "cmd_x", 0)
	if err != nil {
		t.Fatalf("GetAuditEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events for cmd_x, got %d", len(got))
	}
	if got[0].Type != domain.AuditPreviewed || got[1].Type != domain.AuditExecuted {
		t.Fatalf("events out of order: %+v", got)
	}
	if string(got[1].Payload) != `{"ok":true}` {
		t.Fatalf("payload not preserved: %s", got[1].Payload)
	}
}

func TestTicketDecisionIsSingleShot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	ticket := &domain.ApprovalTicket{
		TicketID:  "tic_1",
		Tool:      "host.restart",
		Params:    json.RawMessage(`{"host":"db-3"}`),
		Risk:      domain.RiskHigh,
		Mode:      domain.TicketModeMutating,
		Status:    domain.TicketStatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(5 * time.Minute),
	}
	if err := s.CreateTicket(ctx, ticket); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	ok, err := s.DecideTicketIfPending(ctx, "tic_1", domain.TicketStatusApproved, "alice", "verified change window")
	if err != nil {
		t.Fatalf("DecideTicketIfPending: %v", err)
	}
	if !ok {
		t.Fatalf("first decision should apply")
	}

	ok, err = s.DecideTicketIfPending(ctx, "tic_1", domain.TicketStatusRejected, "bob", "")
	if err != nil {
		t.Fatalf("DecideTicketIfPending again: %v", err)
	}
	if ok {
		t.Fatalf("second decision must not apply")
	}

	got, err := s.GetTicket(ctx, "tic_1")
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if got.Status != domain.TicketStatusApproved || got.DecidedBy != "alice" {
		t.Fatalf("unexpected ticket after decision: %+v", got)
	}
	if got.DecidedAt == nil {
		t.Fatalf("decided_at not recorded")
	}
}

func TestExpiredTicketSweep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	stale := &domain.ApprovalTicket{
		TicketID: "tic_old", Tool: "cfg.write", Risk: domain.RiskHigh,
		Mode: domain.TicketModeMutating, Status: domain.TicketStatusPending,
		CreatedAt: now.Add(-10 * time.Minute), ExpiresAt: now.Add(-time.Minute),
	}
	fresh := &domain.ApprovalTicket{
		TicketID: "tic_new", Tool: "cfg.write", Risk: domain.RiskHigh,
		Mode: domain.TicketModeMutating, Status: domain.TicketStatusPending,
		CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute),
	}
	for _, tk := range []*domain.ApprovalTicket{stale, fresh} {
		if err := s.CreateTicket(ctx, tk); err != nil {
			t.Fatalf("CreateTicket: %v", err)
		}
	}

	expired, err := s.ListExpiredTickets(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListExpiredTickets: %v", err)
	}
	if len(expired) != 1 || expired[0].TicketID != "tic_old" {
		t.Fatalf("unexpected expired set: %+v", expired)
	}

	ok, err := s.ExpireTicketIfPending(ctx, "tic_old", "approval window elapsed")
	if err != nil {
		t.Fatalf("ExpireTicketIfPending: %v", err)
	}
	if !ok {
		t.Fatalf("expected pending ticket to expire")
	}

	got, err := s.GetTicket(ctx, "tic_old")
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if got.Status != domain.TicketStatusExpired {
		t.Fatalf("unexpected status %s", got.Status)
	}

	// Sweeping again is a no-op.
	ok, err = s.ExpireTicketIfPending(ctx, "tic_old", "approval window elapsed")
	if err != nil {
		t.Fatalf("ExpireTicketIfPending again: %v", err)
	}
	if ok {
		t.Fatalf("expired ticket must not expire twice")
	}
}
