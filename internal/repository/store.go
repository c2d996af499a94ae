// Package store provides persistence for conversations, command plans,
// history, audit events and approval tickets.
package store

import (
	"context"
	"time"

	"github.com/luocen99/opsconsole/internal/domain"
)

// Store is the persistence interface used by the console services.
type Store interface {
	// Conversations
	GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error)
	SaveConversation(ctx context.Context, conv *domain.Conversation) error

	// Command plans (previews)
	CreatePlan(ctx context.Context, plan *domain.CommandPlan) error
	GetPlan(ctx context.Context, commandID string) (*domain.CommandPlan, error)
	GetPlanByTicket(ctx context.Context, ticketID string) (*domain.CommandPlan, error)
	MarkPlanExecuted(ctx context.Context, commandID string, status domain.CommandStatus, executedAt time.Time) (bool, error)
	SetPlanStatus(ctx context.Context, commandID string, status domain.CommandStatus) error

	// Command history (immutable audit records)
	AppendHistory(ctx context.Context, item *domain.CommandHistoryItem) error
	ListHistory(ctx context.Context, limit int) ([]domain.CommandHistoryItem, error)
	GetHistory(ctx context.Context, commandID string) (*domain.CommandHistoryItem, error)

	// Audit events
	CreateAuditEvent(ctx context.Context, event *domain.AuditEvent) error
	GetAuditEvents(ctx context.Context, commandID string, limit int) ([]domain.AuditEvent, error)

	// Approval tickets
	CreateTicket(ctx context.Context, ticket *domain.ApprovalTicket) error
	GetTicket(ctx context.Context, ticketID string) (*domain.ApprovalTicket, error)
	DecideTicketIfPending(ctx context.Context, ticketID string, status domain.TicketStatus, decidedBy, reason string) (bool, error)
	ListExpiredTickets(ctx context.Context, now time.Time, limit int) ([]domain.ApprovalTicket, error)
	ExpireTicketIfPending(ctx context.Context, ticketID string, reason string) (bool, error)

	Close() error
}
