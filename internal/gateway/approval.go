package gateway

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/luocen99/opsconsole/internal/domain"
)

// CreateApproval mints a standalone pending ticket for a tool invocation that
// arrived outside the preview flow (e.g. surfaced by an approval_required
// stream event).
func (s *Service) CreateApproval(ctx context.Context, req *domain.ApprovalCreateRequest) (*domain.ApprovalTicket, error) {
	if req.Tool == "" {
		return nil, fmt.Errorf("tool is required")
	}

	mode := domain.TicketModeMutating
	risk := domain.RiskHigh
	if spec, ok := catalog[req.Tool]; ok {
		mode = spec.Mode
		decision, err := s.policyEngine.Evaluate(ctx, map[string]interface{}{
			"action": spec.Action,
			"params": map[string]interface{}{},
		})
		if err != nil {
			return nil, fmt.Errorf("policy evaluation failed: %w", err)
		}
		risk = domain.Risk(decision.Risk)
	}

	now := time.Now()
	ticket := &domain.ApprovalTicket{
		TicketID:  "tic_" + uuid.New().String()[:8],
		Tool:      req.Tool,
		Params:    req.Params,
		Risk:      risk,
		Mode:      mode,
		Status:    domain.TicketStatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.ApprovalTTL),
	}
	if err := s.store.CreateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("failed to create approval ticket: %w", err)
	}
	return ticket, nil
}

// ConfirmApproval decides a pending ticket. The decision applies at most once.
func (s *Service) ConfirmApproval(ctx context.Context, ticketID string, req *domain.ApprovalConfirmRequest) (*domain.ApprovalTicket, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get approval ticket: %w", err)
	}
	if ticket == nil {
		return nil, fmt.Errorf("approval ticket not found")
	}

	now := time.Now()
	if ticket.Status == domain.TicketStatusPending && ticket.Expired(now) {
		if ok, _ := s.store.ExpireTicketIfPending(ctx, ticketID, "approval window elapsed"); ok {
			s.auditTicket(ctx, ticketID, domain.AuditApprovalExpired, map[string]string{
				"ticket_id": ticketID,
			})
		}
		return nil, fmt.Errorf("approval ticket expired")
	}

	status := domain.TicketStatusApproved
	if !req.Approve {
		status = domain.TicketStatusRejected
	}

	ok, err := s.store.DecideTicketIfPending(ctx, ticketID, status, req.DecidedBy, req.Reason)
	if err != nil {
		return nil, fmt.Errorf("failed to decide approval: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("approval is not pending")
	}

	s.auditTicket(ctx, ticketID, domain.AuditApprovalDecision, map[string]string{
		"ticket_id":  ticketID,
		"decision":   string(status),
		"decided_by": req.DecidedBy,
		"reason":     req.Reason,
	})

	decided, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get approval ticket: %w", err)
	}
	return decided, nil
}

// auditTicket records a ticket event against its owning command, if the
// ticket was minted by a preview.
func (s *Service) auditTicket(ctx context.Context, ticketID string, eventType domain.AuditEventType, payload interface{}) {
	plan, err := s.store.GetPlanByTicket(ctx, ticketID)
	if err != nil || plan == nil {
		return
	}
	if err := s.recordAudit(ctx, plan.CommandID, eventType, payload); err != nil {
		log.Printf("WARN: failed to record ticket event %s: %v", ticketID, err)
	}
}

// RunTicketExpiryMonitor sweeps pending tickets past their deadline until the
// context is cancelled.
func (s *Service) RunTicketExpiryMonitor(ctx context.Context) {
	ticker := time.NewTicker(s.config.TicketSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpiredTickets(ctx)
		}
	}
}

func (s *Service) sweepExpiredTickets(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	expired, err := s.store.ListExpiredTickets(sweepCtx, time.Now(), 100)
	if err != nil {
		log.Printf("WARN: ticket expiry sweep failed: %v", err)
		return
	}

	for _, ticket := range expired {
		ok, err := s.store.ExpireTicketIfPending(sweepCtx, ticket.TicketID, "approval window elapsed")
		if err != nil {
			log.Printf("WARN: failed to expire ticket %s: %v", ticket.TicketID, err)
			continue
		}
		if !ok {
			continue
		}
		s.auditTicket(sweepCtx, ticket.TicketID, domain.AuditApprovalExpired, map[string]string{
			"ticket_id": ticket.TicketID,
		})
	}
}
