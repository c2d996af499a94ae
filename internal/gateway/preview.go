package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/luocen99/opsconsole/internal/domain"
)

// Preview classifies a command and persists a redeemable plan. Every call
// mints a fresh command_id; a prior preview is never reused.
func (s *Service) Preview(ctx context.Context, req *domain.PreviewRequest) (*domain.CommandResult, error) {
	commandID := "cmd_" + uuid.New().String()[:8]
	traceID := "tr_" + uuid.New().String()[:8]
	now := time.Now()

	parsed := ParseCommand(req.Command, req.Context)
	if parsed == nil {
		plan := &domain.CommandPlan{
			CommandID: commandID,
			Command:   req.Command,
			Action:    "unknown",
			Risk:      domain.RiskLow,
			Mode:      domain.TicketModeReadonly,
			Status:    domain.CommandStatusBlocked,
			TraceID:   traceID,
			CreatedAt: now,
		}
		if err := s.store.CreatePlan(ctx, plan); err != nil {
			return nil, fmt.Errorf("failed to create plan: %w", err)
		}
		s.recordAudit(ctx, commandID, domain.AuditBlocked, map[string]string{
			"command": req.Command,
			"reason":  "unrecognized command",
		})
		return &domain.CommandResult{
			Status:    domain.CommandStatusBlocked,
			Summary:   "unrecognized command",
			Artifacts: map[string]any{"command_id": commandID},
			TraceID:   traceID,
		}, nil
	}

	// Risk classification via OPA
	policyInput := map[string]interface{}{
		"action":  parsed.Spec.Action,
		"user_id": req.Context["user"],
	}
	paramsMap := map[string]interface{}{}
	for k, v := range parsed.Params {
		paramsMap[k] = v
	}
	policyInput["params"] = paramsMap

	decision, err := s.policyEngine.Evaluate(ctx, policyInput)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}

	plan := &domain.CommandPlan{
		CommandID: commandID,
		Command:   req.Command,
		Intent:    parsed.Spec.Summary,
		Action:    parsed.Spec.Action,
		Params:    parsed.ParamsJSON(),
		Risk:      domain.Risk(decision.Risk),
		Mode:      parsed.Spec.Mode,
		Status:    domain.CommandStatusPreviewed,
		Missing:   parsed.Missing,
		TraceID:   traceID,
		CreatedAt: now,
	}

	if decision.Decision == "block" {
		plan.Status = domain.CommandStatusBlocked
		if err := s.store.CreatePlan(ctx, plan); err != nil {
			return nil, fmt.Errorf("failed to create plan: %w", err)
		}
		s.recordAudit(ctx, commandID, domain.AuditBlocked, map[string]string{
			"action": plan.Action,
			"reason": decision.Reason,
		})
		return &domain.CommandResult{
			Status:    domain.CommandStatusBlocked,
			Summary:   decision.Reason,
			Artifacts: map[string]any{"command_id": commandID},
			Risk:      plan.Risk,
			Plan:      &domain.PlanView{Action: plan.Action, Params: plan.Params},
			TraceID:   traceID,
		}, nil
	}

	artifacts := map[string]any{"command_id": commandID}

	if decision.Decision == "require_approval" {
		ticket := &domain.ApprovalTicket{
			TicketID:  "tic_" + uuid.New().String()[:8],
			Tool:      plan.Action,
			Params:    plan.Params,
			Risk:      plan.Risk,
			Mode:      plan.Mode,
			Status:    domain.TicketStatusPending,
			CreatedAt: now,
			ExpiresAt: now.Add(s.config.ApprovalTTL),
		}
		if err := s.store.CreateTicket(ctx, ticket); err != nil {
			return nil, fmt.Errorf("failed to create approval ticket: %w", err)
		}
		plan.ApprovalToken = "tok_" + uuid.New().String()
		plan.TicketID = ticket.TicketID
		artifacts["approval_token"] = plan.ApprovalToken
		artifacts["ticket_id"] = ticket.TicketID
	}

	if err := s.store.CreatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}

	s.recordAudit(ctx, commandID, domain.AuditPreviewed, map[string]interface{}{
		"action": plan.Action,
		"risk":   decision.Risk,
		"params": json.RawMessage(orEmptyObject(plan.Params)),
	})
	if plan.TicketID != "" {
		s.recordAudit(ctx, commandID, domain.AuditApprovalRequired, map[string]string{
			"ticket_id": plan.TicketID,
			"reason":    decision.Reason,
		})
	}

	summary := parsed.Spec.Summary
	if len(plan.Missing) > 0 {
		summary = fmt.Sprintf("%s (missing: %v)", summary, plan.Missing)
	}

	return &domain.CommandResult{
		Status:    domain.CommandStatusPreviewed,
		Summary:   summary,
		Artifacts: artifacts,
		Risk:      plan.Risk,
		Plan:      &domain.PlanView{Action: plan.Action, Params: plan.Params},
		Missing:   plan.Missing,
		TraceID:   traceID,
	}, nil
}

func orEmptyObject(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}
