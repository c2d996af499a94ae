package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/luocen99/opsconsole/internal/domain"
)

// Execute redeems a previewed command_id. The conditional plan update is the
// idempotency boundary: exactly one call wins it, every later call with the
// same command_id replays the recorded outcome without side effects.
//
// Rejections (unknown command_id, blocked plan, missing params, missing
// confirm, approval failures) come back as a blocked CommandResult, never as
// an error; errors are reserved for infrastructure faults.
func (s *Service) Execute(ctx context.Context, req *domain.ExecuteRequest) (*domain.CommandResult, error) {
	plan, err := s.store.GetPlan(ctx, req.CommandID)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	if plan == nil {
		return &domain.CommandResult{
			Status:    domain.CommandStatusBlocked,
			Summary:   fmt.Sprintf("unknown command_id %s", req.CommandID),
			Artifacts: map[string]any{"command_id": req.CommandID},
		}, nil
	}

	if plan.Status == domain.CommandStatusBlocked {
		return rejectPlan(plan, "command is blocked and cannot be executed"), nil
	}
	if len(plan.Missing) > 0 {
		return rejectPlan(plan, fmt.Sprintf("plan is missing required params %v, preview again", plan.Missing)), nil
	}
	if !req.Confirm {
		return rejectPlan(plan, "execution requires explicit confirmation"), nil
	}

	if plan.ApprovalToken != "" {
		reason, err := s.checkApproval(ctx, plan, req.ApprovalToken)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			return rejectPlan(plan, reason), nil
		}
	}

	now := time.Now()

	// Claim the plan with an optimistic status. A loser of the conditional
	// update replays whatever the winner recorded.
	won, err := s.store.MarkPlanExecuted(ctx, req.CommandID, domain.CommandStatusSucceeded, now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim plan: %w", err)
	}
	if !won {
		return s.replay(ctx, req.CommandID)
	}

	summary, artifacts, execErr := runPlan(plan)
	artifacts["command_id"] = plan.CommandID

	status := domain.CommandStatusSucceeded
	if execErr != nil {
		status = domain.CommandStatusFailed
		summary = execErr.Error()
		if err := s.store.SetPlanStatus(ctx, req.CommandID, domain.CommandStatusFailed); err != nil {
			return nil, fmt.Errorf("failed to record failure: %w", err)
		}
	}

	item := &domain.CommandHistoryItem{
		CommandID: plan.CommandID,
		Command:   plan.Command,
		Intent:    plan.Intent,
		Risk:      plan.Risk,
		Status:    status,
		CreatedAt: now,
	}
	if err := s.store.AppendHistory(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to append history: %w", err)
	}

	auditType := domain.AuditExecuted
	if execErr != nil {
		auditType = domain.AuditExecuteFailed
	}
	s.recordAudit(ctx, plan.CommandID, auditType, map[string]interface{}{
		"action":  plan.Action,
		"summary": summary,
	})

	return &domain.CommandResult{
		Status:    status,
		Summary:   summary,
		Artifacts: artifacts,
		Risk:      plan.Risk,
		Plan:      &domain.PlanView{Action: plan.Action, Params: plan.Params},
		TraceID:   plan.TraceID,
	}, nil
}

// rejectPlan wraps a known plan in a blocked result carrying the rejection
// reason inline.
func rejectPlan(plan *domain.CommandPlan, summary string) *domain.CommandResult {
	return &domain.CommandResult{
		Status:    domain.CommandStatusBlocked,
		Summary:   summary,
		Artifacts: map[string]any{"command_id": plan.CommandID},
		Risk:      plan.Risk,
		Plan:      &domain.PlanView{Action: plan.Action, Params: plan.Params},
		TraceID:   plan.TraceID,
	}
}

// checkApproval validates the single-use token and the ticket decision for an
// approval-gated plan. A non-empty reason means the execution is rejected;
// the error return is for store faults only.
func (s *Service) checkApproval(ctx context.Context, plan *domain.CommandPlan, token string) (string, error) {
	if token == "" {
		return "command requires an approval token", nil
	}
	if token != plan.ApprovalToken {
		return "approval token does not match this command", nil
	}

	ticket, err := s.store.GetTicket(ctx, plan.TicketID)
	if err != nil {
		return "", fmt.Errorf("failed to get approval ticket: %w", err)
	}
	if ticket == nil {
		return "approval ticket not found", nil
	}

	if ticket.Status == domain.TicketStatusPending && ticket.Expired(time.Now()) {
		if ok, _ := s.store.ExpireTicketIfPending(ctx, ticket.TicketID, "approval window elapsed"); ok {
			s.recordAudit(ctx, plan.CommandID, domain.AuditApprovalExpired, map[string]string{
				"ticket_id": ticket.TicketID,
			})
		}
		return "approval ticket expired", nil
	}

	switch ticket.Status {
	case domain.TicketStatusApproved:
		return "", nil
	case domain.TicketStatusPending:
		return "approval is still pending", nil
	case domain.TicketStatusRejected:
		return "approval was rejected", nil
	default:
		return "approval ticket expired", nil
	}
}

// replay returns the recorded outcome of an already-executed command.
func (s *Service) replay(ctx context.Context, commandID string) (*domain.CommandResult, error) {
	item, err := s.store.GetHistory(ctx, commandID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	if item == nil {
		// Claimed but not yet recorded by the concurrent winner.
		return nil, fmt.Errorf("command %s is executing", commandID)
	}

	plan, err := s.store.GetPlan(ctx, commandID)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	s.recordAudit(ctx, commandID, domain.AuditReplayed, map[string]string{
		"status": string(item.Status),
	})

	result := &domain.CommandResult{
		Status:    item.Status,
		Summary:   "replayed recorded outcome, no action taken",
		Artifacts: map[string]any{"command_id": commandID, "replayed": true},
		Risk:      item.Risk,
	}
	if plan != nil {
		result.Plan = &domain.PlanView{Action: plan.Action, Params: plan.Params}
		result.TraceID = plan.TraceID
	}
	return result, nil
}

// runPlan performs the planned action. Execution is a synchronous mock wired
// per action; a real deployment would dispatch to the fleet here.
func runPlan(plan *domain.CommandPlan) (string, map[string]any, error) {
	var params map[string]string
	if len(plan.Params) > 0 {
		if err := json.Unmarshal(plan.Params, &params); err != nil {
			return "", map[string]any{}, fmt.Errorf("plan params for %s are corrupt: %w", plan.CommandID, err)
		}
	}

	if params["simulate"] == "fail" {
		return "", map[string]any{}, fmt.Errorf("action %s failed downstream", plan.Action)
	}

	switch plan.Action {
	case "svc.restart":
		return fmt.Sprintf("restarted %s in %s", params["service"], params["env"]),
			map[string]any{"service": params["service"], "env": params["env"]}, nil
	case "svc.status":
		return fmt.Sprintf("%s is healthy", params["service"]),
			map[string]any{"service": params["service"], "healthy": true}, nil
	case "cfg.render":
		return fmt.Sprintf("rendered config for %s", params["service"]),
			map[string]any{"service": params["service"], "rendered": "# effective config\n"}, nil
	case "cfg.write":
		return fmt.Sprintf("wrote %s for %s", params["key"], params["service"]),
			map[string]any{"service": params["service"], "key": params["key"]}, nil
	case "host.restart":
		return fmt.Sprintf("restart issued for host %s", params["host"]),
			map[string]any{"host": params["host"]}, nil
	case "k8s.apply":
		return fmt.Sprintf("applied manifest %s", params["manifest"]),
			map[string]any{"manifest": params["manifest"]}, nil
	default:
		return "", map[string]any{}, fmt.Errorf("action %s has no executor", plan.Action)
	}
}
