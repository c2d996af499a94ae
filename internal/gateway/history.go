package gateway

import (
	"context"
	"fmt"

	"github.com/luocen99/opsconsole/internal/domain"
)

const defaultHistoryLimit = 50

// History returns the most recent audit records, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]domain.CommandHistoryItem, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	items, err := s.store.ListHistory(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return items, nil
}

// HistoryDetail returns one audit record with its replayable event trace.
// Returns nil if no record exists for the command id.
func (s *Service) HistoryDetail(ctx context.Context, commandID string) (*domain.HistoryDetail, error) {
	item, err := s.store.GetHistory(ctx, commandID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	if item == nil {
		return nil, nil
	}

	events, err := s.store.GetAuditEvents(ctx, commandID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit events: %w", err)
	}

	return &domain.HistoryDetail{Record: *item, AuditEvents: events}, nil
}
