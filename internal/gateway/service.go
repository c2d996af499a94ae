// Package gateway implements the command gateway: preview classifies a
// command and mints a single-use plan, execute redeems it exactly once, and
// every transition lands in the append-only audit trail.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/luocen99/opsconsole/internal/config"
	"github.com/luocen99/opsconsole/internal/domain"
	store "github.com/luocen99/opsconsole/internal/repository"
	"github.com/luocen99/opsconsole/policy"
)

type Service struct {
	store        store.Store
	policyEngine *policy.Engine
	config       *config.Config
}

func New(store store.Store, policyEngine *policy.Engine, cfg *config.Config) *Service {
	return &Service{
		store:        store,
		policyEngine: policyEngine,
		config:       cfg,
	}
}

// recordAudit records a command lifecycle event to the store.
func (s *Service) recordAudit(ctx context.Context, commandID string, eventType domain.AuditEventType, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &domain.AuditEvent{
		EventID:   "ev_" + uuid.New().String()[:8],
		CommandID: commandID,
		Ts:        time.Now().UnixMilli(),
		Type:      eventType,
		Payload:   payloadBytes,
	}

	return s.store.CreateAuditEvent(ctx, event)
}
