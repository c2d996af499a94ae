// Package service wires conversations to the upstream turn stream: it keeps
// one turn session per conversation and enforces the single in-flight turn.
package service

import (
	"context"
	"sync"

	"github.com/luocen99/opsconsole/internal/config"
	"github.com/luocen99/opsconsole/internal/domain"
	"github.com/luocen99/opsconsole/internal/turn"
)

type Service struct {
	opener   turn.StreamOpener
	store    turn.SnapshotStore
	notifier turn.Notifier
	config   *config.Config

	mu       sync.Mutex
	sessions map[string]*turn.Session
}

func New(opener turn.StreamOpener, store turn.SnapshotStore, notifier turn.Notifier, cfg *config.Config) *Service {
	return &Service{
		opener:   opener,
		store:    store,
		notifier: notifier,
		config:   cfg,
		sessions: make(map[string]*turn.Session),
	}
}

// session returns the turn session for a conversation, creating it on first
// use with any persisted snapshot loaded.
func (s *Service) session(ctx context.Context, sessionID string) *turn.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok {
		return sess
	}

	opts := []turn.Option{}
	if s.store != nil {
		opts = append(opts, turn.WithSnapshotStore(s.store))
	}
	if s.notifier != nil {
		opts = append(opts, turn.WithNotifier(s.notifier))
	}
	sess := turn.NewSession(ctx, sessionID, s.opener, s.config.ToolWatchdog, opts...)
	s.sessions[sessionID] = sess
	return sess
}

// Send submits one user message and blocks until its turn reaches a terminal
// state. Returns turn.ErrTurnInFlight if the conversation already has a
// running turn.
func (s *Service) Send(ctx context.Context, sessionID, content string) error {
	return s.session(ctx, sessionID).Send(ctx, content)
}

// Cancel aborts the conversation's in-flight turn, if any.
func (s *Service) Cancel(ctx context.Context, sessionID string) {
	s.session(ctx, sessionID).Cancel()
}

// Retry resends the last user message. Valid only after a timeout or error
// outcome.
func (s *Service) Retry(ctx context.Context, sessionID string) error {
	return s.session(ctx, sessionID).Retry(ctx)
}

// Turn returns the conversation's current turn.
func (s *Service) Turn(ctx context.Context, sessionID string) domain.Turn {
	return s.session(ctx, sessionID).Turn()
}

// Messages returns the conversation snapshot, including the live assistant
// message while a turn is running.
func (s *Service) Messages(ctx context.Context, sessionID string) []domain.Message {
	return s.session(ctx, sessionID).Messages()
}

// Notice returns the conversation's transient soft-error notice, if any.
func (s *Service) Notice(ctx context.Context, sessionID string) string {
	return s.session(ctx, sessionID).Notice()
}

// ErrMessage returns the upstream message for a timeout/error turn.
func (s *Service) ErrMessage(ctx context.Context, sessionID string) string {
	return s.session(ctx, sessionID).ErrMessage()
}
