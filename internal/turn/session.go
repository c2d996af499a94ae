package turn

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luocen99/opsconsole/internal/domain"
	"github.com/luocen99/opsconsole/internal/stream"
)

// ErrTurnInFlight is returned by Send while a turn is already running.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// ErrNotRetryable is returned by Retry outside the timeout/error states.
var ErrNotRetryable = errors.New("turn is not in a retryable state")

// StreamOpener opens one server-push turn stream for a user message.
type StreamOpener interface {
	OpenTurnStream(ctx context.Context, req domain.SendRequest) (io.ReadCloser, error)
}

// SnapshotStore persists conversation snapshots across turns.
type SnapshotStore interface {
	GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error)
	SaveConversation(ctx context.Context, conv *domain.Conversation) error
}

// Notifier forwards turn-stream events to connected consoles.
type Notifier interface {
	PushEvent(sessionID string, event map[string]any)
}

// Session manages zero-or-one in-flight turn for a conversation. Send blocks
// until the turn reaches a terminal state and never returns an error for
// timeout/error outcomes; callers observe those through Turn().
type Session struct {
	opener   StreamOpener
	store    SnapshotStore
	notifier Notifier
	budget   time.Duration

	mu           sync.Mutex
	conv         domain.Conversation
	machine      *Machine
	lastUserText string
	cancelStream context.CancelFunc
}

// Option configures a session.
type Option func(*Session)

// WithSnapshotStore enables conversation load/persist.
func WithSnapshotStore(s SnapshotStore) Option {
	return func(sess *Session) { sess.store = s }
}

// WithNotifier enables event push to connected consoles.
func WithNotifier(n Notifier) Option {
	return func(sess *Session) { sess.notifier = n }
}

// NewSession creates a session for one conversation. Any previously persisted
// snapshot for sessionID is loaded as the starting state.
func NewSession(ctx context.Context, sessionID string, opener StreamOpener, budget time.Duration, opts ...Option) *Session {
	s := &Session{
		opener: opener,
		budget: budget,
		conv: domain.Conversation{
			SessionID: sessionID,
			CreatedAt: time.Now(),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store != nil {
		conv, err := s.store.GetConversation(ctx, sessionID)
		if err != nil {
			log.Printf("WARN: failed to load conversation %s: %v", sessionID, err)
		} else if conv != nil {
			s.conv = *conv
		}
	}
	return s
}

// Send submits one user message and consumes the resulting turn stream to a
// terminal state. It fails fast with ErrTurnInFlight if a turn is running.
func (s *Session) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.machine != nil && s.machine.Turn().State == domain.TurnStateRunning {
		s.mu.Unlock()
		return ErrTurnInFlight
	}

	now := time.Now()
	userMsg := domain.Message{
		MessageID: "msg_" + uuid.New().String()[:8],
		Role:      "user",
		Content:   text,
		Timestamp: now,
	}
	s.conv.Messages = append(s.conv.Messages, userMsg)
	s.lastUserText = text

	machine := NewMachine(domain.Message{
		MessageID: "msg_" + uuid.New().String()[:8],
		Role:      "assistant",
		Timestamp: now,
	})
	s.machine = machine
	machine.Start()

	streamCtx, cancel := context.WithCancel(ctx)
	s.cancelStream = cancel
	sessionID := s.conv.SessionID
	s.mu.Unlock()

	defer cancel()

	// The watchdog shares the stream's cancellation domain: expiry records
	// the timeout first, then aborts the in-flight read.
	wd := NewWatchdog(s.budget, func() {
		machine.ExpireWatchdog()
		cancel()
	})
	defer wd.Disarm()

	body, err := s.opener.OpenTurnStream(streamCtx, domain.SendRequest{
		SessionID: sessionID,
		Content:   text,
	})
	if err != nil {
		machine.FinishStream(err, streamCtx.Err() != nil)
		s.finalize(ctx, machine)
		return nil
	}
	defer body.Close()

	s.consume(body, machine, wd, sessionID)

	wd.Disarm()
	s.finalize(ctx, machine)
	return nil
}

// consume reads the stream to completion, feeding decoder and dispatcher.
func (s *Session) consume(body io.Reader, machine *Machine, wd *Watchdog, sessionID string) {
	dec := stream.NewDecoder()
	buf := make([]byte, 4096)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			for _, frame := range dec.Write(string(buf[:n])) {
				s.apply(machine, wd, sessionID, frame)
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				if frame, ok := dec.Flush(); ok {
					s.apply(machine, wd, sessionID, frame)
				}
				machine.FinishStream(nil, false)
			} else {
				machine.FinishStream(rerr, errors.Is(rerr, context.Canceled) || machine.Turn().State != domain.TurnStateRunning)
			}
			return
		}
		if machine.Turn().State.IsTerminal() {
			return
		}
	}
}

func (s *Session) apply(machine *Machine, wd *Watchdog, sessionID string, frame string) {
	ev, ok := stream.Dispatch(frame)
	if !ok {
		return
	}
	switch machine.Apply(ev) {
	case WatchdogArm:
		wd.Arm()
	case WatchdogTouch:
		wd.Touch()
	case WatchdogDisarm:
		wd.Disarm()
	}
	if s.notifier != nil {
		s.notifier.PushEvent(sessionID, map[string]any{
			"type":    string(ev.Type),
			"ts":      time.Now().UnixMilli(),
			"turn_id": machine.Turn().ID,
			"data":    ev.Raw,
		})
	}
}

// finalize freezes the assistant message into the conversation and, on done,
// persists the snapshot.
func (s *Session) finalize(ctx context.Context, machine *Machine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap := machine.Snapshot(); snap != nil {
		// The server's returned snapshot reconciles a freshly created vs
		// continued conversation.
		s.conv = *snap
	} else {
		s.conv.Messages = append(s.conv.Messages, machine.Assistant())
	}
	s.conv.UpdatedAt = time.Now()

	if machine.Turn().State == domain.TurnStateDone && s.store != nil {
		conv := s.conv
		if err := s.store.SaveConversation(ctx, &conv); err != nil {
			log.Printf("ERROR: failed to persist conversation %s: %v", s.conv.SessionID, err)
		}
	}
}

// Cancel aborts the in-flight stream transport, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancelStream
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Retry resends the last user message as a new turn. Valid only from the
// timeout and error states.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	var state domain.TurnState
	if s.machine != nil {
		state = s.machine.Turn().State
	}
	text := s.lastUserText
	s.mu.Unlock()

	if !state.Retryable() || text == "" {
		return ErrNotRetryable
	}
	return s.Send(ctx, text)
}

// Turn returns the current turn, or an idle zero turn before the first send.
func (s *Session) Turn() domain.Turn {
	s.mu.Lock()
	machine := s.machine
	s.mu.Unlock()
	if machine == nil {
		return domain.Turn{State: domain.TurnStateIdle}
	}
	return machine.Turn()
}

// Notice returns the current transient soft-error notice, if any.
func (s *Session) Notice() string {
	s.mu.Lock()
	machine := s.machine
	s.mu.Unlock()
	if machine == nil {
		return ""
	}
	return machine.Notice()
}

// ErrMessage returns the upstream message for a timeout/error turn.
func (s *Session) ErrMessage() string {
	s.mu.Lock()
	machine := s.machine
	s.mu.Unlock()
	if machine == nil {
		return ""
	}
	return machine.ErrMessage()
}

// Messages returns a snapshot of the conversation, including the running
// assistant message while a turn is in flight.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Message, 0, len(s.conv.Messages)+1)
	for i := range s.conv.Messages {
		out = append(out, s.conv.Messages[i].Clone())
	}
	if s.machine != nil && s.machine.Turn().State == domain.TurnStateRunning {
		out = append(out, s.machine.Assistant())
	}
	return out
}

// SessionID returns the conversation's session id.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.SessionID
}
