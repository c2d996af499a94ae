package turn

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/luocen99/opsconsole/internal/domain"
)

// scriptedOpener serves one scripted stream per Send call.
type scriptedOpener struct {
	mu      sync.Mutex
	scripts []*scriptedStream
	next    int
}

func (o *scriptedOpener) add(hang bool, frames ...string) *scriptedStream {
	st := &scriptedStream{hang: hang, rest: []byte(strings.Join(frames, ""))}
	o.mu.Lock()
	o.scripts = append(o.scripts, st)
	o.mu.Unlock()
	return st
}

func (o *scriptedOpener) OpenTurnStream(ctx context.Context, _ domain.SendRequest) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.scripts[o.next]
	o.next++
	st.ctx = ctx
	return st, nil
}

// scriptedStream replays its frames, then either ends or blocks until the
// read context is cancelled.
type scriptedStream struct {
	ctx          context.Context
	rest         []byte
	hang         bool
	cancelledOut atomic.Int32
}

func (s *scriptedStream) Read(p []byte) (int, error) {
	if len(s.rest) > 0 {
		n := copy(p, s.rest)
		s.rest = s.rest[n:]
		return n, nil
	}
	if s.hang {
		<-s.ctx.Done()
		s.cancelledOut.Add(1)
		return 0, s.ctx.Err()
	}
	return 0, io.EOF
}

func (s *scriptedStream) Close() error { return nil }

func frame(lines ...string) string {
	return strings.Join(lines, "\n") + "\n\n"
}

type memSnapshotStore struct {
	mu    sync.Mutex
	saved []domain.Conversation
}

func (m *memSnapshotStore) GetConversation(context.Context, string) (*domain.Conversation, error) {
	return nil, nil
}

func (m *memSnapshotStore) SaveConversation(_ context.Context, conv *domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, *conv)
	return nil
}

func TestSessionStreamsHello(t *testing.T) {
	ctx := context.Background()
	opener := &scriptedOpener{}
	opener.add(false,
		frame(`event: meta`, `data: {"sessionId":"s1","turn_id":"t1"}`),
		frame(`event: delta`, `data: {"contentChunk":"Hel"}`),
		frame(`event: delta`, `data: {"contentChunk":"lo"}`),
		frame(`event: done`, `data: {"stream_state":"ok"}`),
	)
	store := &memSnapshotStore{}
	sess := NewSession(ctx, "s1", opener, time.Second, WithSnapshotStore(store))

	if err := sess.Send(ctx, "say hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got := sess.Turn(); got.State != domain.TurnStateDone || got.ID != "t1" {
		t.Fatalf("unexpected turn: %+v", got)
	}
	msgs := sess.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected user+assistant messages, got %d", len(msgs))
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "Hello" {
		t.Fatalf("unexpected assistant message: %+v", msgs[1])
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected one persisted snapshot, got %d", len(store.saved))
	}
}

func TestSessionWatchdogTimesOutHungToolCall(t *testing.T) {
	ctx := context.Background()
	opener := &scriptedOpener{}
	st := opener.add(true, frame(`event: tool_call`, `data: {"tool":"host.restart"}`))
	sess := NewSession(ctx, "s1", opener, 40*time.Millisecond)

	start := time.Now()
	if err := sess.Send(ctx, "restart host-7"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("returned before the watchdog budget: %v", elapsed)
	}

	if got := sess.Turn().State; got != domain.TurnStateTimeout {
		t.Fatalf("expected timeout, got %s", got)
	}
	if got := st.cancelledOut.Load(); got != 1 {
		t.Fatalf("expected the read cancelled exactly once, got %d", got)
	}
}

func TestSessionPartialDoneIsTimeout(t *testing.T) {
	ctx := context.Background()
	opener := &scriptedOpener{}
	opener.add(false,
		frame(`event: tool_call`, `data: {"tool":"k8s.apply"}`),
		frame(`event: done`, `data: {"stream_state":"partial","tool_summary":{"missing":["k8s.apply"]}}`),
	)
	sess := NewSession(ctx, "s1", opener, time.Second)

	if err := sess.Send(ctx, "apply manifest"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := sess.Turn().State; got != domain.TurnStateTimeout {
		t.Fatalf("expected timeout, got %s", got)
	}

	msgs := sess.Messages()
	traces := msgs[len(msgs)-1].Traces
	last := traces[len(traces)-1]
	if last.Type != domain.TraceToolMissing || last.Payload["tool"] != "k8s.apply" {
		t.Fatalf("expected tool_missing trace for k8s.apply, got %+v", last)
	}
}

func TestSessionRejectsConcurrentSend(t *testing.T) {
	ctx := context.Background()
	opener := &scriptedOpener{}
	opener.add(true)
	sess := NewSession(ctx, "s1", opener, time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sess.Send(ctx, "first")
	}()

	// Wait until the first turn is running.
	for i := 0; i < 200 && sess.Turn().State != domain.TurnStateRunning; i++ {
		time.Sleep(time.Millisecond)
	}
	if err := sess.Send(ctx, "second"); err != ErrTurnInFlight {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}

	sess.Cancel()
	<-done
}

func TestSessionCancelWithoutToolPendingIsError(t *testing.T) {
	ctx := context.Background()
	opener := &scriptedOpener{}
	opener.add(true, frame(`event: delta`, `data: {"contentChunk":"thinking"}`))
	sess := NewSession(ctx, "s1", opener, time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sess.Send(ctx, "never finishes")
	}()
	for i := 0; i < 200 && sess.Turn().State != domain.TurnStateRunning; i++ {
		time.Sleep(time.Millisecond)
	}

	sess.Cancel()
	<-done

	if got := sess.Turn().State; got != domain.TurnStateError {
		t.Fatalf("expected error after cancel, got %s", got)
	}
}

func TestSessionRetrySemantics(t *testing.T) {
	ctx := context.Background()
	opener := &scriptedOpener{}
	opener.add(false, frame(`event: done`, `data: {"stream_state":"failed"}`))
	opener.add(false,
		frame(`event: delta`, `data: {"contentChunk":"recovered"}`),
		frame(`event: done`, `data: {"stream_state":"ok"}`),
	)
	sess := NewSession(ctx, "s1", opener, time.Second)

	if err := sess.Retry(ctx); err != ErrNotRetryable {
		t.Fatalf("retry before first send: expected ErrNotRetryable, got %v", err)
	}

	if err := sess.Send(ctx, "do the thing"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := sess.Turn().State; got != domain.TurnStateError {
		t.Fatalf("expected error, got %s", got)
	}

	if err := sess.Retry(ctx); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got := sess.Turn().State; got != domain.TurnStateDone {
		t.Fatalf("expected done after retry, got %s", got)
	}

	if err := sess.Retry(ctx); err != ErrNotRetryable {
		t.Fatalf("retry from done: expected ErrNotRetryable, got %v", err)
	}
}

func TestSessionAdoptsServerSnapshot(t *testing.T) {
	ctx := context.Background()
	opener := &scriptedOpener{}
	opener.add(false,
		frame(`event: delta`, `data: {"contentChunk":"local"}`),
		frame(`event: done`, `data: {"stream_state":"ok","session":{"session_id":"s1","messages":[{"message_id":"m1","role":"user","content":"hi"},{"message_id":"m2","role":"assistant","content":"reconciled"}]}}`),
	)
	sess := NewSession(ctx, "s1", opener, time.Second)

	if err := sess.Send(ctx, "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := sess.Messages()
	if len(msgs) != 2 || msgs[1].Content != "reconciled" {
		t.Fatalf("server snapshot not adopted: %+v", msgs)
	}
}
