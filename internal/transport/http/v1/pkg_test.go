package v1

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/luocen99/opsconsole/internal/config"
	"github.com/luocen99/opsconsole/internal/domain"
	"github.com/luocen99/opsconsole/internal/gateway"
	"github.com/luocen99/opsconsole/internal/service"
	"github.com/luocen99/opsconsole/policy"
	"github.com/luocen99/opsconsole/tests/helpers"
)

type fixedOpener struct {
	raw string
}

func (f *fixedOpener) OpenTurnStream(ctx context.Context, req domain.SendRequest) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.raw)), nil
}

const helloStream = "event: meta\ndata: {\"sessionId\":\"s1\",\"turn_id\":\"t1\"}\n\n" +
	"event: delta\ndata: {\"contentChunk\":\"Hello\"}\n\n" +
	"event: done\ndata: {\"stream_state\":\"ok\"}\n\n"

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	st := helpers.NewTestSQLiteStore(t)
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("policy.NewEngine: %v", err)
	}
	cfg := &config.Config{
		ApprovalTTL:  5 * time.Minute,
		TicketSweep:  time.Second,
		ToolWatchdog: 5 * time.Second,
	}

	gw := gateway.New(st, engine, cfg)
	console := service.New(&fixedOpener{raw: helloStream}, st, nil, cfg)
	return NewHandler(gw, console)
}
