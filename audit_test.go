package tokenlife

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/tokenlife/internal/logx"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

type captureSink struct {
	events chan AuditEvent
}

func newCaptureSink(buffer int) *captureSink {
	return &captureSink{events: make(chan AuditEvent, buffer)}
}

func (s *captureSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// next waits for the next event of eventType, skipping others.
func (s *captureSink) next(t *testing.T, eventType string) AuditEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.events:
			if ev.EventType == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event received", eventType)
		}
	}
}

func auditConfig() Config {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 64
	cfg.Audit.DropIfFull = false
	return cfg
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	engine := buildTestEngine(t, engineOpts{sink: sink})

	_, _ = engine.Login(context.Background(), Identity{Subject: "u1"})
	_, _ = engine.LoginByName(context.Background(), "carol")
	time.Sleep(30 * time.Millisecond)

	if n := sink.count.Load(); n != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", n)
	}
}

func TestAuditLifecycleEvents(t *testing.T) {
	sink := newCaptureSink(64)
	engine := buildTestEngine(t, engineOpts{cfg: auditConfig(), sink: sink})
	ctx := WithClientIP(context.Background(), "198.51.100.33")

	pair, err := engine.Login(ctx, Identity{Subject: "u1"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	ev := sink.next(t, auditEventLoginSuccess)
	if ev.Subject != "u1" || !ev.Success || ev.IP != "198.51.100.33" {
		t.Fatalf("unexpected login event %+v", ev)
	}

	if _, err := engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	sink.next(t, auditEventRefreshSuccess)

	if _, err := engine.Refresh(ctx, pair.AccessToken); err == nil {
		t.Fatal("expected refresh with access token to fail")
	}
	ev = sink.next(t, auditEventRefreshInvalid)
	if ev.Success || ev.Error != KindWrongKind.String() {
		t.Fatalf("unexpected refresh_invalid event %+v", ev)
	}

	if err := engine.Logout(ctx, "u1"); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	sink.next(t, auditEventLogout)

	if _, err := engine.Validate(ctx, pair.AccessToken, "u1"); err == nil {
		t.Fatal("expected revoked token")
	}
	ev = sink.next(t, auditEventTokenRejected)
	if ev.Error != KindRevoked.String() || ev.Subject != "u1" || ev.Metadata["token_kind"] != "ACCESS_TOKEN" {
		t.Fatalf("unexpected token_rejected event %+v", ev)
	}
}

func TestAuditAccountUnavailableReason(t *testing.T) {
	sink := newCaptureSink(16)
	engine := buildTestEngine(t, engineOpts{cfg: auditConfig(), sink: sink})

	_, _ = engine.LoginByName(context.Background(), "dave")
	ev := sink.next(t, auditEventLoginFailure)
	if ev.Subject != "u4" || ev.Error != KindAccountUnavailable.String() || ev.Metadata["reason"] != "locked" {
		t.Fatalf("unexpected login_failure event %+v", ev)
	}
}

func TestAuditNoTokensInEvents(t *testing.T) {
	var buf syncBuffer
	cfg := auditConfig()
	engine := buildTestEngine(t, engineOpts{cfg: cfg, sink: NewJSONWriterSink(&buf)})
	ctx := context.Background()

	pair, err := engine.Login(ctx, Identity{Subject: "u1"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	access, err := engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	_ = engine.Logout(ctx, "u1")
	_, _ = engine.Validate(ctx, access, "u1")
	engine.Close()

	out := buf.String()
	if !strings.Contains(out, auditEventLogout) {
		t.Fatalf("expected events to be written, got %q", out)
	}
	for _, secret := range []string{pair.AccessToken, pair.RefreshToken, access} {
		if strings.Contains(out, secret) {
			t.Fatal("token leaked into audit output")
		}
	}

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var ev AuditEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("audit line is not JSON: %v", err)
		}
	}
}

func TestAuditSlogSink(t *testing.T) {
	var buf syncBuffer
	sink := NewSlogSink(newJSONLogger(&buf))

	sink.Emit(context.Background(), AuditEvent{
		EventType: auditEventLoginFailure,
		Subject:   "u1",
		Error:     KindRevoked.String(),
		Metadata:  map[string]string{"reason": "disabled"},
	})

	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"event_type":"login_failure"`, `"reason":"disabled"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func newJSONLogger(w *syncBuffer) *slog.Logger {
	return logx.New(logx.Config{Format: "json", Output: w})
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
