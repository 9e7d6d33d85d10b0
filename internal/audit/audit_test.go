package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) { s.count.Add(1) }

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) { <-s.gate }

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	require.Nil(t, d)

	// A nil dispatcher accepts calls.
	d.Emit(context.Background(), Event{EventType: "login_success"})
	d.Close()
	require.Zero(t, d.Dropped())
}

func TestDispatcherDeliversBufferedOnClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 64}, sink)

	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{EventType: "refresh_success"})
	}
	d.Close()

	require.EqualValues(t, 50, sink.count.Load())

	// Emit after Close is ignored.
	d.Emit(context.Background(), Event{EventType: "logout"})
	require.EqualValues(t, 50, sink.count.Load())
}

func TestDispatcherDropIfFullCounts(t *testing.T) {
	var logs bytes.Buffer
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
		Logger:     slog.New(slog.NewTextHandler(&logs, nil)),
	}, sink)

	// The first event may be picked up by the worker and block on the gate;
	// the buffer then holds one more. Everything after that is dropped.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "token_rejected"})
	}
	require.GreaterOrEqual(t, d.Dropped(), uint64(8))
	require.Equal(t, 1, strings.Count(logs.String(), "audit buffer full"))

	close(sink.gate)
	d.Close()
}

func TestDispatcherBlockingRespectsContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{})
	d.Emit(context.Background(), Event{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	d.Emit(ctx, Event{})
	require.Less(t, time.Since(start), time.Second)
	require.Zero(t, d.Dropped())
}

func TestJSONWriterSinkOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{EventType: "login_success", Subject: "u1", Success: true})
	sink.Emit(context.Background(), Event{EventType: "token_rejected", Error: "revoked"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var got Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	require.Equal(t, "u1", got.Subject)
	require.True(t, got.Success)
	require.NotContains(t, lines[1], "subject")
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	sink.Emit(context.Background(), Event{EventType: "logout", Subject: "u1", Success: true})
	sink.Emit(context.Background(), Event{
		EventType: "token_rejected",
		Error:     "expired",
		Metadata:  map[string]string{"kind": "ACCESS_TOKEN"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"level":"INFO"`)
	require.Contains(t, lines[0], `"subject":"u1"`)
	require.Contains(t, lines[1], `"level":"WARN"`)
	require.Contains(t, lines[1], `"metadata":{"kind":"ACCESS_TOKEN"}`)
}

func TestChannelSink(t *testing.T) {
	sink := NewChannelSink(0)
	sink.Emit(context.Background(), Event{EventType: "refresh_success"})

	select {
	case ev := <-sink.Events():
		require.Equal(t, "refresh_success", ev.EventType)
	default:
		t.Fatal("expected buffered event")
	}
}
