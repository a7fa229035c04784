package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDispatcherDeliversInOrderAndDrainsOnClose(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	sink := SinkFunc(func(_ context.Context, e Event) {
		mu.Lock()
		got = append(got, e.Action)
		mu.Unlock()
	})

	d := NewDispatcher(Config{Enabled: true, BufferSize: 64}, sink)
	for _, action := range []string{"a", "b", "c"} {
		d.Emit(context.Background(), Event{Action: action})
	}
	d.Close()

	if strings.Join(got, ",") != "a,b,c" {
		t.Fatalf("delivered %v, want a,b,c", got)
	}
	if s := d.Stats(); s.Delivered != 3 || s.Dropped != 0 || s.Failed != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}

	d.Emit(context.Background(), Event{Action: "late"})
	d.Close()
	if len(got) != 3 {
		t.Fatalf("emit after close must be discarded, got %v", got)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	sink := SinkFunc(func(context.Context, Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	d.Emit(context.Background(), Event{Action: "in-flight"})
	<-started
	d.Emit(context.Background(), Event{Action: "queued"})
	d.Emit(context.Background(), Event{Action: "dropped"})
	close(release)
	d.Close()

	if s := d.Stats(); s.Delivered != 2 || s.Dropped != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestDispatcherBlockingEmitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	sink := SinkFunc(func(context.Context, Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	d.Emit(context.Background(), Event{})
	<-started
	d.Emit(context.Background(), Event{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	d.Emit(ctx, Event{})
	if d.Dropped() != 1 {
		t.Fatalf("blocked emit must give up with its context, dropped=%d", d.Dropped())
	}
	close(release)
	d.Close()
}

func TestDispatcherRecoversSinkPanic(t *testing.T) {
	var recovered any
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, SinkFunc(func(_ context.Context, e Event) {
		if e.Action == "boom" {
			panic("sink exploded")
		}
	}))
	d.OnFailure(func(_ Event, r any) { recovered = r })

	d.Emit(context.Background(), Event{Action: "boom"})
	d.Emit(context.Background(), Event{Action: "fine"})
	d.Close()

	if d.Failed() != 1 || d.Stats().Delivered != 1 {
		t.Fatalf("unexpected stats %+v", d.Stats())
	}
	if recovered != "sink exploded" {
		t.Fatalf("failure hook got %v", recovered)
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatalf("disabled dispatcher must be nil")
	}
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 || d.Failed() != 0 {
		t.Fatalf("nil dispatcher must report zero")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{Action: "tokens_issued", UserID: "u1", Success: true})
	sink.Emit(context.Background(), Event{Action: "mfa_verify_failed", Reason: "invalid_code"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	var e Event
	if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if e.Action != "mfa_verify_failed" || e.Reason != "invalid_code" || e.Success {
		t.Fatalf("unexpected event %+v", e)
	}

	NewJSONWriterSink(nil).Emit(context.Background(), Event{})
}
