package trustcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJanitorRunOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _ = env.login(t, "u1")
	sessB, _ := env.login(t, "u1")
	if _, err := env.engine.Tokens().RevokeAllUserTokens(ctx, "u1", sessB.ID, "logout"); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	env.engine.RateLimiter().CheckRateLimit(ctx, RequestContext{IP: "192.0.2.1", Method: "GET", Path: "/api/x"})

	report := env.engine.Janitor().RunOnce(ctx)
	if len(report.Errors) != 0 || report.DeletedTokens != 0 || report.PurgedSessions != 0 {
		t.Fatalf("nothing is due yet: %+v", report)
	}

	env.clock.Advance(31 * 24 * time.Hour)
	report = env.engine.Janitor().RunOnce(ctx)
	if len(report.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", report.Errors)
	}
	if report.DeletedTokens != 2 {
		t.Fatalf("deleted tokens = %d, want 2", report.DeletedTokens)
	}
	if report.DeactivatedSessions != 1 {
		t.Fatalf("deactivated sessions = %d, want 1", report.DeactivatedSessions)
	}
	if report.PurgedSessions != 1 {
		t.Fatalf("purged sessions = %d, want 1", report.PurgedSessions)
	}
	if report.DeletedHits != 1 {
		t.Fatalf("deleted hits = %d, want 1", report.DeletedHits)
	}

	again := env.engine.Janitor().RunOnce(ctx)
	if again.DeletedTokens != 0 || again.DeactivatedSessions != 0 || again.PurgedSessions != 0 {
		t.Fatalf("second pass must be a no-op: %+v", again)
	}

	if got := env.engine.MetricsSnapshot().Counters[MetricJanitorRun]; got != 3 {
		t.Fatalf("janitor run metric = %d, want 3", got)
	}
}

func TestJanitorReportsStoreFailures(t *testing.T) {
	env := newTestEnv(t)
	env.mr.Close()

	report := env.engine.Janitor().RunOnce(context.Background())
	if len(report.Errors) != 3 {
		t.Fatalf("every step must report its failure, got %v", report.Errors)
	}
	for _, err := range report.Errors {
		if !errors.Is(err, ErrStoreUnavailable) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricJanitorFailure]; got != 1 {
		t.Fatalf("janitor failure metric = %d, want 1", got)
	}
}

func TestJanitorRunStopsWithContext(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Cleanup.Interval = 10 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.engine.Janitor().Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for env.engine.MetricsSnapshot().Counters[MetricJanitorRun] < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("janitor did not stop")
	}
}
