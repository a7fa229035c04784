package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/trustcore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeSource struct {
	snapshot trustcore.MetricsSnapshot
	dropped  uint64
	failed   uint64
}

func (f fakeSource) MetricsSnapshot() trustcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }
func (f fakeSource) AuditFailed() uint64                        { return f.failed }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: trustcore.MetricsSnapshot{
			Counters:   map[trustcore.MetricID]uint64{},
			Histograms: map[trustcore.MetricID][]uint64{},
		},
	})
	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCountersAndHistogram(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: trustcore.MetricsSnapshot{
			Counters: map[trustcore.MetricID]uint64{
				trustcore.MetricRefreshSuccess: 7,
			},
			Histograms: map[trustcore.MetricID][]uint64{
				trustcore.MetricVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
			LatencySum: 1500 * time.Millisecond,
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"trustcore_refresh_success_total 7",
		"trustcore_rate_limit_hit_total 0",
		`trustcore_verify_latency_seconds_bucket{le="0.005"} 1`,
		`trustcore_verify_latency_seconds_bucket{le="+Inf"} 36`,
		"trustcore_verify_latency_seconds_count 36",
		"trustcore_verify_latency_seconds_sum 1.5",
		"trustcore_audit_dropped_total 2",
		"# TYPE trustcore_verify_latency_seconds histogram",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestHandlerServesEngineMetrics(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := trustcore.DefaultConfig()
	cfg.Token.MasterKey = []byte("0123456789abcdef0123456789abcdef")
	engine, err := trustcore.New().WithConfig(cfg).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer engine.Close()

	if _, err := engine.Tokens().OpenSession(context.Background(), trustcore.SessionRequest{UserID: "u1"}); err != nil {
		t.Fatalf("open session failed: %v", err)
	}

	rec := httptest.NewRecorder()
	NewExporter(engine).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if !strings.Contains(rec.Body.String(), "trustcore_session_created_total 1") {
		t.Fatalf("engine counter missing:\n%s", rec.Body.String())
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewExporter(fakeSource{
		snapshot: trustcore.MetricsSnapshot{
			Counters: map[trustcore.MetricID]uint64{
				trustcore.MetricAccessVerifySuccess: 1000,
				trustcore.MetricRefreshSuccess:      800,
				trustcore.MetricRateLimitHit:        12,
			},
			Histograms: map[trustcore.MetricID][]uint64{
				trustcore.MetricVerifyLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
