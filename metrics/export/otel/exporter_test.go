package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/trustcore"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot trustcore.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() trustcore.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := trustcore.MetricsSnapshot{
		Counters:   make(map[trustcore.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[trustcore.MetricID][]uint64, len(f.snapshot.Histograms)),
		LatencySum: f.snapshot.LatencySum,
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func (f *fakeSource) AuditFailed() uint64 { return 0 }

func newMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findSum(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				return 0, false
			}
			return sum.DataPoints[0].Value, true
		}
	}
	return 0, false
}

func findFloatSum(rm metricdata.ResourceMetrics, name string) (float64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[float64])
			if !ok || len(sum.DataPoints) == 0 {
				return 0, false
			}
			return sum.DataPoints[0].Value, true
		}
	}
	return 0, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{
		snapshot: trustcore.MetricsSnapshot{
			Counters: map[trustcore.MetricID]uint64{
				trustcore.MetricRefreshReuseDetected: 3,
			},
			Histograms: map[trustcore.MetricID][]uint64{
				trustcore.MetricVerifyLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
			LatencySum: 250 * time.Millisecond,
		},
		dropped: 1,
	}

	exp, err := NewExporter(provider.Meter("trustcore-test"), src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if v, ok := findSum(rm, "trustcore_refresh_reuse_detected_total"); !ok || v != 3 {
		t.Fatalf("reuse counter = %d (found %v), want 3", v, ok)
	}
	if v, ok := findSum(rm, "trustcore_audit_dropped_total"); !ok || v != 1 {
		t.Fatalf("audit dropped = %d (found %v), want 1", v, ok)
	}
	if v, ok := findFloatSum(rm, "trustcore_verify_latency_seconds_sum"); !ok || v != 0.25 {
		t.Fatalf("latency sum = %v (found %v), want 0.25", v, ok)
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newMeter()
	if _, err := NewExporter(provider.Meter("trustcore-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporter(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{
		snapshot: trustcore.MetricsSnapshot{
			Counters:   map[trustcore.MetricID]uint64{trustcore.MetricRateLimitHit: 1},
			Histograms: map[trustcore.MetricID][]uint64{},
		},
	}

	exp, err := NewExporter(provider.Meter("trustcore-test"), src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer func() { _ = exp.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[trustcore.MetricRateLimitHit] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
