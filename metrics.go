package trustcore

import (
	"sort"
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	MetricSessionCreated MetricID = iota
	MetricTokensIssued
	MetricAccessVerifySuccess
	MetricAccessVerifyFailure
	MetricAccessTokenExpired
	MetricSessionRejected
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshRevoked
	MetricRefreshReuseDetected
	MetricRefreshDeduplicated
	MetricTokensRevoked
	MetricSessionDeactivated
	MetricMFASetup
	MetricMFASuccess
	MetricMFAFailure
	MetricMFARateLimited
	MetricMFAReplayRejected
	MetricMFAEnabled
	MetricMFADisabled
	MetricBackupCodeUsed
	MetricBackupCodeRegenerated
	MetricRateLimitAllowed
	MetricRateLimitHit
	MetricRateLimitFailOpen
	MetricStoreUnavailable
	MetricJanitorRun
	MetricJanitorFailure
	// MetricVerifyLatency is the only histogram: access credential verification latency.
	MetricVerifyLatency
	metricIDCount
)

const cacheLineSize = 64

// latencyBounds are the inclusive upper bounds of every histogram bucket but
// the last, which catches everything slower.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const histBucketCount = len(latencyBounds) + 1

type latencyHistogram struct {
	buckets [histBucketCount]atomic.Uint64
	sumNS   atomic.Int64
}

func (h *latencyHistogram) observe(d time.Duration) {
	i := sort.Search(len(latencyBounds), func(i int) bool { return d <= latencyBounds[i] })
	h.buckets[i].Add(1)
	h.sumNS.Add(int64(d))
}

type paddedCounter struct {
	atomic.Uint64
	_ [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and the verification latency histogram.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	verify        latencyHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters. LatencySum is the
// total observed verification time.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
	LatencySum time.Duration
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricVerifyLatency {
		return
	}
	m.counters[id].Add(1)
}

// Observe records d for id. Only MetricVerifyLatency is a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricVerifyLatency {
		return
	}
	m.verify.observe(d)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricVerifyLatency {
		return 0
	}
	return m.counters[id].Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}

	for id := MetricID(0); id < MetricVerifyLatency; id++ {
		s.Counters[id] = m.counters[id].Load()
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = m.verify.buckets[i].Load()
		}
		s.Histograms[MetricVerifyLatency] = buckets
		s.LatencySum = time.Duration(m.verify.sumNS.Load())
	}
	return s
}
