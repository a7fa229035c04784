package rate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/trustcore/store"
)

type memHits struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	fail error
}

func newMemHits() *memHits {
	return &memHits{hits: map[string][]time.Time{}}
}

func (m *memHits) RecordHit(_ context.Context, key string, at, windowStart time.Time) (store.RateWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return store.RateWindow{}, m.fail
	}
	var w store.RateWindow
	for _, ts := range m.hits[key] {
		if ts.Before(windowStart) {
			continue
		}
		if w.Count == 0 || ts.Before(w.Oldest) {
			w.Oldest = ts
		}
		w.Count++
	}
	m.hits[key] = append(m.hits[key], at)
	return w, nil
}

func (m *memHits) ResetHits(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hits, key)
	return m.fail
}

func (m *memHits) DeleteHitsBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, list := range m.hits {
		kept := list[:0]
		for _, ts := range list {
			if ts.Before(before) {
				n++
				continue
			}
			kept = append(kept, ts)
		}
		m.hits[key] = kept
	}
	return n, m.fail
}

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func TestSlidingWindowEnforcement(t *testing.T) {
	clock := &stepClock{now: time.Unix(1_700_000_000, 0)}
	start := clock.now
	l := New(newMemHits(), clock.Now)
	rule := Rule{Name: "login", Window: time.Second, MaxRequests: 5}

	for i := 0; i < 5; i++ {
		d, err := l.Hit(context.Background(), "k", rule)
		if err != nil || !d.Allowed {
			t.Fatalf("request %d should be allowed: %+v err=%v", i+1, d, err)
		}
		if d.Remaining != 4-i {
			t.Fatalf("request %d remaining = %d, want %d", i+1, d.Remaining, 4-i)
		}
	}

	clock.now = start.Add(500 * time.Millisecond)
	d, err := l.Hit(context.Background(), "k", rule)
	if !errors.Is(err, ErrRateLimited) || d.Allowed {
		t.Fatalf("6th request at t=500ms should be denied: %+v err=%v", d, err)
	}
	if d.Remaining != 0 || d.RetryAfter != time.Second {
		t.Fatalf("unexpected denial shape: %+v", d)
	}
	if !d.ResetTime.Equal(start.Add(time.Second)) {
		t.Fatalf("reset time = %v, want %v", d.ResetTime, start.Add(time.Second))
	}

	clock.now = start.Add(1100 * time.Millisecond)
	d, err = l.Hit(context.Background(), "k", rule)
	if err != nil || !d.Allowed {
		t.Fatalf("7th request at t=1100ms should be allowed: %+v err=%v", d, err)
	}
	if d.Count != 1 {
		t.Fatalf("only the denied hit at t=500ms should remain in the window, count=%d", d.Count)
	}
}

func TestDeniedAttemptsKeepCounting(t *testing.T) {
	clock := &stepClock{now: time.Unix(1_700_000_000, 0)}
	l := New(newMemHits(), clock.Now)
	rule := Rule{Name: "mfa", Window: 10 * time.Second, MaxRequests: 2}

	for i := 0; i < 2; i++ {
		if _, err := l.Hit(context.Background(), "k", rule); err != nil {
			t.Fatalf("hit %d: %v", i, err)
		}
	}
	for i := 0; i < 8; i++ {
		clock.now = clock.now.Add(time.Second)
		if _, err := l.Hit(context.Background(), "k", rule); !errors.Is(err, ErrRateLimited) {
			t.Fatalf("expected denial while the offender keeps hitting, got %v", err)
		}
	}
	// the first two hits aged out but the denied ones are still inside the window
	clock.now = clock.now.Add(3 * time.Second)
	if _, err := l.Hit(context.Background(), "k", rule); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected window to stay closed, got %v", err)
	}
}

func TestHitWrapsStoreErrors(t *testing.T) {
	hits := newMemHits()
	hits.fail = errors.New("connection refused")
	l := New(hits, nil)

	_, err := l.Hit(context.Background(), "k", Rule{Name: "api", Window: time.Minute, MaxRequests: 1})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestResetAndSweep(t *testing.T) {
	clock := &stepClock{now: time.Unix(1_700_000_000, 0)}
	hits := newMemHits()
	l := New(hits, clock.Now)
	rule := Rule{Name: "api", Window: time.Minute, MaxRequests: 1}

	_, _ = l.Hit(context.Background(), "a", rule)
	if _, err := l.Hit(context.Background(), "a", rule); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected denial, got %v", err)
	}
	if err := l.Reset(context.Background(), "a"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := l.Hit(context.Background(), "a", rule); err != nil {
		t.Fatalf("expected allow after reset, got %v", err)
	}

	clock.now = clock.now.Add(25 * time.Hour)
	n, err := l.Sweep(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept hit, got %d", n)
	}
}

func TestTableMatchFirstWins(t *testing.T) {
	table := Table{
		{Name: "login", Window: time.Minute, MaxRequests: 5, PathPrefixes: []string{"/auth/login"}, Methods: []string{"POST"}},
		{Name: "auth", Window: time.Minute, MaxRequests: 50, PathPrefixes: []string{"/auth/"}},
		{Name: "api", Window: time.Minute, MaxRequests: 100, PathPrefixes: []string{"/api/"}},
	}
	if err := table.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	cases := []struct {
		method, path, want string
		ok                 bool
	}{
		{"post", "/auth/login", "login", true},
		{"GET", "/auth/login", "auth", true},
		{"GET", "/api/items", "api", true},
		{"GET", "/healthz", "", false},
	}
	for _, tc := range cases {
		rule, ok := table.Match(tc.method, tc.path)
		if ok != tc.ok || rule.Name != tc.want {
			t.Fatalf("match(%s %s) = %q,%v want %q,%v", tc.method, tc.path, rule.Name, ok, tc.want, tc.ok)
		}
	}
	if table.LongestWindow() != time.Minute {
		t.Fatalf("longest window = %v", table.LongestWindow())
	}
}

func TestTableValidateRejects(t *testing.T) {
	bad := []Table{
		{{Name: "", Window: time.Second, MaxRequests: 1}},
		{{Name: "a:b", Window: time.Second, MaxRequests: 1}},
		{{Name: "a", Window: 0, MaxRequests: 1}},
		{{Name: "a", Window: time.Second, MaxRequests: 0}},
		{{Name: "a", Window: time.Second, MaxRequests: 1}, {Name: "a", Window: time.Second, MaxRequests: 1}},
	}
	for i, table := range bad {
		if err := table.Validate(); !errors.Is(err, ErrInvalidRule) {
			t.Fatalf("case %d: expected ErrInvalidRule, got %v", i, err)
		}
	}
}

func TestBucketKeyHidesUserAgent(t *testing.T) {
	ua := "Mozilla/5.0 (X11; Linux x86_64)"
	key := BucketKey("login", "10.0.0.1", ua, "/auth/login")
	if strings.Contains(key, "Mozilla") {
		t.Fatalf("raw user agent leaked into key: %s", key)
	}
	if !strings.HasPrefix(key, "login:10.0.0.1:") || !strings.HasSuffix(key, ":/auth/login") {
		t.Fatalf("unexpected key layout: %s", key)
	}
	if key == BucketKey("login", "10.0.0.1", ua+"x", "/auth/login") {
		t.Fatal("different user agents must land in different buckets")
	}
}
