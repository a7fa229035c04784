package trustcore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func singleRule(cfg *Config) {
	cfg.RateLimit.Rules = []RateLimitRule{{
		Name:         "t",
		Window:       time.Second,
		MaxRequests:  5,
		PathPrefixes: []string{"/t"},
	}}
}

var testClient = RequestContext{IP: "198.51.100.4", UserAgent: "curl/8", Method: http.MethodGet, Path: "/t"}

func TestSlidingWindow(t *testing.T) {
	env := newTestEnv(t, singleRule)
	ctx := context.Background()
	rl := env.engine.RateLimiter()

	for i := 0; i < 5; i++ {
		res := rl.CheckRateLimit(ctx, testClient)
		if !res.Allowed {
			t.Fatalf("request %d must be allowed", i+1)
		}
		if res.Remaining != 4-i {
			t.Fatalf("request %d: remaining = %d, want %d", i+1, res.Remaining, 4-i)
		}
	}

	env.clock.Advance(500 * time.Millisecond)
	res := rl.CheckRateLimit(ctx, testClient)
	if res.Allowed {
		t.Fatalf("sixth request inside the window must be denied")
	}
	if res.RetryAfter != time.Second {
		t.Fatalf("retry after = %v, want 1s", res.RetryAfter)
	}
	if !res.ResetTime.Equal(testBase.Add(time.Second)) {
		t.Fatalf("reset time = %v, want %v", res.ResetTime, testBase.Add(time.Second))
	}

	env.clock.Advance(600 * time.Millisecond)
	if res := rl.CheckRateLimit(ctx, testClient); !res.Allowed {
		t.Fatalf("request after the first hits slid out must be allowed")
	}
}

func TestApplyRateLimitResponse(t *testing.T) {
	env := newTestEnv(t, singleRule)
	ctx := context.Background()
	rl := env.engine.RateLimiter()

	for i := 0; i < 5; i++ {
		if d := rl.ApplyRateLimit(ctx, testClient); !d.Allowed || d.Response != nil {
			t.Fatalf("request %d must pass without a response", i+1)
		}
	}
	d := rl.ApplyRateLimit(ctx, testClient)
	if d.Allowed || d.Response == nil {
		t.Fatalf("expected a denial with a response")
	}

	rec := httptest.NewRecorder()
	d.Response.Write(rec)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	h := rec.Header()
	want := map[string]string{
		"X-RateLimit-Limit":     "5",
		"X-RateLimit-Remaining": "0",
		"X-RateLimit-Reset":     "1700000001",
		"Retry-After":           "1",
		"Content-Type":          "application/json",
	}
	for k, v := range want {
		if h.Get(k) != v {
			t.Fatalf("%s = %q, want %q", k, h.Get(k), v)
		}
	}

	var body struct {
		Error      string `json:"error"`
		RetryAfter int64  `json:"retryAfter"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body %q: %v", rec.Body.String(), err)
	}
	if body.Error != "Too many requests" || body.RetryAfter != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestUnmatchedPathIsUnlimited(t *testing.T) {
	env := newTestEnv(t, singleRule)
	rl := env.engine.RateLimiter()

	rc := testClient
	rc.Path = "/elsewhere"
	for i := 0; i < 20; i++ {
		res := rl.CheckRateLimit(context.Background(), rc)
		if !res.Allowed || !res.Unlimited {
			t.Fatalf("unmatched path must be unlimited: %+v", res)
		}
	}

	h := make(http.Header)
	rl.CheckRateLimit(context.Background(), rc).SetHeaders(h)
	if len(h) != 0 {
		t.Fatalf("unlimited result must not set headers: %v", h)
	}
}

func TestDefaultRulesMatchMethods(t *testing.T) {
	env := newTestEnv(t)
	rl := env.engine.RateLimiter()

	get := RequestContext{IP: "192.0.2.1", UserAgent: "ua", Method: http.MethodGet, Path: "/auth/login"}
	if res := rl.CheckRateLimit(context.Background(), get); !res.Unlimited {
		t.Fatalf("GET on the login path is not covered by the login rule: %+v", res)
	}

	post := get
	post.Method = http.MethodPost
	res := rl.CheckRateLimit(context.Background(), post)
	if res.Rule != "login" || res.Limit != 5 {
		t.Fatalf("unexpected rule for login post: %+v", res)
	}

	api := get
	api.Path = "/api/v1/items"
	if res := rl.CheckRateLimit(context.Background(), api); res.Rule != "api" || res.Limit != 100 {
		t.Fatalf("unexpected rule for api path: %+v", res)
	}
}

func TestBucketsAreSeparated(t *testing.T) {
	env := newTestEnv(t, singleRule)
	ctx := context.Background()
	rl := env.engine.RateLimiter()

	for i := 0; i < 5; i++ {
		rl.CheckRateLimit(ctx, testClient)
	}
	if rl.CheckRateLimit(ctx, testClient).Allowed {
		t.Fatalf("bucket must be exhausted")
	}

	otherIP := testClient
	otherIP.IP = "198.51.100.5"
	otherUA := testClient
	otherUA.UserAgent = "curl/9"
	otherPath := testClient
	otherPath.Path = "/t/2"
	for name, rc := range map[string]RequestContext{"ip": otherIP, "user agent": otherUA, "path": otherPath} {
		if !rl.CheckRateLimit(ctx, rc).Allowed {
			t.Fatalf("a different %s must use its own bucket", name)
		}
	}
}

func TestRateLimitDenialAudited(t *testing.T) {
	env := newTestEnv(t, singleRule)
	ctx := context.Background()
	rl := env.engine.RateLimiter()

	for i := 0; i < 6; i++ {
		rl.CheckRateLimit(ctx, testClient)
	}
	e, ok := findEvent(env.auditEvents(), auditRateLimitExceeded)
	if !ok {
		t.Fatalf("denial must be audited")
	}
	if e.IP != testClient.IP || e.Metadata["rule"] != "t" || e.Metadata["count"] != "6" || e.Metadata["limit"] != "5" {
		t.Fatalf("unexpected audit event: %+v", e)
	}
	if e.Metadata["fingerprint"] == "" || e.Metadata["retry_after"] != "1" {
		t.Fatalf("audit event misses fingerprint or retry_after: %+v", e.Metadata)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricRateLimitHit]; got != 1 {
		t.Fatalf("rate limit hit metric = %d, want 1", got)
	}
}

func TestResetRateLimit(t *testing.T) {
	env := newTestEnv(t, singleRule)
	ctx := context.Background()
	rl := env.engine.RateLimiter()

	for i := 0; i < 6; i++ {
		rl.CheckRateLimit(ctx, testClient)
	}
	if err := rl.ResetRateLimit(ctx, testClient); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	res := rl.CheckRateLimit(ctx, testClient)
	if !res.Allowed || res.Remaining != 4 {
		t.Fatalf("bucket must start over after reset: %+v", res)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	env := newTestEnv(t, singleRule, func(cfg *Config) {
		cfg.RateLimit.Enabled = false
	})
	for i := 0; i < 10; i++ {
		if res := env.engine.RateLimiter().CheckRateLimit(context.Background(), testClient); !res.Allowed || !res.Unlimited {
			t.Fatalf("disabled limiter must allow everything: %+v", res)
		}
	}
}

func TestCleanupExpiredRecords(t *testing.T) {
	env := newTestEnv(t, singleRule)
	ctx := context.Background()
	rl := env.engine.RateLimiter()

	for i := 0; i < 3; i++ {
		rl.CheckRateLimit(ctx, testClient)
	}

	n, err := rl.CleanupExpiredRecords(ctx)
	if err != nil || n != 0 {
		t.Fatalf("fresh hits must survive cleanup: n=%d err=%v", n, err)
	}

	env.clock.Advance(25 * time.Hour)
	n, err = rl.CleanupExpiredRecords(ctx)
	if err != nil || n != 3 {
		t.Fatalf("cleanup after retention: n=%d err=%v, want 3", n, err)
	}
}
