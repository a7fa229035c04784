package trustcore

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/trustcore/internal/otp"
	"github.com/MrEthical07/trustcore/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// testBase is a whole second so issued expiries are exact.
var testBase = time.Unix(1_700_000_000, 0)

type testEnv struct {
	engine *Engine
	clock  *ManualClock
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	sink   *ChannelSink
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.MasterKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Audit.DropIfFull = false
	cfg.Audit.BufferSize = 256
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	env := &testEnv{
		clock: NewManualClock(testBase),
		mr:    mr,
		rdb:   rdb,
		sink:  NewChannelSink(1024),
	}
	env.engine, err = New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithClock(env.clock).
		WithAuditSink(env.sink).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	t.Cleanup(func() {
		env.engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env
}

func (env *testEnv) store() store.Store {
	return env.engine.core.store
}

func (env *testEnv) login(t *testing.T, userID string) (*store.Session, *TokenPair) {
	t.Helper()
	ctx := context.Background()

	sess, err := env.engine.Tokens().OpenSession(ctx, SessionRequest{
		UserID:    userID,
		Role:      "member",
		IP:        "203.0.113.7",
		UserAgent: "test-agent",
	})
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}
	pair, err := env.engine.Tokens().CreateTokenPair(ctx, IssueRequest{
		UserID:    userID,
		Email:     userID + "@example.com",
		Role:      sess.Role,
		SessionID: sess.ID,
		IP:        sess.IP,
		UserAgent: sess.UserAgent,
	})
	if err != nil {
		t.Fatalf("create token pair failed: %v", err)
	}
	return sess, pair
}

// auditEvents drains the dispatcher and returns everything emitted so far.
// The engine stops auditing afterwards.
func (env *testEnv) auditEvents() []AuditEvent {
	env.engine.Close()
	var out []AuditEvent
	for {
		select {
		case e := <-env.sink.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func findEvent(events []AuditEvent, action string) (AuditEvent, bool) {
	for _, e := range events {
		if e.Action == action {
			return e, true
		}
	}
	return AuditEvent{}, false
}

func totpCode(t *testing.T, env *testEnv, secret string, at time.Time) string {
	t.Helper()
	raw, err := otp.DecodeSecret(secret)
	if err != nil {
		t.Fatalf("decode secret failed: %v", err)
	}
	cfg := env.engine.config.MFA
	code, err := otp.New(otp.Config{
		Digits:    cfg.Digits,
		Period:    int(cfg.Period.Seconds()),
		Algorithm: cfg.Algorithm,
	}).CodeAt(raw, at)
	if err != nil {
		t.Fatalf("code generation failed: %v", err)
	}
	return code
}

// wrongCode returns a well-formed code that differs from code in every digit.
func wrongCode(code string) string {
	out := []byte(code)
	for i, c := range out {
		out[i] = '0' + (c-'0'+5)%10
	}
	return string(out)
}
