package trustcore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/trustcore/store"
	"github.com/MrEthical07/trustcore/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// gatedStore holds RotateRenewal until release is closed.
type gatedStore struct {
	store.Store
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedStore) RotateRenewal(ctx context.Context, oldFamilyID, userID string, next *store.RenewalRecord, now time.Time) error {
	if g.calls.Add(1) == 1 {
		close(g.entered)
	}
	<-g.release
	return g.Store.RotateRenewal(ctx, oldFamilyID, userID, next, now)
}

func newGatedEngine(t *testing.T) (*Engine, *gatedStore) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gs := &gatedStore{
		Store:   redisstore.New(rdb, redisstore.Options{}),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	engine, err := New().WithConfig(testConfig()).WithStore(gs).WithClock(NewManualClock(testBase)).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return engine, gs
}

func issueFor(t *testing.T, engine *Engine, userID string) *TokenPair {
	t.Helper()
	ctx := context.Background()
	sess, err := engine.Tokens().OpenSession(ctx, SessionRequest{UserID: userID})
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}
	pair, err := engine.Tokens().CreateTokenPair(ctx, IssueRequest{UserID: userID, SessionID: sess.ID})
	if err != nil {
		t.Fatalf("create token pair failed: %v", err)
	}
	return pair
}

func TestRefresherCoalescesConcurrentCallers(t *testing.T) {
	engine, gs := newGatedEngine(t)
	pair := issueFor(t, engine, "u1")
	ctx := context.Background()

	const n = 8
	type outcome struct {
		res    *RefreshResult
		shared bool
		err    error
	}
	out := make(chan outcome, n)

	go func() {
		res, shared, err := engine.Refresher().Refresh(ctx, pair.RefreshToken, "", "")
		out <- outcome{res, shared, err}
	}()
	<-gs.entered

	var started sync.WaitGroup
	for i := 1; i < n; i++ {
		started.Add(1)
		go func() {
			started.Done()
			res, shared, err := engine.Refresher().Refresh(ctx, pair.RefreshToken, "", "")
			out <- outcome{res, shared, err}
		}()
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(gs.release)

	var family string
	for i := 0; i < n; i++ {
		o := <-out
		if o.err != nil {
			t.Fatalf("coalesced caller failed: %v", o.err)
		}
		if !o.shared {
			t.Fatalf("every caller must share the single rotation")
		}
		if family == "" {
			family = o.res.FamilyID
		}
		if o.res.FamilyID != family {
			t.Fatalf("callers observed different rotations: %s vs %s", o.res.FamilyID, family)
		}
	}
	if got := gs.calls.Load(); got != 1 {
		t.Fatalf("expected one rotation, got %d", got)
	}
	if got := engine.MetricsSnapshot().Counters[MetricRefreshDeduplicated]; got != n {
		t.Fatalf("dedup metric = %d, want %d", got, n)
	}
}

func TestRefresherSequentialReuseIsRevoked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, pair := env.login(t, "u1")

	res, shared, err := env.engine.Refresher().Refresh(ctx, pair.RefreshToken, "", "")
	if err != nil || shared {
		t.Fatalf("first refresh: res=%v shared=%v err=%v", res, shared, err)
	}
	if _, _, err := env.engine.Refresher().Refresh(ctx, pair.RefreshToken, "", ""); !errors.Is(err, ErrRefreshRevoked) {
		t.Fatalf("settled flight must not be reused, got %v", err)
	}
}

func TestRefresherCallerCancellationDoesNotAbortRotation(t *testing.T) {
	engine, gs := newGatedEngine(t)
	pair := issueFor(t, engine, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := engine.Refresher().Refresh(ctx, pair.RefreshToken, "", "")
		done <- err
	}()
	<-gs.entered
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller must return ctx error, got %v", err)
	}

	close(gs.release)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := gs.GetRenewal(context.Background(), pair.FamilyID)
		if err == nil && rec.Revoked {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("rotation must complete after the caller went away")
}
