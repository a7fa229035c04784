// Package storetest is a conformance suite for store.Store implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/trustcore/store"
)

// Factory returns an empty store. Cleanup is registered through t.
type Factory func(t *testing.T) store.Store

var base = time.UnixMilli(1_700_000_000_000)

// Run executes every conformance test against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("SessionSweeps", func(t *testing.T) { testSessionSweeps(t, newStore(t)) })
	t.Run("Rotation", func(t *testing.T) { testRotation(t, newStore(t)) })
	t.Run("ConcurrentRotation", func(t *testing.T) { testConcurrentRotation(t, newStore(t)) })
	t.Run("Revocation", func(t *testing.T) { testRevocation(t, newStore(t)) })
	t.Run("MFA", func(t *testing.T) { testMFA(t, newStore(t)) })
	t.Run("ConcurrentBackupCode", func(t *testing.T) { testConcurrentBackupCode(t, newStore(t)) })
	t.Run("RateLimit", func(t *testing.T) { testRateLimit(t, newStore(t)) })
}

func session(id, user string, expires time.Time) *store.Session {
	return &store.Session{
		ID:           id,
		UserID:       user,
		Role:         "member",
		CreatedAt:    base,
		ExpiresAt:    expires,
		LastActivity: base,
		Active:       true,
		IP:           "10.0.0.1",
		UserAgent:    "test-agent",
	}
}

func renewal(fid, user, sid string, expires time.Time) *store.RenewalRecord {
	return &store.RenewalRecord{
		FamilyID:  fid,
		UserID:    user,
		SessionID: sid,
		IP:        "10.0.0.1",
		UserAgent: "test-agent",
		CreatedAt: base,
		ExpiresAt: expires,
	}
}

func testSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.CreateSession(ctx, session("s1", "u1", base.Add(time.Hour))); err != nil {
		t.Fatalf("create s1: %v", err)
	}
	if err := s.CreateSession(ctx, session("s2", "u1", base.Add(time.Hour))); err != nil {
		t.Fatalf("create s2: %v", err)
	}

	got, err := s.GetSession(ctx, "s1", "u1")
	if err != nil {
		t.Fatalf("get s1: %v", err)
	}
	if got.ID != "s1" || got.Role != "member" || !got.Active || !got.ExpiresAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected session: %+v", got)
	}
	if _, err := s.GetSession(ctx, "s1", "u2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("session of another user must not be found, got %v", err)
	}
	if _, err := s.GetSession(ctx, "missing", "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	touchAt := base.Add(10 * time.Minute)
	if err := s.TouchSession(ctx, "s1", touchAt, base.Add(2*time.Hour)); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ = s.GetSession(ctx, "s1", "u1")
	if !got.LastActivity.Equal(touchAt) || !got.ExpiresAt.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("touch not applied: %+v", got)
	}
	if err := s.TouchSession(ctx, "s1", touchAt.Add(time.Minute), time.Time{}); err != nil {
		t.Fatalf("touch without expiry: %v", err)
	}
	got, _ = s.GetSession(ctx, "s1", "u1")
	if !got.ExpiresAt.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("zero expiresAt must leave expiry unchanged: %+v", got)
	}

	active, err := s.ListActiveSessions(ctx, "u1", base)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(active))
	}

	n, err := s.DeactivateSessions(ctx, "u1", "s2", store.ReasonLogout, base.Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("deactivate s2: n=%d err=%v", n, err)
	}
	n, err = s.DeactivateSessions(ctx, "u1", "s2", store.ReasonLogout, base.Add(time.Minute))
	if err != nil || n != 0 {
		t.Fatalf("second deactivate must be a no-op: n=%d err=%v", n, err)
	}
	n, err = s.DeactivateSessions(ctx, "u2", "s1", store.ReasonLogout, base.Add(time.Minute))
	if err != nil || n != 0 {
		t.Fatalf("deactivating another user's session must be a no-op: n=%d err=%v", n, err)
	}

	got, _ = s.GetSession(ctx, "s2", "u1")
	if got.Active || got.DeactivationReason != store.ReasonLogout || !got.DeactivatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected deactivated session: %+v", got)
	}
	if err := s.TouchSession(ctx, "s2", base.Add(time.Hour), base.Add(9*time.Hour)); err != nil {
		t.Fatalf("touch inactive: %v", err)
	}
	got, _ = s.GetSession(ctx, "s2", "u1")
	if got.Active || got.ExpiresAt.Equal(base.Add(9*time.Hour)) {
		t.Fatalf("touch must not revive or extend an inactive session: %+v", got)
	}

	active, _ = s.ListActiveSessions(ctx, "u1", base)
	if len(active) != 1 || active[0].ID != "s1" {
		t.Fatalf("expected only s1 active, got %+v", active)
	}

	n, err = s.DeactivateSessions(ctx, "u1", "", store.ReasonLogout, base.Add(2*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("deactivate all: n=%d err=%v", n, err)
	}
	active, _ = s.ListActiveSessions(ctx, "u1", base)
	if len(active) != 0 {
		t.Fatalf("expected no active sessions, got %d", len(active))
	}
}

func testSessionSweeps(t *testing.T, s store.Store) {
	ctx := context.Background()
	_ = s.CreateSession(ctx, session("old", "u1", base.Add(time.Minute)))
	_ = s.CreateSession(ctx, session("edge", "u1", base.Add(time.Hour)))
	_ = s.CreateSession(ctx, session("fresh", "u1", base.Add(2*time.Hour)))

	now := base.Add(time.Hour)
	n, err := s.DeactivateExpiredSessions(ctx, now)
	if err != nil || n != 2 {
		t.Fatalf("expected old and edge to expire (expiresAt <= now), n=%d err=%v", n, err)
	}
	n, err = s.DeactivateExpiredSessions(ctx, now)
	if err != nil || n != 0 {
		t.Fatalf("expiry sweep must be idempotent: n=%d err=%v", n, err)
	}
	got, _ := s.GetSession(ctx, "old", "u1")
	if got.Active || got.DeactivationReason != store.ReasonExpired {
		t.Fatalf("unexpected expired session: %+v", got)
	}
	active, _ := s.ListActiveSessions(ctx, "u1", now)
	if len(active) != 1 || active[0].ID != "fresh" {
		t.Fatalf("expected only fresh active, got %+v", active)
	}

	n, err = s.PurgeSessions(ctx, now)
	if err != nil || n != 0 {
		t.Fatalf("purge cutoff is exclusive: n=%d err=%v", n, err)
	}
	n, err = s.PurgeSessions(ctx, now.Add(time.Second))
	if err != nil || n != 2 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
	if _, err := s.GetSession(ctx, "old", "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("purged session must be gone, got %v", err)
	}
	if _, err := s.GetSession(ctx, "fresh", "u1"); err != nil {
		t.Fatalf("active session must survive purge: %v", err)
	}
}

func testRotation(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.CreateRenewal(ctx, renewal("f1", "u1", "s1", base.Add(time.Hour))); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateRenewal(ctx, renewal("f1", "u1", "s1", base.Add(time.Hour))); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate family id must conflict, got %v", err)
	}

	now := base.Add(time.Minute)
	next := renewal("f2", "u1", "s1", now.Add(time.Hour))
	next.CreatedAt = now

	if err := s.RotateRenewal(ctx, "f1", "u2", next, now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("rotation by another user must look like not found, got %v", err)
	}
	if err := s.RotateRenewal(ctx, "nope", "u1", next, now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetRenewal(ctx, "f2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("failed rotation must not create the new record, got %v", err)
	}

	if err := s.RotateRenewal(ctx, "f1", "u1", next, now); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	old, err := s.GetRenewal(ctx, "f1")
	if err != nil {
		t.Fatalf("get old: %v", err)
	}
	if !old.Revoked || old.RevokedReason != store.ReasonRotation || old.ReplacedBy != "f2" || !old.RevokedAt.Equal(now) {
		t.Fatalf("unexpected old record: %+v", old)
	}
	fresh, err := s.GetRenewal(ctx, "f2")
	if err != nil {
		t.Fatalf("get new: %v", err)
	}
	if fresh.Revoked || fresh.UserID != "u1" || fresh.SessionID != "s1" || !fresh.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected new record: %+v", fresh)
	}

	again := renewal("f3", "u1", "s1", now.Add(time.Hour))
	if err := s.RotateRenewal(ctx, "f1", "u1", again, now); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second rotation of the same family must conflict, got %v", err)
	}

	_ = s.CreateRenewal(ctx, renewal("fx", "u1", "s1", base.Add(time.Second)))
	late := renewal("fy", "u1", "s1", now.Add(time.Hour))
	if err := s.RotateRenewal(ctx, "fx", "u1", late, now); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expired record must not rotate, got %v", err)
	}

	n, err := s.DeleteExpiredRenewals(ctx, base.Add(time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("expected f1 and fx deleted, n=%d err=%v", n, err)
	}
	if _, err := s.GetRenewal(ctx, "f2"); err != nil {
		t.Fatalf("unexpired record must survive cleanup: %v", err)
	}
	n, _ = s.DeleteExpiredRenewals(ctx, base.Add(time.Hour))
	if n != 0 {
		t.Fatalf("cleanup must be idempotent, deleted %d", n)
	}
}

func testConcurrentRotation(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.CreateRenewal(ctx, renewal("root", "u1", "s1", base.Add(time.Hour))); err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		badErrs atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			next := renewal(fmt.Sprintf("child-%d", i), "u1", "s1", base.Add(time.Hour))
			err := s.RotateRenewal(ctx, "root", "u1", next, base.Add(time.Second))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, store.ErrConflict):
			default:
				badErrs.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 || badErrs.Load() != 0 {
		t.Fatalf("expected exactly one rotation, wins=%d unexpected errors=%d", wins.Load(), badErrs.Load())
	}
	old, _ := s.GetRenewal(ctx, "root")
	if _, err := s.GetRenewal(ctx, old.ReplacedBy); err != nil {
		t.Fatalf("winner's record must exist: %v", err)
	}
}

func testRevocation(t *testing.T, s store.Store) {
	ctx := context.Background()
	_ = s.CreateRenewal(ctx, renewal("a", "u1", "s1", base.Add(time.Hour)))
	_ = s.CreateRenewal(ctx, renewal("b", "u1", "s2", base.Add(time.Hour)))
	_ = s.CreateRenewal(ctx, renewal("c", "u2", "s3", base.Add(time.Hour)))

	n, err := s.RevokeRenewals(ctx, "u1", "s1", store.ReasonLogout, base)
	if err != nil || n != 1 {
		t.Fatalf("scoped revoke: n=%d err=%v", n, err)
	}
	b, _ := s.GetRenewal(ctx, "b")
	if b.Revoked {
		t.Fatal("record of another session must survive a scoped revoke")
	}

	n, err = s.RevokeRenewals(ctx, "u1", "", store.ReasonLogout, base)
	if err != nil || n != 1 {
		t.Fatalf("revoke all: n=%d err=%v", n, err)
	}
	a, _ := s.GetRenewal(ctx, "a")
	if !a.Revoked || a.RevokedReason != store.ReasonLogout || !a.RevokedAt.Equal(base) {
		t.Fatalf("unexpected revoked record: %+v", a)
	}
	c, _ := s.GetRenewal(ctx, "c")
	if c.Revoked {
		t.Fatal("other user's record must not be revoked")
	}
}

func testMFA(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.GetMFASecret(ctx, "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetMFAEnabled(ctx, "u1", true, base); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("enabling without a secret must fail, got %v", err)
	}

	codes := [][32]byte{{1}, {2}, {3}}
	m := &store.MFASecret{UserID: "u1", Secret: []byte{0x00, 0xff, 0x10, 0x20}, BackupCodes: codes, CreatedAt: base, UpdatedAt: base}
	if err := s.SaveMFASecret(ctx, m); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetMFASecret(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Secret) != string(m.Secret) || got.Enabled || len(got.BackupCodes) != 3 || got.BackupCodes[1] != codes[1] {
		t.Fatalf("unexpected secret: %+v", got)
	}

	ok, err := s.ConsumeBackupCode(ctx, "u1", codes[1])
	if err != nil || !ok {
		t.Fatalf("consume: ok=%v err=%v", ok, err)
	}
	ok, err = s.ConsumeBackupCode(ctx, "u1", codes[1])
	if err != nil || ok {
		t.Fatalf("second consume must fail: ok=%v err=%v", ok, err)
	}
	ok, _ = s.ConsumeBackupCode(ctx, "u2", codes[0])
	if ok {
		t.Fatal("codes of another user must not be consumable")
	}
	got, _ = s.GetMFASecret(ctx, "u1")
	if len(got.BackupCodes) != 2 || got.BackupCodes[0] != codes[0] || got.BackupCodes[1] != codes[2] {
		t.Fatalf("remaining codes must keep order: %x", got.BackupCodes)
	}

	if err := s.SetMFAEnabled(ctx, "u1", true, base.Add(time.Minute)); err != nil {
		t.Fatalf("enable: %v", err)
	}
	got, _ = s.GetMFASecret(ctx, "u1")
	if !got.Enabled {
		t.Fatal("expected enabled")
	}

	fresh := [][32]byte{{9}, {8}}
	if err := s.ReplaceBackupCodes(ctx, "u1", fresh); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if ok, _ := s.ConsumeBackupCode(ctx, "u1", codes[0]); ok {
		t.Fatal("replaced codes must be invalid")
	}
	got, _ = s.GetMFASecret(ctx, "u1")
	if len(got.BackupCodes) != 2 || got.BackupCodes[0] != fresh[0] || !got.Enabled {
		t.Fatalf("unexpected state after replace: %+v", got)
	}
	if err := s.ReplaceBackupCodes(ctx, "nobody", fresh); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("replace without secret must fail, got %v", err)
	}

	advanced, err := s.AdvanceTOTPStep(ctx, "u1", 100)
	if err != nil || !advanced {
		t.Fatalf("advance: %v %v", advanced, err)
	}
	advanced, _ = s.AdvanceTOTPStep(ctx, "u1", 100)
	if advanced {
		t.Fatal("same step must not advance twice")
	}
	advanced, _ = s.AdvanceTOTPStep(ctx, "u1", 99)
	if advanced {
		t.Fatal("older step must not advance")
	}
	if _, err := s.AdvanceTOTPStep(ctx, "nobody", 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// re-enrollment replaces everything
	if err := s.SaveMFASecret(ctx, &store.MFASecret{UserID: "u1", Secret: []byte("new"), CreatedAt: base, UpdatedAt: base}); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	got, _ = s.GetMFASecret(ctx, "u1")
	if got.Enabled || len(got.BackupCodes) != 0 || string(got.Secret) != "new" || got.LastUsedStep != 0 {
		t.Fatalf("unexpected state after re-enrollment: %+v", got)
	}
}

func testConcurrentBackupCode(t *testing.T, s store.Store) {
	ctx := context.Background()
	code := [32]byte{42}
	if err := s.SaveMFASecret(ctx, &store.MFASecret{UserID: "u1", Secret: []byte("k"), BackupCodes: [][32]byte{code}, CreatedAt: base}); err != nil {
		t.Fatalf("save: %v", err)
	}

	const workers = 8
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := s.ConsumeBackupCode(ctx, "u1", code)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one consumer to win, got %d", wins.Load())
	}
}

func testRateLimit(t *testing.T, s store.Store) {
	ctx := context.Background()
	windowStart := func(at time.Time) time.Time { return at.Add(-time.Second) }

	for i := 0; i < 5; i++ {
		w, err := s.RecordHit(ctx, "login:ip:ua:/login", base, windowStart(base))
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if w.Count != i {
			t.Fatalf("hit %d saw count %d", i, w.Count)
		}
		if i > 0 && !w.Oldest.Equal(base) {
			t.Fatalf("oldest = %v, want %v", w.Oldest, base)
		}
	}

	at := base.Add(500 * time.Millisecond)
	w, _ := s.RecordHit(ctx, "login:ip:ua:/login", at, windowStart(at))
	if w.Count != 5 {
		t.Fatalf("expected 5 hits in window, got %d", w.Count)
	}

	at = base.Add(1100 * time.Millisecond)
	w, _ = s.RecordHit(ctx, "login:ip:ua:/login", at, windowStart(at))
	if w.Count != 1 || !w.Oldest.Equal(base.Add(500*time.Millisecond)) {
		t.Fatalf("expected only the t=500ms hit left, got %+v", w)
	}

	at = base.Add(1000 * time.Millisecond)
	_, _ = s.RecordHit(ctx, "edge", base, windowStart(base))
	w, _ = s.RecordHit(ctx, "edge", at, windowStart(at))
	if w.Count != 1 {
		t.Fatalf("a hit exactly at the window start is inside the window, got %+v", w)
	}

	w, _ = s.RecordHit(ctx, "other", base, windowStart(base))
	if w.Count != 0 {
		t.Fatalf("buckets must be independent, got %+v", w)
	}

	if err := s.ResetHits(ctx, "other"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	w, _ = s.RecordHit(ctx, "other", base, windowStart(base))
	if w.Count != 0 {
		t.Fatalf("reset must clear the bucket, got %+v", w)
	}

	n, err := s.DeleteHitsBefore(ctx, base.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	// 5 login hits, 1 edge hit and 1 other hit at base
	if n != 7 {
		t.Fatalf("expected 7 deleted hits, got %d", n)
	}
	w, _ = s.RecordHit(ctx, "login:ip:ua:/login", at, at.Add(-time.Hour))
	if w.Count != 2 {
		t.Fatalf("expected the t=500ms and t=1100ms hits to survive, got %+v", w)
	}
}
