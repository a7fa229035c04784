package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func newHSManager(t *testing.T, clock *fixedClock) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		SigningMethod: MethodHS256,
		Access:        KeySet{PrivateKey: []byte("access-secret-access-secret-0123")},
		Refresh:       KeySet{PrivateKey: []byte("refresh-secret-refresh-secret-01")},
		Issuer:        "trustcore",
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func TestIssueAndParseBothTypes(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	m := newHSManager(t, clock)

	base := Claims{UserID: "u1", Email: "u1@example.com", Role: "admin", SessionID: "s1", FamilyID: "f1"}
	access, err := m.Issue(TypeAccess, base, clock.now, clock.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	refresh, err := m.Issue(TypeRefresh, base, clock.now, clock.now.Add(7*24*time.Hour))
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}

	ac, err := m.Parse(TypeAccess, access)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if ac.UserID != "u1" || ac.Email != "u1@example.com" || ac.Role != "admin" || ac.SessionID != "s1" {
		t.Fatalf("unexpected access claims: %+v", ac)
	}
	if ac.FamilyID != "" {
		t.Fatalf("access credential must not carry a family id, got %q", ac.FamilyID)
	}

	rc, err := m.Parse(TypeRefresh, refresh)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if rc.FamilyID != "f1" || rc.Type != TypeRefresh {
		t.Fatalf("unexpected refresh claims: %+v", rc)
	}
}

func TestKeySeparation(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	m := newHSManager(t, clock)
	c := Claims{UserID: "u1", SessionID: "s1", FamilyID: "f1"}

	access, _ := m.Issue(TypeAccess, c, clock.now, clock.now.Add(time.Hour))
	refresh, _ := m.Issue(TypeRefresh, c, clock.now, clock.now.Add(time.Hour))

	if _, err := m.Parse(TypeRefresh, access); !errors.Is(err, ErrInvalid) {
		t.Fatalf("access credential must not verify as refresh: %v", err)
	}
	if _, err := m.Parse(TypeAccess, refresh); !errors.Is(err, ErrInvalid) {
		t.Fatalf("refresh credential must not verify as access: %v", err)
	}
}

func TestParseRejectsWrongTypeUnderSameKey(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	m := newHSManager(t, clock)

	// a renewal-typed payload forged with the access key
	claims := Claims{UserID: "u1", SessionID: "s1", Type: TypeRefresh, FamilyID: "f1", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "trustcore",
		ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Hour)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("access-secret-access-secret-0123"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(TypeAccess, token); !errors.Is(err, ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
}

func TestExpiryBoundaryIsExact(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	m := newHSManager(t, clock)
	exp := clock.now.Add(time.Hour)
	token, err := m.Issue(TypeAccess, Claims{UserID: "u1", SessionID: "s1"}, clock.now, exp)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clock.now = exp.Add(-time.Nanosecond)
	if _, err := m.Parse(TypeAccess, token); err != nil {
		t.Fatalf("expected valid just before exp: %v", err)
	}

	clock.now = exp
	if _, err := m.Parse(TypeAccess, token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired at exp, got %v", err)
	}

	peek, err := m.PeekExpiry(token)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if !peek.Equal(exp) {
		t.Fatalf("peek = %v, want %v", peek, exp)
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	pub, priv := newEdKeys(t)
	pub2, priv2 := newEdKeys(t)
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		Access:        KeySet{PrivateKey: priv, PublicKey: pub},
		Refresh:       KeySet{PrivateKey: priv2, PublicKey: pub2},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := Claims{UserID: "u", SessionID: "s1", Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.Parse(TypeAccess, token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected wrong algorithm to be rejected, got %v", err)
	}

	good, err := m.Issue(TypeAccess, Claims{UserID: "u", SessionID: "s1"}, time.Now(), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Parse(TypeAccess, good); err != nil {
		t.Fatalf("ed25519 token should parse: %v", err)
	}
}

func TestParseUnknownKidFails(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	signer, err := NewManager(Config{
		SigningMethod: MethodHS256,
		Access:        KeySet{PrivateKey: []byte("access-secret-access-secret-0123"), KeyID: "k2"},
		Refresh:       KeySet{PrivateKey: []byte("refresh-secret-refresh-secret-01")},
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	verifier, err := NewManager(Config{
		SigningMethod: MethodHS256,
		Access:        KeySet{PrivateKey: []byte("access-secret-access-secret-0123"), KeyID: "k1"},
		Refresh:       KeySet{PrivateKey: []byte("refresh-secret-refresh-secret-01")},
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	token, err := signer.Issue(TypeAccess, Claims{UserID: "u", SessionID: "s"}, clock.now, clock.now.Add(time.Minute))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Parse(TypeAccess, token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected unknown kid to fail, got %v", err)
	}
}

func TestNewManagerRejectsSharedKey(t *testing.T) {
	key := []byte("one-key-for-everything-0123456789")
	_, err := NewManager(Config{
		SigningMethod: MethodHS256,
		Access:        KeySet{PrivateKey: key},
		Refresh:       KeySet{PrivateKey: key},
	})
	if err == nil {
		t.Fatal("expected identical access and refresh keys to be rejected")
	}

	_, err = NewManager(Config{
		SigningMethod: MethodHS256,
		Access:        KeySet{PrivateKey: []byte("short")},
		Refresh:       KeySet{PrivateKey: key},
	})
	if err == nil {
		t.Fatal("expected short hs256 key to be rejected")
	}
}

func TestParseRejectsMissingFamilyID(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	m := newHSManager(t, clock)
	token, err := m.Issue(TypeRefresh, Claims{UserID: "u1", SessionID: "s1"}, clock.now, clock.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Parse(TypeRefresh, token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected missing fid to be rejected, got %v", err)
	}
}

func TestPeekExpiryRejectsGarbage(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	m := newHSManager(t, clock)
	for _, in := range []string{"", "not.a.jwt", "a.b"} {
		if _, err := m.PeekExpiry(in); !errors.Is(err, ErrInvalid) {
			t.Fatalf("peek(%q): expected ErrInvalid, got %v", in, err)
		}
	}
}
