package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict is returned when a guarded update lost against a concurrent writer
	// or its precondition no longer holds.
	ErrConflict = errors.New("store: conflict")
	// ErrUnavailable wraps backend failures (network, driver, script errors).
	ErrUnavailable = errors.New("store: unavailable")
)

// SessionStore persists sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	// GetSession returns the session only when it belongs to userID.
	GetSession(ctx context.Context, sessionID, userID string) (*Session, error)
	// TouchSession refreshes last activity and, when expiresAt is non-zero, the expiry.
	// Deactivated sessions are left untouched.
	TouchSession(ctx context.Context, sessionID string, at, expiresAt time.Time) error
	// DeactivateSessions deactivates the user's active sessions, or only sessionID when non-empty.
	DeactivateSessions(ctx context.Context, userID, sessionID, reason string, at time.Time) (int64, error)
	ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]Session, error)
	DeactivateExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	// PurgeSessions hard-deletes sessions deactivated before the cutoff.
	PurgeSessions(ctx context.Context, deactivatedBefore time.Time) (int64, error)
}

// RenewalStore persists renewal-credential records.
type RenewalStore interface {
	CreateRenewal(ctx context.Context, r *RenewalRecord) error
	GetRenewal(ctx context.Context, familyID string) (*RenewalRecord, error)
	// RotateRenewal revokes oldFamilyID with reason "rotation" and inserts next as one
	// atomic step. It succeeds only when the old record exists, belongs to userID and is
	// usable at now; otherwise it returns ErrNotFound or ErrConflict and changes nothing.
	RotateRenewal(ctx context.Context, oldFamilyID, userID string, next *RenewalRecord, now time.Time) error
	// RevokeRenewals revokes the user's non-revoked records, or only those of sessionID when non-empty.
	RevokeRenewals(ctx context.Context, userID, sessionID, reason string, at time.Time) (int64, error)
	DeleteExpiredRenewals(ctx context.Context, now time.Time) (int64, error)
}

// MFAStore persists MFA secrets and backup codes.
type MFAStore interface {
	// SaveMFASecret creates or replaces the user's secret and backup codes.
	SaveMFASecret(ctx context.Context, m *MFASecret) error
	GetMFASecret(ctx context.Context, userID string) (*MFASecret, error)
	// ConsumeBackupCode removes hash from the user's list; it reports false when the
	// hash was not present. Two concurrent calls with the same hash see exactly one true.
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error)
	ReplaceBackupCodes(ctx context.Context, userID string, hashes [][32]byte) error
	SetMFAEnabled(ctx context.Context, userID string, enabled bool, at time.Time) error
	// AdvanceTOTPStep stores step only if it is greater than the last accepted step.
	AdvanceTOTPStep(ctx context.Context, userID string, step int64) (bool, error)
}

// RateLimitStore persists one hit per evaluated request.
type RateLimitStore interface {
	// RecordHit returns the bucket's window (hits at or after windowStart) and then
	// records a hit at `at`. The hit is recorded whether or not the caller allows it.
	RecordHit(ctx context.Context, key string, at, windowStart time.Time) (RateWindow, error)
	ResetHits(ctx context.Context, key string) error
	DeleteHitsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Store is the complete Persistent Store contract.
type Store interface {
	SessionStore
	RenewalStore
	MFAStore
	RateLimitStore
}
