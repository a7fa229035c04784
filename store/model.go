package store

import "time"

// Revocation and deactivation reasons written by the trust core.
const (
	ReasonRotation      = "rotation"
	ReasonLogout        = "logout"
	ReasonExpired       = "expired"
	ReasonReuseDetected = "reuse_detected"
)

// Session is one authenticated client connection lifetime.
// A session with Active == false is never matched by verification.
type Session struct {
	ID                 string
	UserID             string
	Role               string
	CreatedAt          time.Time
	ExpiresAt          time.Time
	LastActivity       time.Time
	Active             bool
	IP                 string
	UserAgent          string
	DeactivationReason string
	DeactivatedAt      time.Time
}

// Live reports whether the session can still authorize requests at now.
func (s *Session) Live(now time.Time) bool {
	return s != nil && s.Active && s.ExpiresAt.After(now)
}

// RenewalRecord is the durable counterpart of one issued renewal credential.
// The signed credential itself is never stored.
type RenewalRecord struct {
	FamilyID      string
	UserID        string
	SessionID     string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Revoked       bool
	RevokedAt     time.Time
	RevokedReason string
	// ReplacedBy is the family id that superseded this record on rotation.
	ReplacedBy string
}

// Usable reports whether the record still backs a valid renewal credential at now.
func (r *RenewalRecord) Usable(now time.Time) bool {
	return r != nil && !r.Revoked && r.ExpiresAt.After(now)
}

// MFASecret holds a user's TOTP secret and the hashes of their unused backup codes.
type MFASecret struct {
	UserID       string
	Secret       []byte
	BackupCodes  [][32]byte
	Enabled      bool
	LastUsedStep int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RateWindow is the state of one rate-limit bucket inside a trailing window,
// as observed before the current hit was recorded.
type RateWindow struct {
	Count  int
	Oldest time.Time
}
