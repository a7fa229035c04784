package trustcore

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrEthical07/trustcore/internal/otp"
	"github.com/MrEthical07/trustcore/internal/rate"
	"github.com/MrEthical07/trustcore/jwt"
	"golang.org/x/crypto/hkdf"
)

// Config defines the trust core configuration.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Token     TokenConfig
	MFA       MFAConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Cleanup   CleanupConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls credential issuance and verification.
//
// Keys are either given per credential type or derived from MasterKey. For
// hs256 AccessKey and RefreshKey are shared secrets; for ed25519 they are
// private keys (raw or PEM) and the public keys are derived when omitted.
type TokenConfig struct {
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	SigningMethod    string // "hs256" (default) or "ed25519"
	Issuer           string
	Audience         string
	AccessKey        []byte
	RefreshKey       []byte
	AccessPublicKey  []byte
	RefreshPublicKey []byte
	MasterKey        []byte
	MaxFutureIAT     time.Duration

	// TouchSessionOnVerify refreshes last activity on every successful access verification.
	TouchSessionOnVerify bool
	// RevokeFamilyOnReuse revokes the whole chain and its session when a
	// renewal credential that was already rotated out is presented again.
	RevokeFamilyOnReuse bool
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig controls TOTP enrollment and verification.
type MFAConfig struct {
	Issuer           string
	Digits           int
	Period           time.Duration
	Algorithm        string
	Window           int
	SecretBytes      int
	BackupCodeCount  int
	BackupCodeLength int

	// MaxAttempts verification attempts are allowed per user within AttemptWindow.
	MaxAttempts   int
	AttemptWindow time.Duration

	// EnforceReplayProtection rejects a TOTP code whose time step is not newer
	// than the last accepted one.
	EnforceReplayProtection bool
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitRule is one entry of the ordered rule table.
type RateLimitRule = rate.Rule

// RateLimitConfig controls the sliding-window request limiter.
type RateLimitConfig struct {
	Enabled bool
	// Rules are matched in order; the first match wins and no match means unlimited.
	Rules []RateLimitRule
	// Retention is how long hit records are kept; it must cover the longest window.
	Retention time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// CleanupConfig controls the janitor.
type CleanupConfig struct {
	Interval time.Duration
	// SessionRetention is how long deactivated sessions are kept before hard deletion.
	SessionRetention time.Duration
}

const (
	hkdfAccessInfo  = "trustcore access signing key v1"
	hkdfRefreshInfo = "trustcore refresh signing key v1"
	minSecretLength = 32
)

// DefaultRateLimitRules returns the built-in rule table.
func DefaultRateLimitRules() []RateLimitRule {
	return []RateLimitRule{
		{Name: "login", Window: 15 * time.Minute, MaxRequests: 5, PathPrefixes: []string{"/auth/login"}, Methods: []string{"POST"}},
		{Name: "mfa", Window: 5 * time.Minute, MaxRequests: 5, PathPrefixes: []string{"/auth/mfa"}, Methods: []string{"POST"}},
		{Name: "refresh", Window: time.Minute, MaxRequests: 30, PathPrefixes: []string{"/auth/refresh"}},
		{Name: "password-reset", Window: time.Hour, MaxRequests: 3, PathPrefixes: []string{"/auth/password-reset", "/auth/forgot-password"}},
		{Name: "api", Window: time.Minute, MaxRequests: 100, PathPrefixes: []string{"/api/"}},
	}
}

// DefaultConfig returns the recommended configuration. Signing keys are left
// empty; set Token.MasterKey or both Token.AccessKey and Token.RefreshKey.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:            time.Hour,
			RefreshTTL:           7 * 24 * time.Hour,
			SigningMethod:        "hs256",
			Issuer:               "trustcore",
			MaxFutureIAT:         10 * time.Minute,
			TouchSessionOnVerify: true,
			RevokeFamilyOnReuse:  false,
		},
		MFA: MFAConfig{
			Issuer:           "trustcore",
			Digits:           6,
			Period:           30 * time.Second,
			Algorithm:        "SHA1",
			Window:           1,
			SecretBytes:      otp.DefaultSecretBytes,
			BackupCodeCount:  10,
			BackupCodeLength: 10,
			MaxAttempts:      5,
			AttemptWindow:    5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			Rules:     DefaultRateLimitRules(),
			Retention: 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Cleanup: CleanupConfig{
			Interval:         15 * time.Minute,
			SessionRetention: 30 * 24 * time.Hour,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.AccessKey = cloneBytes(cfg.Token.AccessKey)
	out.Token.RefreshKey = cloneBytes(cfg.Token.RefreshKey)
	out.Token.AccessPublicKey = cloneBytes(cfg.Token.AccessPublicKey)
	out.Token.RefreshPublicKey = cloneBytes(cfg.Token.RefreshPublicKey)
	out.Token.MasterKey = cloneBytes(cfg.Token.MasterKey)
	out.RateLimit.Rules = make([]RateLimitRule, len(cfg.RateLimit.Rules))
	for i, r := range cfg.RateLimit.Rules {
		r.PathPrefixes = append([]string(nil), r.PathPrefixes...)
		r.Methods = append([]string(nil), r.Methods...)
		out.RateLimit.Rules[i] = r
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration and the resolved signing keys.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL < time.Second {
		return errors.New("Token AccessTTL must be >= 1s")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be greater than AccessTTL")
	}
	if c.Token.MaxFutureIAT < 0 || c.Token.MaxFutureIAT > 24*time.Hour {
		return errors.New("Token MaxFutureIAT must be between 0 and 24h")
	}
	if _, _, err := c.signingKeys(); err != nil {
		return err
	}

	// MFA
	if c.MFA.Digits < 6 || c.MFA.Digits > 8 {
		return errors.New("MFA Digits must be between 6 and 8")
	}
	if c.MFA.Period < time.Second || c.MFA.Period%time.Second != 0 {
		return errors.New("MFA Period must be a whole number of seconds")
	}
	if !otp.SupportedAlgorithm(c.MFA.Algorithm) {
		return errors.New("MFA Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.MFA.Window < 0 || c.MFA.Window > otp.MaxWindow {
		return fmt.Errorf("MFA Window must be between 0 and %d", otp.MaxWindow)
	}
	if c.MFA.SecretBytes < 16 {
		return errors.New("MFA SecretBytes must be >= 16")
	}
	if c.MFA.BackupCodeCount <= 0 {
		return errors.New("MFA BackupCodeCount must be > 0")
	}
	if c.MFA.BackupCodeLength < 8 {
		return errors.New("MFA BackupCodeLength must be >= 8")
	}
	if c.MFA.BackupCodeLength == c.MFA.Digits {
		return errors.New("MFA BackupCodeLength must differ from Digits")
	}
	if c.MFA.MaxAttempts < 0 {
		return errors.New("MFA MaxAttempts must be >= 0")
	}
	if c.MFA.MaxAttempts > 0 && c.MFA.AttemptWindow <= 0 {
		return errors.New("MFA AttemptWindow must be > 0 when MaxAttempts is set")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		table := rate.Table(c.RateLimit.Rules)
		if err := table.Validate(); err != nil {
			return err
		}
		if c.RateLimit.Retention < table.LongestWindow() {
			return errors.New("RateLimit Retention must cover the longest rule window")
		}
		if c.MFA.MaxAttempts > 0 && c.RateLimit.Retention < c.MFA.AttemptWindow {
			return errors.New("RateLimit Retention must cover MFA AttemptWindow")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Cleanup
	if c.Cleanup.Interval <= 0 {
		return errors.New("Cleanup Interval must be > 0")
	}
	if c.Cleanup.SessionRetention < 0 {
		return errors.New("Cleanup SessionRetention must be >= 0")
	}

	return nil
}

// signingKeys resolves the per-type key sets, deriving them from MasterKey
// when explicit keys are absent.
func (c *Config) signingKeys() (jwt.KeySet, jwt.KeySet, error) {
	method := strings.ToLower(c.Token.SigningMethod)
	if method != string(jwt.MethodHS256) && method != string(jwt.MethodEd25519) {
		return jwt.KeySet{}, jwt.KeySet{}, errors.New("unsupported Token SigningMethod")
	}

	access := jwt.KeySet{PrivateKey: c.Token.AccessKey, PublicKey: c.Token.AccessPublicKey}
	refresh := jwt.KeySet{PrivateKey: c.Token.RefreshKey, PublicKey: c.Token.RefreshPublicKey}

	if len(access.PrivateKey) == 0 || len(refresh.PrivateKey) == 0 {
		if len(c.Token.MasterKey) < minSecretLength {
			return jwt.KeySet{}, jwt.KeySet{}, errors.New("Token requires AccessKey and RefreshKey or a MasterKey of >= 32 bytes")
		}
		a, err := deriveKey(c.Token.MasterKey, hkdfAccessInfo)
		if err != nil {
			return jwt.KeySet{}, jwt.KeySet{}, err
		}
		r, err := deriveKey(c.Token.MasterKey, hkdfRefreshInfo)
		if err != nil {
			return jwt.KeySet{}, jwt.KeySet{}, err
		}
		if method == string(jwt.MethodEd25519) {
			ap := ed25519.NewKeyFromSeed(a)
			rp := ed25519.NewKeyFromSeed(r)
			a, r = ap, rp
			access.PublicKey = ap.Public().(ed25519.PublicKey)
			refresh.PublicKey = rp.Public().(ed25519.PublicKey)
		}
		access.PrivateKey, refresh.PrivateKey = a, r
	}

	if method == string(jwt.MethodHS256) {
		if len(access.PrivateKey) < minSecretLength || len(refresh.PrivateKey) < minSecretLength {
			return jwt.KeySet{}, jwt.KeySet{}, errors.New("hs256 keys must be >= 32 bytes")
		}
	}
	if method == string(jwt.MethodEd25519) {
		var err error
		if access.PublicKey, err = edPublicKey(access); err != nil {
			return jwt.KeySet{}, jwt.KeySet{}, err
		}
		if refresh.PublicKey, err = edPublicKey(refresh); err != nil {
			return jwt.KeySet{}, jwt.KeySet{}, err
		}
	}
	if bytes.Equal(access.PrivateKey, refresh.PrivateKey) {
		return jwt.KeySet{}, jwt.KeySet{}, errors.New("Token AccessKey and RefreshKey must differ")
	}

	access.KeyID = keyID("a", access.PrivateKey)
	refresh.KeyID = keyID("r", refresh.PrivateKey)
	return access, refresh, nil
}

func deriveKey(master []byte, info string) ([]byte, error) {
	out := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return out, nil
}

func edPublicKey(ks jwt.KeySet) ([]byte, error) {
	if len(ks.PublicKey) > 0 {
		return ks.PublicKey, nil
	}
	if len(ks.PrivateKey) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(ks.PrivateKey).Public().(ed25519.PublicKey), nil
	}
	return nil, errors.New("ed25519 requires a PublicKey when the PrivateKey is PEM encoded")
}

// keyID is a short non-secret fingerprint placed in the kid header.
func keyID(prefix string, key []byte) string {
	sum := sha256.Sum256(key)
	return fmt.Sprintf("%s-%x", prefix, sum[:4])
}
