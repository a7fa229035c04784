package jwt

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the JWS algorithm for both credential types.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// TokenType is carried in the typ claim and checked on every parse.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

var (
	// ErrExpired is returned when exp has been reached.
	ErrExpired = errors.New("jwt: token expired")
	// ErrInvalid covers malformed tokens, bad signatures and failed claim checks.
	ErrInvalid = errors.New("jwt: token invalid")
	// ErrWrongType is returned when a verified token carries another typ.
	ErrWrongType = errors.New("jwt: wrong token type")
)

// KeySet holds the keys for one credential type. HS256 uses PrivateKey as the
// shared secret.
type KeySet struct {
	PrivateKey []byte
	PublicKey  []byte
	KeyID      string
}

// Config configures a [Manager].
type Config struct {
	SigningMethod SigningMethod
	Access        KeySet
	Refresh       KeySet
	Issuer        string
	Audience      string
	MaxFutureIAT  time.Duration
	// Now is the time source for signing and validation. Defaults to time.Now.
	Now func() time.Time
}

// Manager signs and verifies access and renewal credentials, each with its own key.
type Manager struct {
	config Config
	access keyPair
	renew  keyPair
}

type keyPair struct {
	sign   interface{}
	verify interface{}
	kid    string
}

// Claims is the payload of both credential types. FamilyID is only set on
// renewal credentials.
type Claims struct {
	UserID    string    `json:"uid"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	SessionID string    `json:"sid"`
	Type      TokenType `json:"typ"`
	FamilyID  string    `json:"fid,omitempty"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and resolves the signing keys.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}

	access, err := resolveKeys(cfg.SigningMethod, cfg.Access)
	if err != nil {
		return nil, fmt.Errorf("access keys: %w", err)
	}
	renew, err := resolveKeys(cfg.SigningMethod, cfg.Refresh)
	if err != nil {
		return nil, fmt.Errorf("refresh keys: %w", err)
	}
	if sameKey(cfg.SigningMethod, cfg.Access, cfg.Refresh) {
		return nil, errors.New("access and refresh keys must differ")
	}

	return &Manager{config: cfg, access: access, renew: renew}, nil
}

func resolveKeys(method SigningMethod, ks KeySet) (keyPair, error) {
	kp := keyPair{kid: strings.TrimSpace(ks.KeyID)}
	switch method {
	case MethodHS256:
		if len(ks.PrivateKey) < 32 {
			return kp, errors.New("hs256 requires a key of at least 32 bytes")
		}
		kp.sign = ks.PrivateKey
		kp.verify = ks.PrivateKey
	case MethodEd25519:
		if len(ks.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(ks.PrivateKey)
			if err != nil {
				return kp, err
			}
			kp.sign = priv
			kp.verify = priv.Public()
		}
		if len(ks.PublicKey) > 0 {
			pub, err := parseEdPublicKey(ks.PublicKey)
			if err != nil {
				return kp, err
			}
			kp.verify = pub
		}
		if kp.verify == nil {
			return kp, errors.New("ed25519 requires a private or public key")
		}
	default:
		return kp, errors.New("unsupported signing method")
	}
	return kp, nil
}

func sameKey(method SigningMethod, a, b KeySet) bool {
	if method == MethodHS256 {
		return bytes.Equal(a.PrivateKey, b.PrivateKey)
	}
	if len(a.PublicKey) > 0 && bytes.Equal(a.PublicKey, b.PublicKey) {
		return true
	}
	return len(a.PrivateKey) > 0 && bytes.Equal(a.PrivateKey, b.PrivateKey)
}

// Issue signs claims as a credential of typ that expires at expiresAt.
// NumericDate has second precision, so callers should pass whole-second times
// if they need the returned expiry to match the signed one exactly.
func (j *Manager) Issue(typ TokenType, claims Claims, issuedAt, expiresAt time.Time) (string, error) {
	kp := j.keys(typ)
	if kp.sign == nil {
		return "", errors.New("no signing key configured for " + string(typ))
	}

	claims.Type = typ
	if typ != TypeRefresh {
		claims.FamilyID = ""
	}
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Issuer:    j.config.Issuer,
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.method(), claims)
	if kp.kid != "" {
		token.Header["kid"] = kp.kid
	}
	return token.SignedString(kp.sign)
}

// Parse fully verifies tokenStr as a credential of typ: algorithm, signature
// with the key of typ, exp against the configured clock, issuer, audience and
// the typ claim.
func (j *Manager) Parse(typ TokenType, tokenStr string) (*Claims, error) {
	kp := j.keys(typ)
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if kp.kid != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != kp.kid {
				return nil, errors.New("unknown kid")
			}
		}
		return kp.verify, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalid
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(j.config.Now().Add(j.config.MaxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalid)
	}
	if claims.Type != typ {
		return nil, ErrWrongType
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing subject claims", ErrInvalid)
	}
	if typ == TypeRefresh && claims.FamilyID == "" {
		return nil, fmt.Errorf("%w: missing family id", ErrInvalid)
	}

	return claims, nil
}

// PeekExpiry decodes exp without verifying the signature. The result must only
// be used to short-circuit to "expired"; nothing else from an unverified token
// may be trusted.
func (j *Manager) PeekExpiry(tokenStr string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: missing exp", ErrInvalid)
	}
	return claims.ExpiresAt.Time, nil
}

func (j *Manager) keys(typ TokenType) keyPair {
	if typ == TypeRefresh {
		return j.renew
	}
	return j.access
}

func (j *Manager) method() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
