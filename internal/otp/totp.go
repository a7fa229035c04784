package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultSecretBytes is the length of generated shared secrets (160 bits, RFC 4226 recommendation).
const DefaultSecretBytes = 20

// MaxWindow bounds the accepted drift on either side of the current step.
const MaxWindow = 2

var (
	ErrEmptySecret          = errors.New("otp: empty secret")
	ErrUnsupportedAlgorithm = errors.New("otp: unsupported algorithm")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config describes a TOTP profile.
type Config struct {
	Issuer      string
	Digits      int
	Period      int
	Algorithm   string
	Window      int
	SecretBytes int
}

// TOTP generates and verifies time-based one-time passwords.
type TOTP struct {
	config Config
}

func New(cfg Config) *TOTP {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	cfg.Algorithm = strings.ToUpper(cfg.Algorithm)
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	if cfg.SecretBytes == 0 {
		cfg.SecretBytes = DefaultSecretBytes
	}
	return &TOTP{config: cfg}
}

func (t *TOTP) Config() Config {
	return t.config
}

// GenerateSecret returns a fresh random secret and its unpadded base32 form.
func (t *TOTP) GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, t.config.SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, EncodeSecret(raw), nil
}

func EncodeSecret(raw []byte) string {
	return secretEncoding.EncodeToString(raw)
}

func DecodeSecret(s string) ([]byte, error) {
	return secretEncoding.DecodeString(strings.ToUpper(strings.TrimSpace(s)))
}

// EnrollmentURI builds the otpauth:// key URI consumed by authenticator apps.
func (t *TOTP) EnrollmentURI(secretBase32, account string) string {
	issuer := t.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("algorithm", t.config.Algorithm)
	v.Set("digits", strconv.Itoa(t.config.Digits))
	v.Set("period", strconv.Itoa(t.config.Period))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Step returns the time-step counter for now.
func (t *TOTP) Step(now time.Time) int64 {
	return now.Unix() / int64(t.config.Period)
}

// CodeAt returns the code for the step containing now.
func (t *TOTP) CodeAt(secret []byte, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	return HOTP(secret, t.Step(now), t.config.Digits, t.config.Algorithm)
}

// Verify checks code against the steps within ±Window of now. It returns the
// matched step so callers can enforce single use of a step.
func (t *TOTP) Verify(secret []byte, code string, now time.Time) (bool, int64, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != t.config.Digits || !isNumeric(trimmed) {
		return false, 0, nil
	}
	if len(secret) == 0 {
		return false, 0, ErrEmptySecret
	}

	base := t.Step(now)
	matched := int64(-1)
	for step := -t.config.Window; step <= t.config.Window; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := HOTP(secret, counter, t.config.Digits, t.config.Algorithm)
		if err != nil {
			return false, 0, err
		}
		// every candidate is compared so timing does not reveal which step matched
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 && matched < 0 {
			matched = counter
		}
	}
	if matched < 0 {
		return false, 0, nil
	}
	return true, matched, nil
}

// HOTP computes the RFC 4226 value for counter: HMAC, dynamic truncation,
// modulo 10^digits, left-padded with zeros.
func HOTP(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

// SupportedAlgorithm reports whether algorithm can be used for HOTP.
func SupportedAlgorithm(algorithm string) bool {
	_, err := hmacFunc(algorithm)
	return err == nil
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
