package trustcore

import "errors"

var (
	// ErrAccessTokenExpired is returned when an access credential reached its
	// expiry. The caller should renew; see ShouldRefresh.
	ErrAccessTokenExpired = errors.New("access token expired")
	// ErrRefreshTokenExpired is returned when a renewal credential or its record expired.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrSessionNotFound is returned when the session is missing, deactivated or expired.
	ErrSessionNotFound = errors.New("session not found or expired")
	// ErrTokenInvalid covers malformed and forged credentials.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenWrongType is returned when a verified credential carries the other type.
	ErrTokenWrongType = errors.New("invalid token type")
	// ErrRefreshRevoked is returned for a renewal credential whose record was revoked,
	// including the loser of a concurrent rotation.
	ErrRefreshRevoked = errors.New("refresh token revoked")
	// ErrMFAInvalidCode is the only failure reported for a wrong TOTP or backup code.
	ErrMFAInvalidCode = errors.New("invalid verification code")
	// ErrMFARateLimited is returned when the per-user verification attempt budget is spent.
	ErrMFARateLimited = errors.New("too many verification attempts")
	// ErrMFANotEnrolled is returned when the user has no MFA secret.
	ErrMFANotEnrolled = errors.New("mfa not enrolled")
	// ErrMFAAlreadyEnabled is returned when enrollment or enablement targets an enabled secret.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFANotEnabled is returned when disabling MFA that is not enabled.
	ErrMFANotEnabled = errors.New("mfa not enabled")
	// ErrStoreUnavailable is returned by the token and MFA paths when the store fails.
	ErrStoreUnavailable = errors.New("trust store unavailable")
	// ErrInvalidRequest is returned for missing identifiers.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEngineNotReady is returned when a service is used without a built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Messages that may cross the HTTP boundary.
const (
	MessageInvalidSession     = "Invalid session"
	MessageTooManyRequests    = "Too many requests"
	MessageInvalidCode        = "Invalid verification code"
	MessageServiceUnavailable = "Service unavailable"
)

// ShouldRefresh reports whether err means the access credential merely expired
// and the caller should present its renewal credential.
func ShouldRefresh(err error) bool {
	return errors.Is(err, ErrAccessTokenExpired)
}

// PublicMessage maps err to a generic message. Expired, revoked and forged
// credentials all read "Invalid session" so revocation state never leaks.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStoreUnavailable):
		return MessageServiceUnavailable
	case errors.Is(err, ErrMFARateLimited):
		return MessageTooManyRequests
	case errors.Is(err, ErrMFAInvalidCode),
		errors.Is(err, ErrMFANotEnrolled),
		errors.Is(err, ErrMFANotEnabled),
		errors.Is(err, ErrMFAAlreadyEnabled):
		return MessageInvalidCode
	default:
		return MessageInvalidSession
	}
}
