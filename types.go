package trustcore

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// SessionRequest opens a session for an already authenticated user.
type SessionRequest struct {
	UserID    string
	Role      string
	IP        string
	UserAgent string
}

// IssueRequest describes the identity carried by a new credential pair. The
// caller is responsible for having checked that SessionID belongs to UserID.
type IssueRequest struct {
	UserID    string
	Email     string
	Role      string
	SessionID string
	IP        string
	UserAgent string
}

// Claims is the verified identity carried by a credential. FamilyID is only
// set for renewal credentials.
type Claims struct {
	UserID    string
	Email     string
	Role      string
	SessionID string
	FamilyID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair is the result of issuing a fresh access and renewal credential.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	FamilyID         string
}

// RefreshResult is the outcome of one rotation.
type RefreshResult struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	FamilyID         string
	PreviousFamilyID string
}

// RevokeResult reports what a revocation touched.
type RevokeResult struct {
	RevokedTokens       int64
	DeactivatedSessions int64
}

// CleanupResult reports what a token cleanup pass removed.
type CleanupResult struct {
	DeletedTokens       int64
	DeactivatedSessions int64
}

// MFAEnrollment is returned once on enrollment. BackupCodes are plaintext and
// never retrievable again.
type MFAEnrollment struct {
	Secret        string
	EnrollmentURI string
	BackupCodes   []string
}

type MFAVerification struct {
	Valid        bool
	IsBackupCode bool
}

type MFAStatus struct {
	Enrolled             bool
	Enabled              bool
	BackupCodesRemaining int
}

// RequestContext identifies the request being rate limited.
type RequestContext struct {
	IP        string
	UserAgent string
	Method    string
	Path      string
}

// RateLimitResult is the decision for one request.
type RateLimitResult struct {
	Allowed bool
	// Unlimited is set when no rule matched or the limiter failed open.
	Unlimited bool
	// Degraded is set when the store failed and the request was let through.
	Degraded   bool
	Rule       string
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// SetHeaders writes the X-RateLimit-* headers, and Retry-After when denied.
func (r RateLimitResult) SetHeaders(h http.Header) {
	if r.Unlimited {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(r.ResetTime.Unix(), 10))
	if !r.Allowed {
		h.Set("Retry-After", strconv.FormatInt(retryAfterSeconds(r.RetryAfter), 10))
	}
}

func retryAfterSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RateLimitDecision wraps a result together with the response to send when denied.
type RateLimitDecision struct {
	Allowed  bool
	Result   RateLimitResult
	Response *RateLimitResponse
}

// RateLimitResponse is a ready-to-send 429 response.
type RateLimitResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func newRateLimitResponse(r RateLimitResult) *RateLimitResponse {
	h := make(http.Header)
	r.SetHeaders(h)
	h.Set("Content-Type", "application/json")
	body, _ := json.Marshal(struct {
		Error      string `json:"error"`
		RetryAfter int64  `json:"retryAfter"`
	}{MessageTooManyRequests, retryAfterSeconds(r.RetryAfter)})
	return &RateLimitResponse{
		StatusCode: http.StatusTooManyRequests,
		Header:     h,
		Body:       body,
	}
}

// Write sends the response.
func (r *RateLimitResponse) Write(w http.ResponseWriter) {
	for k, v := range r.Header {
		w.Header()[k] = append([]string(nil), v...)
	}
	w.WriteHeader(r.StatusCode)
	_, _ = w.Write(r.Body)
}

// JanitorReport summarizes one cleanup pass.
type JanitorReport struct {
	DeletedTokens       int64
	DeactivatedSessions int64
	PurgedSessions      int64
	DeletedHits         int64
	Errors              []error
}
