package trustcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/trustcore/jwt"
	"github.com/MrEthical07/trustcore/store"
	"github.com/google/uuid"
)

// TokenManager issues, verifies, rotates and revokes credential pairs.
//
// Every store failure on this path fails closed with ErrStoreUnavailable: the
// manager gates access to protected data. The rate limiter deliberately does
// the opposite; do not unify the two.
type TokenManager struct {
	*core
	cfg TokenConfig
	jwt *jwt.Manager
}

// OpenSession creates an active session that lives as long as a renewal credential.
func (m *TokenManager) OpenSession(ctx context.Context, req SessionRequest) (*store.Session, error) {
	if req.UserID == "" {
		return nil, ErrInvalidRequest
	}

	now := m.now()
	sess := &store.Session{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Role:         req.Role,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.cfg.RefreshTTL),
		LastActivity: now,
		Active:       true,
		IP:           req.IP,
		UserAgent:    req.UserAgent,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, m.storeFailure("create session", err)
	}

	m.metricInc(MetricSessionCreated)
	m.emitAudit(ctx, auditRecord{
		action:       auditSessionCreated,
		resourceType: resourceSession,
		resourceID:   sess.ID,
		userID:       sess.UserID,
		sessionID:    sess.ID,
		ip:           req.IP,
		success:      true,
	}, nil)
	return sess, nil
}

// CreateTokenPair signs an access credential and a renewal credential with
// separate keys and records the renewal credential's new family.
func (m *TokenManager) CreateTokenPair(ctx context.Context, req IssueRequest) (*TokenPair, error) {
	if req.UserID == "" || req.SessionID == "" {
		return nil, ErrInvalidRequest
	}

	now := m.issueTime()
	familyID := uuid.NewString()
	identity := jwt.Claims{
		UserID:    req.UserID,
		Email:     req.Email,
		Role:      req.Role,
		SessionID: req.SessionID,
		FamilyID:  familyID,
	}

	access, accessExp, refresh, refreshExp, err := m.sign(identity, now)
	if err != nil {
		return nil, err
	}

	if err := m.store.CreateRenewal(ctx, &store.RenewalRecord{
		FamilyID:  familyID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		CreatedAt: now,
		ExpiresAt: refreshExp,
	}); err != nil {
		return nil, m.storeFailure("create renewal record", err)
	}

	m.metricInc(MetricTokensIssued)
	m.emitAudit(ctx, auditRecord{
		action:       auditTokensIssued,
		resourceType: resourceRefreshToken,
		resourceID:   familyID,
		userID:       req.UserID,
		sessionID:    req.SessionID,
		ip:           req.IP,
		success:      true,
	}, func() map[string]string {
		return map[string]string{
			"access_expires_at":  accessExp.UTC().Format(time.RFC3339),
			"refresh_expires_at": refreshExp.UTC().Format(time.RFC3339),
		}
	})

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresAt:        accessExp,
		RefreshExpiresAt: refreshExp,
		SessionID:        req.SessionID,
		FamilyID:         familyID,
	}, nil
}

// issueTime is the current time at the second precision of the exp claim, so
// the expiry returned to callers equals the one that was signed.
func (m *TokenManager) issueTime() time.Time {
	return m.now().Truncate(time.Second)
}

func (m *TokenManager) sign(identity jwt.Claims, now time.Time) (access string, accessExp time.Time, refresh string, refreshExp time.Time, err error) {
	accessExp = now.Add(m.cfg.AccessTTL).Truncate(time.Second)
	refreshExp = now.Add(m.cfg.RefreshTTL).Truncate(time.Second)

	access, err = m.jwt.Issue(jwt.TypeAccess, identity, now, accessExp)
	if err != nil {
		return "", time.Time{}, "", time.Time{}, err
	}
	refresh, err = m.jwt.Issue(jwt.TypeRefresh, identity, now, refreshExp)
	if err != nil {
		return "", time.Time{}, "", time.Time{}, err
	}
	return access, accessExp, refresh, refreshExp, nil
}

// VerifyAccessToken verifies an access credential and the liveness of its session.
//
// An expired credential returns ErrAccessTokenExpired before the signature is
// checked; ShouldRefresh reports true for it. The unverified decode is used for
// nothing else.
func (m *TokenManager) VerifyAccessToken(ctx context.Context, token string) (*Claims, error) {
	start := time.Now()
	claims, err := m.verifyAccess(ctx, token)
	if m.metrics.LatencyEnabled() {
		m.metrics.Observe(MetricVerifyLatency, time.Since(start))
	}
	if err != nil {
		m.metricInc(MetricAccessVerifyFailure)
		return nil, err
	}
	m.metricInc(MetricAccessVerifySuccess)
	return claims, nil
}

func (m *TokenManager) verifyAccess(ctx context.Context, token string) (*Claims, error) {
	now := m.now()

	exp, err := m.jwt.PeekExpiry(token)
	if err != nil {
		m.rejectAccess(ctx, nil, "malformed")
		return nil, ErrTokenInvalid
	}
	if !now.Before(exp) {
		m.metricInc(MetricAccessTokenExpired)
		return nil, ErrAccessTokenExpired
	}

	c, err := m.jwt.Parse(jwt.TypeAccess, token)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrExpired):
			m.metricInc(MetricAccessTokenExpired)
			return nil, ErrAccessTokenExpired
		case errors.Is(err, jwt.ErrWrongType):
			m.rejectAccess(ctx, nil, "wrong_type")
			return nil, ErrTokenWrongType
		default:
			m.rejectAccess(ctx, nil, "invalid_signature_or_claims")
			return nil, ErrTokenInvalid
		}
	}

	sess, err := m.store.GetSession(ctx, c.SessionID, c.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		m.metricInc(MetricSessionRejected)
		m.rejectAccess(ctx, c, "session_not_found")
		return nil, ErrSessionNotFound
	case err != nil:
		return nil, m.storeFailure("get session", err)
	}
	if !sess.Active {
		m.metricInc(MetricSessionRejected)
		m.rejectAccess(ctx, c, "session_inactive")
		return nil, ErrSessionNotFound
	}
	if !sess.ExpiresAt.After(now) {
		m.metricInc(MetricSessionRejected)
		m.rejectAccess(ctx, c, "session_expired")
		return nil, ErrSessionNotFound
	}

	if m.cfg.TouchSessionOnVerify {
		if err := m.store.TouchSession(ctx, sess.ID, now, time.Time{}); err != nil {
			m.logf("session touch failed session=%s: %v", sess.ID, err)
		}
	}

	return claimsFrom(c), nil
}

func (m *TokenManager) rejectAccess(ctx context.Context, c *jwt.Claims, reason string) {
	r := auditRecord{
		action:       auditAccessRejected,
		resourceType: resourceAccessToken,
		reason:       reason,
	}
	if c != nil {
		r.userID = c.UserID
		r.sessionID = c.SessionID
	}
	m.emitAudit(ctx, r, nil)
}

// VerifyRefreshToken verifies a renewal credential against its signature and
// against its stored record, so a revoked credential is rejected before its
// signed expiry.
func (m *TokenManager) VerifyRefreshToken(ctx context.Context, token string) (*Claims, error) {
	c, _, err := m.verifyRefresh(ctx, token)
	if err != nil {
		return nil, err
	}
	return claimsFrom(c), nil
}

// verifyRefresh also returns the stored record when it was found, including
// for revoked records.
func (m *TokenManager) verifyRefresh(ctx context.Context, token string) (*jwt.Claims, *store.RenewalRecord, error) {
	now := m.now()

	c, err := m.jwt.Parse(jwt.TypeRefresh, token)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrExpired):
			return nil, nil, ErrRefreshTokenExpired
		case errors.Is(err, jwt.ErrWrongType):
			m.rejectRefresh(ctx, nil, nil, "wrong_type")
			return nil, nil, ErrTokenWrongType
		default:
			m.rejectRefresh(ctx, nil, nil, "invalid_signature_or_claims")
			return nil, nil, ErrTokenInvalid
		}
	}
	if c.ExpiresAt == nil || !now.Before(c.ExpiresAt.Time) {
		return nil, nil, ErrRefreshTokenExpired
	}

	rec, err := m.store.GetRenewal(ctx, c.FamilyID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		m.rejectRefresh(ctx, c, nil, "record_not_found")
		return nil, nil, ErrTokenInvalid
	case err != nil:
		return nil, nil, m.storeFailure("get renewal record", err)
	}
	if rec.UserID != c.UserID {
		m.rejectRefresh(ctx, c, nil, "owner_mismatch")
		return nil, nil, ErrTokenInvalid
	}
	if rec.Revoked {
		m.metricInc(MetricRefreshRevoked)
		m.rejectRefresh(ctx, c, rec, "revoked")
		return c, rec, ErrRefreshRevoked
	}
	if !rec.ExpiresAt.After(now) {
		return nil, nil, ErrRefreshTokenExpired
	}
	return c, rec, nil
}

func (m *TokenManager) rejectRefresh(ctx context.Context, c *jwt.Claims, rec *store.RenewalRecord, reason string) {
	r := auditRecord{
		action:       auditRefreshRejected,
		resourceType: resourceRefreshToken,
		reason:       reason,
	}
	if c != nil {
		r.resourceID = c.FamilyID
		r.userID = c.UserID
		r.sessionID = c.SessionID
	}
	var builder func() map[string]string
	if rec != nil {
		builder = func() map[string]string {
			return map[string]string{
				"revoked_reason": rec.RevokedReason,
				"replaced_by":    rec.ReplacedBy,
			}
		}
	}
	m.emitAudit(ctx, r, builder)
}

// RefreshAccessToken rotates a renewal credential: the old family is revoked
// and a new one recorded in one atomic store step, then a new access
// credential is returned. Of concurrent callers presenting the same credential
// exactly one succeeds; the others get ErrRefreshRevoked.
func (m *TokenManager) RefreshAccessToken(ctx context.Context, token, ip, userAgent string) (*RefreshResult, error) {
	c, rec, err := m.verifyRefresh(ctx, token)
	if err != nil {
		if errors.Is(err, ErrRefreshRevoked) && rec != nil && rec.RevokedReason == store.ReasonRotation {
			m.handleReuse(ctx, rec, ip)
		}
		m.metricInc(MetricRefreshFailure)
		return nil, err
	}

	sess, err := m.store.GetSession(ctx, c.SessionID, c.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		m.metricInc(MetricRefreshFailure)
		return nil, ErrSessionNotFound
	case err != nil:
		m.metricInc(MetricRefreshFailure)
		return nil, m.storeFailure("get session", err)
	}
	now := m.issueTime()
	if !sess.Live(m.now()) {
		m.metricInc(MetricRefreshFailure)
		m.rejectRefresh(ctx, c, nil, "session_inactive")
		return nil, ErrSessionNotFound
	}

	newFamily := uuid.NewString()
	identity := jwt.Claims{
		UserID:    c.UserID,
		Email:     c.Email,
		Role:      c.Role,
		SessionID: c.SessionID,
		FamilyID:  newFamily,
	}
	access, accessExp, refresh, refreshExp, err := m.sign(identity, now)
	if err != nil {
		m.metricInc(MetricRefreshFailure)
		return nil, err
	}

	err = m.store.RotateRenewal(ctx, c.FamilyID, c.UserID, &store.RenewalRecord{
		FamilyID:  newFamily,
		UserID:    c.UserID,
		SessionID: c.SessionID,
		IP:        ip,
		UserAgent: userAgent,
		CreatedAt: now,
		ExpiresAt: refreshExp,
	}, m.now())
	switch {
	case errors.Is(err, store.ErrConflict):
		// Lost the race against another rotation of the same family.
		m.metricInc(MetricRefreshRevoked)
		m.metricInc(MetricRefreshFailure)
		m.rejectRefresh(ctx, c, nil, "rotation_conflict")
		return nil, ErrRefreshRevoked
	case errors.Is(err, store.ErrNotFound):
		m.metricInc(MetricRefreshFailure)
		return nil, ErrTokenInvalid
	case err != nil:
		m.metricInc(MetricRefreshFailure)
		return nil, m.storeFailure("rotate renewal record", err)
	}

	if err := m.store.TouchSession(ctx, sess.ID, m.now(), refreshExp); err != nil {
		m.logf("session extend failed session=%s: %v", sess.ID, err)
	}

	m.metricInc(MetricRefreshSuccess)
	m.emitAudit(ctx, auditRecord{
		action:       auditTokenRefreshed,
		resourceType: resourceRefreshToken,
		resourceID:   newFamily,
		userID:       c.UserID,
		sessionID:    c.SessionID,
		ip:           ip,
		success:      true,
	}, func() map[string]string {
		return map[string]string{
			"old_family_id":      c.FamilyID,
			"new_family_id":      newFamily,
			"access_expires_at":  accessExp.UTC().Format(time.RFC3339),
			"refresh_expires_at": refreshExp.UTC().Format(time.RFC3339),
		}
	})

	return &RefreshResult{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresAt:        accessExp,
		RefreshExpiresAt: refreshExp,
		FamilyID:         newFamily,
		PreviousFamilyID: c.FamilyID,
	}, nil
}

// handleReuse runs when a credential that was already rotated out comes back.
// It always audits; with RevokeFamilyOnReuse it also kills the chain, which
// shares one session id.
func (m *TokenManager) handleReuse(ctx context.Context, rec *store.RenewalRecord, ip string) {
	m.metricInc(MetricRefreshReuseDetected)

	var revoked, deactivated int64
	if m.cfg.RevokeFamilyOnReuse {
		now := m.now()
		var err error
		if revoked, err = m.store.RevokeRenewals(ctx, rec.UserID, rec.SessionID, store.ReasonReuseDetected, now); err != nil {
			m.logf("reuse revocation failed session=%s: %v", rec.SessionID, err)
		}
		if deactivated, err = m.store.DeactivateSessions(ctx, rec.UserID, rec.SessionID, store.ReasonReuseDetected, now); err != nil {
			m.logf("reuse session deactivation failed session=%s: %v", rec.SessionID, err)
		}
		m.metricInc(MetricTokensRevoked)
	}

	m.emitAudit(ctx, auditRecord{
		action:       auditRefreshReuseDetected,
		resourceType: resourceRefreshToken,
		resourceID:   rec.FamilyID,
		userID:       rec.UserID,
		sessionID:    rec.SessionID,
		ip:           ip,
		reason:       store.ReasonReuseDetected,
	}, func() map[string]string {
		return map[string]string{
			"replaced_by":          rec.ReplacedBy,
			"family_revoked":       strconv.FormatBool(m.cfg.RevokeFamilyOnReuse),
			"revoked_tokens":       strconv.FormatInt(revoked, 10),
			"deactivated_sessions": strconv.FormatInt(deactivated, 10),
		}
	})
}

// RevokeAllUserTokens revokes the user's renewal records and deactivates the
// matching sessions. A non-empty sessionID limits both to that session.
func (m *TokenManager) RevokeAllUserTokens(ctx context.Context, userID, sessionID, reason string) (*RevokeResult, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	if reason == "" {
		reason = store.ReasonLogout
	}

	now := m.now()
	revoked, err := m.store.RevokeRenewals(ctx, userID, sessionID, reason, now)
	if err != nil {
		return nil, m.storeFailure("revoke renewal records", err)
	}
	deactivated, err := m.store.DeactivateSessions(ctx, userID, sessionID, reason, now)
	if err != nil {
		return nil, m.storeFailure("deactivate sessions", err)
	}

	m.metricInc(MetricTokensRevoked)
	if deactivated > 0 {
		m.metricInc(MetricSessionDeactivated)
	}
	m.emitAudit(ctx, auditRecord{
		action:       auditTokensRevoked,
		resourceType: resourceSession,
		resourceID:   sessionID,
		userID:       userID,
		sessionID:    sessionID,
		success:      true,
		reason:       reason,
	}, func() map[string]string {
		return map[string]string{
			"revoked_tokens":       strconv.FormatInt(revoked, 10),
			"deactivated_sessions": strconv.FormatInt(deactivated, 10),
		}
	})

	return &RevokeResult{RevokedTokens: revoked, DeactivatedSessions: deactivated}, nil
}

// CleanupExpiredTokens deletes expired renewal records and deactivates expired
// sessions. It is idempotent.
func (m *TokenManager) CleanupExpiredTokens(ctx context.Context) (*CleanupResult, error) {
	now := m.now()
	deleted, err := m.store.DeleteExpiredRenewals(ctx, now)
	if err != nil {
		return nil, m.storeFailure("delete expired renewal records", err)
	}
	deactivated, err := m.store.DeactivateExpiredSessions(ctx, now)
	if err != nil {
		return nil, m.storeFailure("deactivate expired sessions", err)
	}

	if deleted > 0 || deactivated > 0 {
		m.emitAudit(ctx, auditRecord{
			action:       auditTokensCleanup,
			resourceType: resourceRefreshToken,
			success:      true,
		}, func() map[string]string {
			return map[string]string{
				"deleted_tokens":       strconv.FormatInt(deleted, 10),
				"deactivated_sessions": strconv.FormatInt(deactivated, 10),
			}
		})
	}
	return &CleanupResult{DeletedTokens: deleted, DeactivatedSessions: deactivated}, nil
}

// GetUserActiveSessions lists the user's active, unexpired sessions.
func (m *TokenManager) GetUserActiveSessions(ctx context.Context, userID string) ([]store.Session, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	sessions, err := m.store.ListActiveSessions(ctx, userID, m.now())
	if err != nil {
		return nil, m.storeFailure("list sessions", err)
	}
	return sessions, nil
}

func claimsFrom(c *jwt.Claims) *Claims {
	out := &Claims{
		UserID:    c.UserID,
		Email:     c.Email,
		Role:      c.Role,
		SessionID: c.SessionID,
	}
	if c.Type == jwt.TypeRefresh {
		out.FamilyID = c.FamilyID
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}
