package trustcore

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/MrEthical07/trustcore/internal/otp"
	"github.com/MrEthical07/trustcore/internal/rate"
	"github.com/MrEthical07/trustcore/store"
)

// MFAService manages TOTP enrollment, verification and backup codes.
//
// Store failures fail closed, including failures of the attempt limiter.
type MFAService struct {
	*core
	cfg         MFAConfig
	totp        *otp.TOTP
	attempts    *rate.Limiter
	attemptRule rate.Rule
}

// GenerateSecret creates a pending (disabled) secret with fresh backup codes,
// replacing any earlier pending enrollment. It refuses while MFA is enabled.
func (s *MFAService) GenerateSecret(ctx context.Context, userID, email string) (*MFAEnrollment, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}

	existing, err := s.store.GetMFASecret(ctx, userID)
	switch {
	case err == nil && existing.Enabled:
		return nil, ErrMFAAlreadyEnabled
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, s.storeFailure("get mfa secret", err)
	}

	raw, encoded, err := s.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	codes, err := otp.NewBackupCodes(s.cfg.BackupCodeCount, s.cfg.BackupCodeLength)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.store.SaveMFASecret(ctx, &store.MFASecret{
		UserID:      userID,
		Secret:      raw,
		BackupCodes: otp.HashBackupCodes(userID, codes),
		Enabled:     false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		return nil, s.storeFailure("save mfa secret", err)
	}

	account := email
	if account == "" {
		account = userID
	}

	s.metricInc(MetricMFASetup)
	s.emitAudit(ctx, auditRecord{
		action:       auditMFASetupRequested,
		resourceType: resourceMFA,
		resourceID:   userID,
		userID:       userID,
		success:      true,
	}, nil)

	return &MFAEnrollment{
		Secret:        encoded,
		EnrollmentURI: s.totp.EnrollmentURI(encoded, account),
		BackupCodes:   codes,
	}, nil
}

// VerifyCode checks a TOTP code or consumes a backup code. Every miss returns
// ErrMFAInvalidCode without saying which kind of code was wrong.
func (s *MFAService) VerifyCode(ctx context.Context, userID, code string) (*MFAVerification, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	if err := s.checkAttempts(ctx, userID); err != nil {
		return &MFAVerification{}, err
	}

	m, err := s.store.GetMFASecret(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.verifyFailed(ctx, userID, "not_enrolled")
		return &MFAVerification{}, ErrMFANotEnrolled
	case err != nil:
		return &MFAVerification{}, s.storeFailure("get mfa secret", err)
	}

	res, err := s.check(ctx, m, code)
	if err != nil {
		return &MFAVerification{}, err
	}
	if !res.Valid {
		return res, ErrMFAInvalidCode
	}
	s.attemptsSucceeded(ctx, userID)
	return res, nil
}

func (s *MFAService) check(ctx context.Context, m *store.MFASecret, code string) (*MFAVerification, error) {
	canonical := otp.CanonicalizeBackupCode(code)
	if otp.LooksLikeBackupCode(canonical, s.cfg.BackupCodeLength) {
		ok, err := s.store.ConsumeBackupCode(ctx, m.UserID, otp.BackupCodeHash(m.UserID, canonical))
		if err != nil {
			return nil, s.storeFailure("consume backup code", err)
		}
		if !ok {
			s.verifyFailed(ctx, m.UserID, "invalid_code")
			return &MFAVerification{}, nil
		}
		s.metricInc(MetricBackupCodeUsed)
		s.verified(ctx, m.UserID, true, len(m.BackupCodes)-1)
		return &MFAVerification{Valid: true, IsBackupCode: true}, nil
	}

	ok, step, err := s.totp.Verify(m.Secret, strings.TrimSpace(code), s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		s.verifyFailed(ctx, m.UserID, "invalid_code")
		return &MFAVerification{}, nil
	}

	if s.cfg.EnforceReplayProtection {
		advanced, err := s.store.AdvanceTOTPStep(ctx, m.UserID, step)
		if err != nil {
			return nil, s.storeFailure("advance totp step", err)
		}
		if !advanced {
			s.metricInc(MetricMFAReplayRejected)
			s.verifyFailed(ctx, m.UserID, "replayed_code")
			return &MFAVerification{}, nil
		}
	}

	s.verified(ctx, m.UserID, false, len(m.BackupCodes))
	return &MFAVerification{Valid: true}, nil
}

// checkAttempts counts every verification attempt against the user's budget.
// Unlike the request limiter this fails closed: an unreachable store must not
// open an unthrottled brute-force window on codes.
func (s *MFAService) checkAttempts(ctx context.Context, userID string) error {
	if s.cfg.MaxAttempts <= 0 {
		return nil
	}
	d, err := s.attempts.Hit(ctx, attemptKey(userID), s.attemptRule)
	switch {
	case errors.Is(err, rate.ErrRateLimited):
		s.metricInc(MetricMFARateLimited)
		s.emitAudit(ctx, auditRecord{
			action:       auditMFARateLimited,
			resourceType: resourceMFA,
			resourceID:   userID,
			userID:       userID,
			reason:       "attempts_exceeded",
		}, func() map[string]string {
			return map[string]string{
				"attempts":    strconv.Itoa(d.Count + 1),
				"retry_after": d.RetryAfter.String(),
			}
		})
		return ErrMFARateLimited
	case err != nil:
		return s.storeFailure("record mfa attempt", err)
	}
	return nil
}

func (s *MFAService) attemptsSucceeded(ctx context.Context, userID string) {
	if s.cfg.MaxAttempts <= 0 {
		return
	}
	if err := s.attempts.Reset(ctx, attemptKey(userID)); err != nil {
		s.logf("mfa attempt reset failed user=%s: %v", userID, err)
	}
}

func attemptKey(userID string) string {
	return "mfa:" + userID
}

func (s *MFAService) verified(ctx context.Context, userID string, backup bool, remaining int) {
	s.metricInc(MetricMFASuccess)
	s.emitAudit(ctx, auditRecord{
		action:       auditMFAVerified,
		resourceType: resourceMFA,
		resourceID:   userID,
		userID:       userID,
		success:      true,
	}, func() map[string]string {
		md := map[string]string{"method": verificationMethod(backup)}
		if backup {
			md["backup_codes_remaining"] = strconv.Itoa(remaining)
		}
		return md
	})
}

func (s *MFAService) verifyFailed(ctx context.Context, userID, reason string) {
	s.metricInc(MetricMFAFailure)
	s.emitAudit(ctx, auditRecord{
		action:       auditMFAVerifyFailed,
		resourceType: resourceMFA,
		resourceID:   userID,
		userID:       userID,
		reason:       reason,
	}, nil)
}

func verificationMethod(backup bool) string {
	if backup {
		return "backup_code"
	}
	return "totp"
}

// EnableMFA verifies code against the pending secret and enables MFA.
// Confirmation by backup code is audited as low assurance.
func (s *MFAService) EnableMFA(ctx context.Context, userID, code string) (*MFAVerification, error) {
	m, err := s.load(ctx, userID)
	if err != nil {
		return &MFAVerification{}, err
	}
	if m.Enabled {
		return &MFAVerification{}, ErrMFAAlreadyEnabled
	}
	return s.transition(ctx, userID, code, true)
}

// DisableMFA verifies code and disables MFA. The secret and remaining backup
// codes are kept.
func (s *MFAService) DisableMFA(ctx context.Context, userID, code string) (*MFAVerification, error) {
	m, err := s.load(ctx, userID)
	if err != nil {
		return &MFAVerification{}, err
	}
	if !m.Enabled {
		return &MFAVerification{}, ErrMFANotEnabled
	}
	return s.transition(ctx, userID, code, false)
}

func (s *MFAService) transition(ctx context.Context, userID, code string, enable bool) (*MFAVerification, error) {
	res, err := s.VerifyCode(ctx, userID, code)
	if err != nil {
		return res, err
	}

	if err := s.store.SetMFAEnabled(ctx, userID, enable, s.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &MFAVerification{}, ErrMFANotEnrolled
		}
		return &MFAVerification{}, s.storeFailure("set mfa enabled", err)
	}

	action, metric := auditMFADisabled, MetricMFADisabled
	if enable {
		action, metric = auditMFAEnabled, MetricMFAEnabled
	}
	s.metricInc(metric)
	s.emitAudit(ctx, auditRecord{
		action:       action,
		resourceType: resourceMFA,
		resourceID:   userID,
		userID:       userID,
		success:      true,
	}, func() map[string]string {
		assurance := "high"
		if res.IsBackupCode {
			assurance = "low"
		}
		return map[string]string{
			"method":    verificationMethod(res.IsBackupCode),
			"assurance": assurance,
		}
	})
	return res, nil
}

// GenerateNewBackupCodes replaces every backup code of the user. The old codes
// stop working immediately.
func (s *MFAService) GenerateNewBackupCodes(ctx context.Context, userID string) ([]string, error) {
	if _, err := s.load(ctx, userID); err != nil {
		return nil, err
	}

	codes, err := otp.NewBackupCodes(s.cfg.BackupCodeCount, s.cfg.BackupCodeLength)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceBackupCodes(ctx, userID, otp.HashBackupCodes(userID, codes)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMFANotEnrolled
		}
		return nil, s.storeFailure("replace backup codes", err)
	}

	s.metricInc(MetricBackupCodeRegenerated)
	s.emitAudit(ctx, auditRecord{
		action:       auditBackupCodesRegenerate,
		resourceType: resourceMFA,
		resourceID:   userID,
		userID:       userID,
		success:      true,
	}, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(codes))}
	})
	return codes, nil
}

func (s *MFAService) GetMFAStatus(ctx context.Context, userID string) (*MFAStatus, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	m, err := s.store.GetMFASecret(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &MFAStatus{}, nil
	case err != nil:
		return nil, s.storeFailure("get mfa secret", err)
	}
	return &MFAStatus{
		Enrolled:             true,
		Enabled:              m.Enabled,
		BackupCodesRemaining: len(m.BackupCodes),
	}, nil
}

func (s *MFAService) load(ctx context.Context, userID string) (*store.MFASecret, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	m, err := s.store.GetMFASecret(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrMFANotEnrolled
	case err != nil:
		return nil, s.storeFailure("get mfa secret", err)
	}
	return m, nil
}
