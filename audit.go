package trustcore

import (
	"context"
	"io"

	"github.com/MrEthical07/trustcore/internal/audit"
)

// AuditEvent is one audit record.
type AuditEvent = audit.Event

// AuditSink receives audit events. A failing sink never fails the audited operation.
type AuditSink = audit.Sink

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	AuditSinkFunc  = audit.SinkFunc
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

const (
	auditSessionCreated        = "session_created"
	auditTokensIssued          = "tokens_issued"
	auditAccessRejected        = "access_token_rejected"
	auditRefreshRejected       = "refresh_token_rejected"
	auditTokenRefreshed        = "token_refreshed"
	auditRefreshReuseDetected  = "refresh_reuse_detected"
	auditTokensRevoked         = "tokens_revoked"
	auditTokensCleanup         = "tokens_cleanup"
	auditMFASetupRequested     = "mfa_setup_requested"
	auditMFAVerified           = "mfa_verified"
	auditMFAVerifyFailed       = "mfa_verify_failed"
	auditMFARateLimited        = "mfa_rate_limited"
	auditMFAEnabled            = "mfa_enabled"
	auditMFADisabled           = "mfa_disabled"
	auditBackupCodesRegenerate = "backup_codes_regenerated"
	auditRateLimitExceeded     = "rate_limit_exceeded"
)

const (
	resourceSession      = "session"
	resourceRefreshToken = "refresh_token"
	resourceAccessToken  = "access_token"
	resourceMFA          = "mfa"
	resourceRateLimit    = "rate_limit"
)

type auditRecord struct {
	action       string
	resourceType string
	resourceID   string
	userID       string
	sessionID    string
	ip           string
	success      bool
	reason       string
}

func (c *core) emitAudit(ctx context.Context, r auditRecord, metadataBuilder func() map[string]string) {
	if c == nil || c.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	c.audit.Emit(ctx, AuditEvent{
		Timestamp:    c.clock.Now().UTC(),
		Action:       r.action,
		ResourceType: r.resourceType,
		ResourceID:   r.resourceID,
		UserID:       r.userID,
		SessionID:    r.sessionID,
		IP:           r.ip,
		Success:      r.success,
		Reason:       r.reason,
		Metadata:     metadata,
	})
}
