package internaldefs

import (
	"github.com/MrEthical07/trustcore"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   trustcore.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   trustcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: trustcore.MetricSessionCreated, Name: "trustcore_session_created_total", Help: "Sessions opened."},
	{ID: trustcore.MetricTokensIssued, Name: "trustcore_tokens_issued_total", Help: "Credential pairs issued."},
	{ID: trustcore.MetricAccessVerifySuccess, Name: "trustcore_access_verify_success_total", Help: "Accepted access credentials."},
	{ID: trustcore.MetricAccessVerifyFailure, Name: "trustcore_access_verify_failure_total", Help: "Rejected access credentials."},
	{ID: trustcore.MetricAccessTokenExpired, Name: "trustcore_access_token_expired_total", Help: "Access credentials rejected as expired."},
	{ID: trustcore.MetricSessionRejected, Name: "trustcore_session_rejected_total", Help: "Credentials rejected because the session is gone or inactive."},
	{ID: trustcore.MetricRefreshSuccess, Name: "trustcore_refresh_success_total", Help: "Successful rotations."},
	{ID: trustcore.MetricRefreshFailure, Name: "trustcore_refresh_failure_total", Help: "Failed rotations."},
	{ID: trustcore.MetricRefreshRevoked, Name: "trustcore_refresh_revoked_total", Help: "Rotations lost to a concurrent rotation."},
	{ID: trustcore.MetricRefreshReuseDetected, Name: "trustcore_refresh_reuse_detected_total", Help: "Rotated-out renewal credentials presented again."},
	{ID: trustcore.MetricRefreshDeduplicated, Name: "trustcore_refresh_deduplicated_total", Help: "Refresh calls served by a shared in-flight rotation."},
	{ID: trustcore.MetricTokensRevoked, Name: "trustcore_tokens_revoked_total", Help: "Renewal records revoked."},
	{ID: trustcore.MetricSessionDeactivated, Name: "trustcore_session_deactivated_total", Help: "Sessions deactivated by revocation."},
	{ID: trustcore.MetricMFASetup, Name: "trustcore_mfa_setup_total", Help: "MFA enrollments started."},
	{ID: trustcore.MetricMFASuccess, Name: "trustcore_mfa_success_total", Help: "Accepted MFA codes."},
	{ID: trustcore.MetricMFAFailure, Name: "trustcore_mfa_failure_total", Help: "Rejected MFA codes."},
	{ID: trustcore.MetricMFARateLimited, Name: "trustcore_mfa_rate_limited_total", Help: "MFA attempts refused by the attempt budget."},
	{ID: trustcore.MetricMFAReplayRejected, Name: "trustcore_mfa_replay_rejected_total", Help: "TOTP codes rejected as replayed."},
	{ID: trustcore.MetricMFAEnabled, Name: "trustcore_mfa_enabled_total", Help: "MFA enable operations."},
	{ID: trustcore.MetricMFADisabled, Name: "trustcore_mfa_disabled_total", Help: "MFA disable operations."},
	{ID: trustcore.MetricBackupCodeUsed, Name: "trustcore_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: trustcore.MetricBackupCodeRegenerated, Name: "trustcore_backup_code_regenerated_total", Help: "Backup code regenerations."},
	{ID: trustcore.MetricRateLimitAllowed, Name: "trustcore_rate_limit_allowed_total", Help: "Requests admitted by a matching rule."},
	{ID: trustcore.MetricRateLimitHit, Name: "trustcore_rate_limit_hit_total", Help: "Requests denied by a matching rule."},
	{ID: trustcore.MetricRateLimitFailOpen, Name: "trustcore_rate_limit_fail_open_total", Help: "Requests admitted because the store failed."},
	{ID: trustcore.MetricStoreUnavailable, Name: "trustcore_store_unavailable_total", Help: "Operations failed closed on a store error."},
	{ID: trustcore.MetricJanitorRun, Name: "trustcore_janitor_run_total", Help: "Cleanup passes."},
	{ID: trustcore.MetricJanitorFailure, Name: "trustcore_janitor_failure_total", Help: "Cleanup passes with at least one failed step."},
}

// HistogramDefs lists every histogram.
var HistogramDefs = []HistogramDef{
	{ID: trustcore.MetricVerifyLatency, Name: "trustcore_verify_latency_seconds", Help: "Access credential verification latency."},
}

// HistogramBounds are the upper bounds of the core latency buckets, in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in instrument-name form.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size bucket array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
