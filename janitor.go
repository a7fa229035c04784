package trustcore

import (
	"context"
	"time"
)

// Janitor runs the periodic cleanup jobs: expired renewal records and
// sessions, old rate-limit hits, and hard deletion of long-deactivated sessions.
type Janitor struct {
	*core
	cfg     CleanupConfig
	tokens  *TokenManager
	limiter *RateLimiter
}

// RunOnce runs every cleanup step once. A failing step is logged and reported
// without stopping the others.
func (j *Janitor) RunOnce(ctx context.Context) JanitorReport {
	var report JanitorReport
	j.metricInc(MetricJanitorRun)

	if res, err := j.tokens.CleanupExpiredTokens(ctx); err != nil {
		report.Errors = append(report.Errors, err)
		j.logf("janitor: token cleanup failed: %v", err)
	} else {
		report.DeletedTokens = res.DeletedTokens
		report.DeactivatedSessions = res.DeactivatedSessions
	}

	if n, err := j.limiter.CleanupExpiredRecords(ctx); err != nil {
		report.Errors = append(report.Errors, err)
		j.logf("janitor: rate limit cleanup failed: %v", err)
	} else {
		report.DeletedHits = n
	}

	if j.cfg.SessionRetention > 0 {
		n, err := j.store.PurgeSessions(ctx, j.now().Add(-j.cfg.SessionRetention))
		if err != nil {
			err = j.storeFailure("purge sessions", err)
			report.Errors = append(report.Errors, err)
			j.logf("janitor: session purge failed: %v", err)
		} else {
			report.PurgedSessions = n
		}
	}

	if len(report.Errors) > 0 {
		j.metricInc(MetricJanitorFailure)
	}
	if report.removed() > 0 {
		j.logf("janitor: tokens=%d deactivated=%d purged=%d hits=%d",
			report.DeletedTokens, report.DeactivatedSessions, report.PurgedSessions, report.DeletedHits)
	}
	return report
}

// Run calls RunOnce every Cleanup.Interval until ctx ends. The first pass
// runs immediately.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		j.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r JanitorReport) removed() int64 {
	return r.DeletedTokens + r.DeactivatedSessions + r.PurgedSessions + r.DeletedHits
}
