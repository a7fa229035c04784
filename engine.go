package trustcore

import (
	"fmt"
	"log"
	"time"

	"github.com/MrEthical07/trustcore/internal/audit"
	"github.com/MrEthical07/trustcore/store"
)

// core carries the dependencies shared by every service. Services hold no
// other state between calls.
type core struct {
	clock   Clock
	store   store.Store
	audit   *audit.Dispatcher
	metrics *Metrics
	logger  *log.Logger
}

func (c *core) now() time.Time {
	return c.clock.Now()
}

func (c *core) metricInc(id MetricID) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.Inc(id)
}

func (c *core) logf(format string, args ...any) {
	c.logger.Printf("trustcore: "+format, args...)
}

// storeFailure wraps a backend error for the fail-closed paths.
func (c *core) storeFailure(op string, err error) error {
	c.metricInc(MetricStoreUnavailable)
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// Engine composes the trust core services over one store.
//
// Engine instances are built by [Builder] and are safe for concurrent use.
type Engine struct {
	config    Config
	core      *core
	tokens    *TokenManager
	mfa       *MFAService
	limiter   *RateLimiter
	refresher *Refresher
	janitor   *Janitor
}

// Close drains pending audit events. The store is owned by the caller and stays open.
func (e *Engine) Close() {
	if e == nil || e.core == nil {
		return
	}
	e.core.audit.Close()
}

func (e *Engine) Tokens() *TokenManager { return e.tokens }

func (e *Engine) MFA() *MFAService { return e.mfa }

func (e *Engine) RateLimiter() *RateLimiter { return e.limiter }

func (e *Engine) Refresher() *Refresher { return e.refresher }

func (e *Engine) Janitor() *Janitor { return e.janitor }

// Config returns a copy of the effective configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// AuditDropped reports events dropped because the audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.core == nil {
		return 0
	}
	return e.core.audit.Dropped()
}

// AuditFailed reports events whose sink panicked.
func (e *Engine) AuditFailed() uint64 {
	if e == nil || e.core == nil {
		return 0
	}
	return e.core.audit.Failed()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.core == nil || e.core.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.core.metrics.Snapshot()
}
