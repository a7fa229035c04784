package trustcore

import (
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/MrEthical07/trustcore/internal/audit"
	"github.com/MrEthical07/trustcore/internal/otp"
	"github.com/MrEthical07/trustcore/internal/rate"
	"github.com/MrEthical07/trustcore/jwt"
	"github.com/MrEthical07/trustcore/store"
	"github.com/MrEthical07/trustcore/store/redisstore"
	"github.com/MrEthical07/trustcore/store/sqlstore"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder can be used for one Build only.
type Builder struct {
	config    Config
	store     store.Store
	redis     redis.UniversalClient
	sqlDB     *sql.DB
	dialect   sqlstore.Dialect
	clock     Clock
	auditSink AuditSink
	logger    *log.Logger
	built     bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets a ready store implementation.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithRedis backs the engine with a Redis store on client. Hit records
// expire after RateLimit.Retention.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSQL backs the engine with a SQL store on db. The schema must exist; see
// sqlstore.EnsureSchema and the migrate command.
func (b *Builder) WithSQL(db *sql.DB, dialect sqlstore.Dialect) *Builder {
	b.sqlDB = db
	b.dialect = dialect
	return b
}

func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(l *log.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the services.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := b.resolveStore(cfg)
	if err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := b.logger
	if logger == nil {
		logger = log.Default()
	}

	// -------- SIGNING --------
	accessKeys, refreshKeys, err := cfg.signingKeys()
	if err != nil {
		return nil, err
	}
	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.Token.SigningMethod)),
		Access:        accessKeys,
		Refresh:       refreshKeys,
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		MaxFutureIAT:  cfg.Token.MaxFutureIAT,
		Now:           clock.Now,
	})
	if err != nil {
		return nil, err
	}

	// -------- AUDIT --------
	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	dispatcher.OnFailure(func(event audit.Event, r any) {
		logger.Printf("trustcore: audit sink panicked action=%s: %v", event.Action, r)
	})

	c := &core{
		clock:   clock,
		store:   st,
		audit:   dispatcher,
		metrics: NewMetrics(cfg.Metrics),
		logger:  logger,
	}

	hits := rate.New(st, clock.Now)

	tokens := &TokenManager{core: c, cfg: cfg.Token, jwt: jm}
	mfa := &MFAService{
		core: c,
		cfg:  cfg.MFA,
		totp: otp.New(otp.Config{
			Issuer:      cfg.MFA.Issuer,
			Digits:      cfg.MFA.Digits,
			Period:      int(cfg.MFA.Period.Seconds()),
			Algorithm:   cfg.MFA.Algorithm,
			Window:      cfg.MFA.Window,
			SecretBytes: cfg.MFA.SecretBytes,
		}),
		attempts: hits,
		attemptRule: rate.Rule{
			Name:        "mfa-verify",
			Window:      cfg.MFA.AttemptWindow,
			MaxRequests: cfg.MFA.MaxAttempts,
		},
	}
	limiter := &RateLimiter{
		core:      c,
		cfg:       cfg.RateLimit,
		rules:     rate.Table(cfg.RateLimit.Rules),
		limiter:   hits,
		retention: hitRetention(cfg),
	}

	engine := &Engine{
		config:    cfg,
		core:      c,
		tokens:    tokens,
		mfa:       mfa,
		limiter:   limiter,
		refresher: &Refresher{tokens: tokens},
		janitor:   &Janitor{core: c, cfg: cfg.Cleanup, tokens: tokens, limiter: limiter},
	}

	b.built = true
	return engine, nil
}

func (b *Builder) resolveStore(cfg Config) (store.Store, error) {
	set := 0
	for _, ok := range []bool{b.store != nil, b.redis != nil, b.sqlDB != nil} {
		if ok {
			set++
		}
	}
	switch {
	case set == 0:
		return nil, errors.New("store required: use WithStore, WithRedis or WithSQL")
	case set > 1:
		return nil, errors.New("only one of WithStore, WithRedis or WithSQL may be used")
	case b.redis != nil:
		return redisstore.New(b.redis, redisstore.Options{HitTTL: hitRetention(cfg)}), nil
	case b.sqlDB != nil:
		return sqlstore.New(b.sqlDB, b.dialect), nil
	default:
		return b.store, nil
	}
}

// hitRetention covers both the request rules and the MFA attempt window, which
// share the hit store.
func hitRetention(cfg Config) time.Duration {
	retention := cfg.RateLimit.Retention
	if longest := rate.Table(cfg.RateLimit.Rules).LongestWindow(); longest > retention {
		retention = longest
	}
	if cfg.MFA.AttemptWindow > retention {
		retention = cfg.MFA.AttemptWindow
	}
	return retention
}
