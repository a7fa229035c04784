package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/trustcore/store"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "tc"
	defaultHitTTL = 24 * time.Hour
	sweepBatch    = 500
)

// Options tunes the key namespace and rate-limit bucket lifetime.
type Options struct {
	// Prefix namespaces every key. Defaults to "tc".
	Prefix string
	// HitTTL bounds how long an idle rate-limit bucket survives. It should be at
	// least the longest rule window. Defaults to 24h.
	HitTTL time.Duration
}

// Store is a Redis implementation of store.Store. Multi-key transitions run as
// Lua scripts so they are atomic with respect to every other client.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	hitTTL time.Duration
}

var _ store.Store = (*Store)(nil)

// New creates a [Store] over the given client.
func New(client redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.HitTTL <= 0 {
		opts.HitTTL = defaultHitTTL
	}
	return &Store{redis: client, prefix: opts.Prefix, hitTTL: opts.HitTTL}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) sessionKey(id string) string { return s.prefix + ":sess:" + id }
func (s *Store) sessionPrefix() string { return s.prefix + ":sess:" }
func (s *Store) userSessionsKey(u string) string { return s.prefix + ":usess:" + u }
func (s *Store) userSessionsPrefix() string { return s.prefix + ":usess:" }
func (s *Store) sessionExpiryKey() string { return s.prefix + ":sessexp" }
func (s *Store) sessionInactiveKey() string { return s.prefix + ":sessoff" }
func (s *Store) renewalKey(fid string) string { return s.prefix + ":rt:" + fid }
func (s *Store) renewalPrefix() string { return s.prefix + ":rt:" }
func (s *Store) userRenewalsKey(u string) string { return s.prefix + ":urt:" + u }
func (s *Store) userRenewalsPrefix() string { return s.prefix + ":urt:" }
func (s *Store) renewalExpiryKey() string { return s.prefix + ":rtexp" }
func (s *Store) mfaKey(u string) string { return s.prefix + ":mfa:" + u }
func (s *Store) backupCodesKey(u string) string { return s.prefix + ":mfabc:" + u }
func (s *Store) hitsKey(k string) string { return s.prefix + ":rl:" + k }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

func ms(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMS(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.UnixMilli(n)
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// sweep repeats a batched script until it reports a short batch.
func (s *Store) sweep(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (int64, error) {
	var total int64
	for {
		res, err := script.Run(ctx, s.redis, keys, args...).Int64Slice()
		if err != nil {
			return total, unavailable(err)
		}
		if len(res) != 2 {
			return total, unavailable(errors.New("unexpected sweep reply"))
		}
		total += res[1]
		if res[0] < sweepBatch {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}
