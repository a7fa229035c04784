package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/trustcore/store"
	"github.com/redis/go-redis/v9"
)

func (s *Store) CreateRenewal(ctx context.Context, r *store.RenewalRecord) error {
	exists, err := s.redis.Exists(ctx, s.renewalKey(r.FamilyID)).Result()
	if err != nil {
		return unavailable(err)
	}
	if exists == 1 {
		return fmt.Errorf("%w: family %s already exists", store.ErrConflict, r.FamilyID)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.renewalKey(r.FamilyID), renewalFields(r)...)
		pipe.SAdd(ctx, s.userRenewalsKey(r.UserID), r.FamilyID)
		pipe.ZAdd(ctx, s.renewalExpiryKey(), redis.Z{Score: float64(ms(r.ExpiresAt)), Member: r.FamilyID})
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) GetRenewal(ctx context.Context, familyID string) (*store.RenewalRecord, error) {
	data, err := s.redis.HGetAll(ctx, s.renewalKey(familyID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(data) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeRenewal(data), nil
}

func (s *Store) RotateRenewal(ctx context.Context, oldFamilyID, userID string, next *store.RenewalRecord, now time.Time) error {
	keys := []string{
		s.renewalKey(oldFamilyID),
		s.renewalKey(next.FamilyID),
		s.userRenewalsKey(userID),
		s.renewalExpiryKey(),
	}
	status, err := rotateRenewalLua.Run(ctx, s.redis, keys,
		userID,
		ms(now),
		next.FamilyID,
		next.SessionID,
		next.IP,
		next.UserAgent,
		ms(next.CreatedAt),
		ms(next.ExpiresAt),
	).Int64()
	if err != nil {
		return unavailable(err)
	}

	switch status {
	case rotateStatusRotated:
		return nil
	case rotateStatusNotFound:
		return store.ErrNotFound
	default:
		return store.ErrConflict
	}
}

func (s *Store) RevokeRenewals(ctx context.Context, userID, sessionID, reason string, at time.Time) (int64, error) {
	keys := []string{s.userRenewalsKey(userID)}
	n, err := revokeRenewalsLua.Run(ctx, s.redis, keys, s.renewalPrefix(), sessionID, reason, ms(at)).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *Store) DeleteExpiredRenewals(ctx context.Context, now time.Time) (int64, error) {
	keys := []string{s.renewalExpiryKey()}
	return s.sweep(ctx, deleteExpiredRenewalsLua, keys, s.renewalPrefix(), s.userRenewalsPrefix(), ms(now), sweepBatch)
}

func renewalFields(r *store.RenewalRecord) []interface{} {
	return []interface{}{
		"family_id", r.FamilyID,
		"user_id", r.UserID,
		"session_id", r.SessionID,
		"ip", r.IP,
		"user_agent", r.UserAgent,
		"created_at", ms(r.CreatedAt),
		"expires_at", ms(r.ExpiresAt),
		"revoked", boolField(r.Revoked),
		"revoked_at", ms(r.RevokedAt),
		"revoked_reason", r.RevokedReason,
		"replaced_by", r.ReplacedBy,
	}
}

func decodeRenewal(data map[string]string) *store.RenewalRecord {
	return &store.RenewalRecord{
		FamilyID:      data["family_id"],
		UserID:        data["user_id"],
		SessionID:     data["session_id"],
		IP:            data["ip"],
		UserAgent:     data["user_agent"],
		CreatedAt:     fromMS(data["created_at"]),
		ExpiresAt:     fromMS(data["expires_at"]),
		Revoked:       data["revoked"] == "1",
		RevokedAt:     fromMS(data["revoked_at"]),
		RevokedReason: data["revoked_reason"],
		ReplacedBy:    data["replaced_by"],
	}
}
