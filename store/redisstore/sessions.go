package redisstore

import (
	"context"
	"sort"
	"time"

	"github.com/MrEthical07/trustcore/store"
	"github.com/redis/go-redis/v9"
)

func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	fields := sessionFields(sess)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.sessionKey(sess.ID), fields...)
		pipe.SAdd(ctx, s.userSessionsKey(sess.UserID), sess.ID)
		if sess.Active {
			pipe.ZAdd(ctx, s.sessionExpiryKey(), redis.Z{Score: float64(ms(sess.ExpiresAt)), Member: sess.ID})
		} else {
			pipe.ZAdd(ctx, s.sessionInactiveKey(), redis.Z{Score: float64(ms(sess.DeactivatedAt)), Member: sess.ID})
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID, userID string) (*store.Session, error) {
	data, err := s.redis.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(data) == 0 || data["user_id"] != userID {
		return nil, store.ErrNotFound
	}
	return decodeSession(data), nil
}

func (s *Store) TouchSession(ctx context.Context, sessionID string, at, expiresAt time.Time) error {
	keys := []string{s.sessionKey(sessionID), s.sessionExpiryKey()}
	if err := touchSessionLua.Run(ctx, s.redis, keys, sessionID, ms(at), ms(expiresAt)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) DeactivateSessions(ctx context.Context, userID, sessionID, reason string, at time.Time) (int64, error) {
	keys := []string{s.userSessionsKey(userID), s.sessionExpiryKey(), s.sessionInactiveKey()}
	n, err := deactivateSessionsLua.Run(ctx, s.redis, keys, s.sessionPrefix(), sessionID, reason, ms(at)).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *Store) ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]store.Session, error) {
	ids, err := s.redis.SMembers(ctx, s.userSessionsKey(userID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return []store.Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable(err)
	}

	out := make([]store.Session, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			return nil, unavailable(err)
		}
		if len(data) == 0 || data["user_id"] != userID {
			continue
		}
		sess := decodeSession(data)
		if sess.Live(now) {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func (s *Store) DeactivateExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	keys := []string{s.sessionExpiryKey(), s.sessionInactiveKey()}
	return s.sweep(ctx, expireSessionsLua, keys, s.sessionPrefix(), ms(now), sweepBatch)
}

func (s *Store) PurgeSessions(ctx context.Context, deactivatedBefore time.Time) (int64, error) {
	keys := []string{s.sessionInactiveKey()}
	return s.sweep(ctx, purgeSessionsLua, keys, s.sessionPrefix(), s.userSessionsPrefix(), ms(deactivatedBefore), sweepBatch)
}

func sessionFields(sess *store.Session) []interface{} {
	return []interface{}{
		"id", sess.ID,
		"user_id", sess.UserID,
		"role", sess.Role,
		"created_at", ms(sess.CreatedAt),
		"expires_at", ms(sess.ExpiresAt),
		"last_activity", ms(sess.LastActivity),
		"active", boolField(sess.Active),
		"ip", sess.IP,
		"user_agent", sess.UserAgent,
		"reason", sess.DeactivationReason,
		"deactivated_at", ms(sess.DeactivatedAt),
	}
}

func decodeSession(data map[string]string) *store.Session {
	return &store.Session{
		ID:                 data["id"],
		UserID:             data["user_id"],
		Role:               data["role"],
		CreatedAt:          fromMS(data["created_at"]),
		ExpiresAt:          fromMS(data["expires_at"]),
		LastActivity:       fromMS(data["last_activity"]),
		Active:             data["active"] == "1",
		IP:                 data["ip"],
		UserAgent:          data["user_agent"],
		DeactivationReason: data["reason"],
		DeactivatedAt:      fromMS(data["deactivated_at"]),
	}
}
