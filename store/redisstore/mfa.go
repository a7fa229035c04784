package redisstore

import (
	"context"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/MrEthical07/trustcore/store"
	"github.com/redis/go-redis/v9"
)

func (s *Store) SaveMFASecret(ctx context.Context, m *store.MFASecret) error {
	hashes := encodeHashes(m.BackupCodes)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.mfaKey(m.UserID), s.backupCodesKey(m.UserID))
		pipe.HSet(ctx, s.mfaKey(m.UserID),
			"user_id", m.UserID,
			"secret", m.Secret,
			"enabled", boolField(m.Enabled),
			"last_step", m.LastUsedStep,
			"created_at", ms(m.CreatedAt),
			"updated_at", ms(m.UpdatedAt),
		)
		if len(hashes) > 0 {
			pipe.RPush(ctx, s.backupCodesKey(m.UserID), hashes...)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) GetMFASecret(ctx context.Context, userID string) (*store.MFASecret, error) {
	pipe := s.redis.Pipeline()
	fieldsCmd := pipe.HGetAll(ctx, s.mfaKey(userID))
	codesCmd := pipe.LRange(ctx, s.backupCodesKey(userID), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable(err)
	}

	data := fieldsCmd.Val()
	if len(data) == 0 {
		return nil, store.ErrNotFound
	}

	lastStep, err := strconv.ParseInt(data["last_step"], 10, 64)
	if err != nil {
		lastStep = 0
	}
	m := &store.MFASecret{
		UserID:       userID,
		Secret:       []byte(data["secret"]),
		Enabled:      data["enabled"] == "1",
		LastUsedStep: lastStep,
		CreatedAt:    fromMS(data["created_at"]),
		UpdatedAt:    fromMS(data["updated_at"]),
	}
	for _, h := range codesCmd.Val() {
		var sum [32]byte
		if b, err := hex.DecodeString(h); err == nil && len(b) == len(sum) {
			copy(sum[:], b)
			m.BackupCodes = append(m.BackupCodes, sum)
		}
	}
	return m, nil
}

// ConsumeBackupCode relies on LREM being atomic: of two concurrent callers only
// one observes a removed count of 1.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	n, err := s.redis.LRem(ctx, s.backupCodesKey(userID), 1, hex.EncodeToString(hash[:])).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, hashes [][32]byte) error {
	args := append([]interface{}{ms(time.Now())}, encodeHashes(hashes)...)
	ok, err := replaceBackupCodesLua.Run(ctx, s.redis, []string{s.mfaKey(userID), s.backupCodesKey(userID)}, args...).Int64()
	if err != nil {
		return unavailable(err)
	}
	if ok == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetMFAEnabled(ctx context.Context, userID string, enabled bool, at time.Time) error {
	ok, err := setMFAEnabledLua.Run(ctx, s.redis, []string{s.mfaKey(userID)}, boolField(enabled), ms(at)).Int64()
	if err != nil {
		return unavailable(err)
	}
	if ok == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AdvanceTOTPStep(ctx context.Context, userID string, step int64) (bool, error) {
	res, err := advanceStepLua.Run(ctx, s.redis, []string{s.mfaKey(userID)}, step).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	if res < 0 {
		return false, store.ErrNotFound
	}
	return res == 1, nil
}

func encodeHashes(hashes [][32]byte) []interface{} {
	out := make([]interface{}, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, hex.EncodeToString(h[:]))
	}
	return out
}
