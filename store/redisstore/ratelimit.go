package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/trustcore/store"
	"github.com/google/uuid"
)

func (s *Store) RecordHit(ctx context.Context, key string, at, windowStart time.Time) (store.RateWindow, error) {
	res, err := recordHitLua.Run(ctx, s.redis, []string{s.hitsKey(key)},
		windowStart.UnixMilli(),
		at.UnixMilli(),
		uuid.NewString(),
		s.hitTTL.Milliseconds(),
	).Slice()
	if err != nil {
		return store.RateWindow{}, unavailable(err)
	}
	if len(res) != 2 {
		return store.RateWindow{}, unavailable(errors.New("unexpected record hit reply"))
	}

	count, ok := res[0].(int64)
	if !ok {
		return store.RateWindow{}, unavailable(fmt.Errorf("unexpected count type %T", res[0]))
	}
	w := store.RateWindow{Count: int(count)}
	if count > 0 {
		raw, _ := res[1].(string)
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return store.RateWindow{}, unavailable(fmt.Errorf("parse oldest score: %v", err))
		}
		w.Oldest = time.UnixMilli(int64(score))
	}
	return w, nil
}

func (s *Store) ResetHits(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.hitsKey(key)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// DeleteHitsBefore scans every bucket; buckets also carry a TTL so idle keys
// disappear on their own.
func (s *Store) DeleteHitsBefore(ctx context.Context, before time.Time) (int64, error) {
	var (
		cursor uint64
		total  int64
	)
	max := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.hitsKey("*"), 200).Result()
		if err != nil {
			return total, unavailable(err)
		}
		for _, k := range keys {
			n, err := s.redis.ZRemRangeByScore(ctx, k, "-inf", max).Result()
			if err != nil {
				return total, unavailable(err)
			}
			total += n
		}
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}
