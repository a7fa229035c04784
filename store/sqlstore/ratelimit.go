package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/MrEthical07/trustcore/store"
	"github.com/google/uuid"
)

// RecordHit reads the window and appends the hit in one transaction. On
// Postgres a transaction-scoped advisory lock on the bucket serializes
// concurrent hits; SQLite is already serialized by its single connection.
func (s *Store) RecordHit(ctx context.Context, key string, at, windowStart time.Time) (store.RateWindow, error) {
	var w store.RateWindow
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if s.dialect == Postgres {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
				return unavailable(err)
			}
		}

		var (
			count  int64
			oldest sql.NullInt64
		)
		err := tx.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*), MIN(ts) FROM rate_limit_records WHERE bucket_key = ? AND ts >= ?`),
			key, windowStart.UnixMilli()).Scan(&count, &oldest)
		if err != nil {
			return unavailable(err)
		}
		w.Count = int(count)
		if oldest.Valid {
			w.Oldest = time.UnixMilli(oldest.Int64)
		}

		_, err = s.exec(ctx, tx, `INSERT INTO rate_limit_records (id, bucket_key, ts) VALUES (?, ?, ?)`, uuid.NewString(), key, at.UnixMilli())
		return err
	})
	if err != nil {
		return store.RateWindow{}, err
	}
	return w, nil
}

func (s *Store) ResetHits(ctx context.Context, key string) error {
	_, err := s.exec(ctx, s.db, `DELETE FROM rate_limit_records WHERE bucket_key = ?`, key)
	return err
}

func (s *Store) DeleteHitsBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.exec(ctx, s.db, `DELETE FROM rate_limit_records WHERE ts < ?`, before.UnixMilli())
}
