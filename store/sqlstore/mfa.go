package sqlstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/MrEthical07/trustcore/store"
)

func (s *Store) SaveMFASecret(ctx context.Context, m *store.MFASecret) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `INSERT INTO mfa_secrets (user_id, secret, enabled, last_step, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET
				secret = excluded.secret,
				enabled = excluded.enabled,
				last_step = excluded.last_step,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at`,
			m.UserID, m.Secret, m.Enabled, m.LastUsedStep, ms(m.CreatedAt), ms(m.UpdatedAt),
		); err != nil {
			return err
		}
		return s.writeBackupCodes(ctx, tx, m.UserID, m.BackupCodes)
	})
}

func (s *Store) writeBackupCodes(ctx context.Context, tx *sql.Tx, userID string, hashes [][32]byte) error {
	if _, err := s.exec(ctx, tx, `DELETE FROM mfa_backup_codes WHERE user_id = ?`, userID); err != nil {
		return err
	}
	for i, h := range hashes {
		if _, err := s.exec(ctx, tx, `INSERT INTO mfa_backup_codes (user_id, position, code_hash) VALUES (?, ?, ?)`,
			userID, i, hex.EncodeToString(h[:])); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetMFASecret(ctx context.Context, userID string) (*store.MFASecret, error) {
	m := &store.MFASecret{UserID: userID}
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT secret, enabled, last_step, created_at, updated_at
		FROM mfa_secrets WHERE user_id = ?`), userID).
		Scan(&m.Secret, &m.Enabled, &m.LastUsedStep, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	m.CreatedAt = fromMS(createdAt)
	m.UpdatedAt = fromMS(updatedAt)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`SELECT code_hash FROM mfa_backup_codes WHERE user_id = ? ORDER BY position`), userID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, unavailable(err)
		}
		var sum [32]byte
		if b, err := hex.DecodeString(h); err == nil && len(b) == len(sum) {
			copy(sum[:], b)
			m.BackupCodes = append(m.BackupCodes, sum)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return m, nil
}

// ConsumeBackupCode deletes the matching row; the affected-row count decides
// the winner when two callers submit the same code.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	n, err := s.exec(ctx, s.db, `DELETE FROM mfa_backup_codes WHERE user_id = ? AND code_hash = ?`, userID, hex.EncodeToString(hash[:]))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, hashes [][32]byte) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := s.exec(ctx, tx, `UPDATE mfa_secrets SET updated_at = ? WHERE user_id = ?`, ms(time.Now()), userID)
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return s.writeBackupCodes(ctx, tx, userID, hashes)
	})
}

func (s *Store) SetMFAEnabled(ctx context.Context, userID string, enabled bool, at time.Time) error {
	n, err := s.exec(ctx, s.db, `UPDATE mfa_secrets SET enabled = ?, updated_at = ? WHERE user_id = ?`, enabled, ms(at), userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AdvanceTOTPStep(ctx context.Context, userID string, step int64) (bool, error) {
	n, err := s.exec(ctx, s.db, `UPDATE mfa_secrets SET last_step = ? WHERE user_id = ? AND last_step < ?`, step, userID, step)
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT 1 FROM mfa_secrets WHERE user_id = ?`), userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, unavailable(err)
	}
	return false, nil
}
