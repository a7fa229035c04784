package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/trustcore/store"
)

const renewalColumns = `family_id, user_id, session_id, ip, user_agent, created_at, expires_at, revoked, revoked_at, revoked_reason, replaced_by`

const insertRenewal = `INSERT INTO renewal_records (` + renewalColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (family_id) DO NOTHING`

func renewalArgs(r *store.RenewalRecord) []interface{} {
	return []interface{}{
		r.FamilyID, r.UserID, r.SessionID, r.IP, r.UserAgent,
		ms(r.CreatedAt), ms(r.ExpiresAt),
		r.Revoked, ms(r.RevokedAt), r.RevokedReason, r.ReplacedBy,
	}
}

func (s *Store) CreateRenewal(ctx context.Context, r *store.RenewalRecord) error {
	n, err := s.exec(ctx, s.db, insertRenewal, renewalArgs(r)...)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: family %s already exists", store.ErrConflict, r.FamilyID)
	}
	return nil
}

func (s *Store) GetRenewal(ctx context.Context, familyID string) (*store.RenewalRecord, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+renewalColumns+` FROM renewal_records WHERE family_id = ?`), familyID)
	r, err := scanRenewal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return r, nil
}

// RotateRenewal revokes the old record with a guarded UPDATE and inserts the
// successor in the same transaction. Concurrent rotations of one family race
// on the row lock; the loser's UPDATE matches zero rows.
func (s *Store) RotateRenewal(ctx context.Context, oldFamilyID, userID string, next *store.RenewalRecord, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := s.exec(ctx, tx, `UPDATE renewal_records
			SET revoked = ?, revoked_at = ?, revoked_reason = ?, replaced_by = ?
			WHERE family_id = ? AND user_id = ? AND revoked = ? AND expires_at > ?`,
			true, ms(now), store.ReasonRotation, next.FamilyID,
			oldFamilyID, userID, false, ms(now),
		)
		if err != nil {
			return err
		}
		if n != 1 {
			var owner string
			err := tx.QueryRowContext(ctx, s.dialect.rebind(`SELECT user_id FROM renewal_records WHERE family_id = ?`), oldFamilyID).Scan(&owner)
			if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != userID) {
				return store.ErrNotFound
			}
			if err != nil {
				return unavailable(err)
			}
			return store.ErrConflict
		}

		successor := *next
		successor.UserID = userID
		successor.Revoked = false
		n, err = s.exec(ctx, tx, insertRenewal, renewalArgs(&successor)...)
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrConflict
		}
		return nil
	})
}

func (s *Store) RevokeRenewals(ctx context.Context, userID, sessionID, reason string, at time.Time) (int64, error) {
	query := `UPDATE renewal_records SET revoked = ?, revoked_at = ?, revoked_reason = ? WHERE user_id = ? AND revoked = ?`
	args := []interface{}{true, ms(at), reason, userID, false}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	return s.exec(ctx, s.db, query, args...)
}

func (s *Store) DeleteExpiredRenewals(ctx context.Context, now time.Time) (int64, error) {
	return s.exec(ctx, s.db, `DELETE FROM renewal_records WHERE expires_at <= ?`, ms(now))
}

func scanRenewal(row scanner) (*store.RenewalRecord, error) {
	var r store.RenewalRecord
	var createdAt, expiresAt, revokedAt int64
	err := row.Scan(
		&r.FamilyID, &r.UserID, &r.SessionID, &r.IP, &r.UserAgent,
		&createdAt, &expiresAt,
		&r.Revoked, &revokedAt, &r.RevokedReason, &r.ReplacedBy,
	)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = fromMS(createdAt)
	r.ExpiresAt = fromMS(expiresAt)
	r.RevokedAt = fromMS(revokedAt)
	return &r, nil
}
