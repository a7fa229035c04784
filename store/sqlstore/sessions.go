package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/MrEthical07/trustcore/store"
)

const sessionColumns = `id, user_id, role, created_at, expires_at, last_activity, active, ip, user_agent, deactivation_reason, deactivated_at`

func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Role,
		ms(sess.CreatedAt), ms(sess.ExpiresAt), ms(sess.LastActivity),
		sess.Active, sess.IP, sess.UserAgent,
		sess.DeactivationReason, ms(sess.DeactivatedAt),
	)
	return err
}

func (s *Store) GetSession(ctx context.Context, sessionID, userID string) (*store.Session, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+sessionColumns+` FROM sessions WHERE id = ? AND user_id = ?`), sessionID, userID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return sess, nil
}

func (s *Store) TouchSession(ctx context.Context, sessionID string, at, expiresAt time.Time) error {
	if expiresAt.IsZero() {
		_, err := s.exec(ctx, s.db, `UPDATE sessions SET last_activity = ? WHERE id = ? AND active = ?`, ms(at), sessionID, true)
		return err
	}
	_, err := s.exec(ctx, s.db, `UPDATE sessions SET last_activity = ?, expires_at = ? WHERE id = ? AND active = ?`,
		ms(at), ms(expiresAt), sessionID, true)
	return err
}

func (s *Store) DeactivateSessions(ctx context.Context, userID, sessionID, reason string, at time.Time) (int64, error) {
	query := `UPDATE sessions SET active = ?, deactivation_reason = ?, deactivated_at = ? WHERE user_id = ? AND active = ?`
	args := []interface{}{false, reason, ms(at), userID, true}
	if sessionID != "" {
		query += ` AND id = ?`
		args = append(args, sessionID)
	}
	return s.exec(ctx, s.db, query, args...)
}

func (s *Store) ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]store.Session, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? AND active = ? AND expires_at > ?
		ORDER BY last_activity DESC`), userID, true, ms(now))
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	out := []store.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *Store) DeactivateExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return s.exec(ctx, s.db, `UPDATE sessions SET active = ?, deactivation_reason = ?, deactivated_at = ?
		WHERE active = ? AND expires_at <= ?`, false, store.ReasonExpired, ms(now), true, ms(now))
}

func (s *Store) PurgeSessions(ctx context.Context, deactivatedBefore time.Time) (int64, error) {
	return s.exec(ctx, s.db, `DELETE FROM sessions WHERE active = ? AND deactivated_at < ?`, false, ms(deactivatedBefore))
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*store.Session, error) {
	var sess store.Session
	var createdAt, expiresAt, lastActivity, offAt int64
	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.Role,
		&createdAt, &expiresAt, &lastActivity,
		&sess.Active, &sess.IP, &sess.UserAgent,
		&sess.DeactivationReason, &offAt,
	)
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = fromMS(createdAt)
	sess.ExpiresAt = fromMS(expiresAt)
	sess.LastActivity = fromMS(lastActivity)
	sess.DeactivatedAt = fromMS(offAt)
	return &sess, nil
}
