// Package sqlstore implements the trust-core store on database/sql, for
// Postgres through pgx and for SQLite through modernc.org/sqlite.
//
// Queries are written once with ? placeholders and rebound per dialect.
// Timestamps are stored as Unix milliseconds in BIGINT columns.
//
// Atomic transitions:
//   - RotateRenewal: guarded UPDATE ... WHERE revoked = false, then INSERT, in one transaction.
//   - ConsumeBackupCode: DELETE whose affected-row count must be 1.
//   - AdvanceTOTPStep: UPDATE ... WHERE last_step < step.
//   - RecordHit: COUNT/MIN then INSERT in one transaction.
//
// The schema ships as golang-migrate files in MigrationFS. EnsureSchema applies
// them directly for SQLite and tests.
package sqlstore
