// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/previewlabs/previewd/pkg/errors"
	"github.com/previewlabs/previewd/pkg/schemaname"
)

// catalogDDL bootstraps the authority-owned catalogue. It is idempotent and
// runs at every startup.
const catalogDDL = `
CREATE TABLE IF NOT EXISTS sessions (
	token             TEXT PRIMARY KEY,
	features          TEXT NOT NULL DEFAULT '[]',
	tier              TEXT NOT NULL DEFAULT '',
	origin_ip         TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at        TIMESTAMPTZ NOT NULL,
	schema_name       TEXT,
	schema_status     TEXT NOT NULL DEFAULT 'PENDING',
	last_heartbeat_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS sessions_origin_ip_idx ON sessions (origin_ip);
CREATE INDEX IF NOT EXISTS sessions_expires_at_idx ON sessions (expires_at);
`

const sessionColumns = `token, features, tier, origin_ip, created_at, expires_at, schema_name, schema_status, last_heartbeat_at`

// Store is the session repository. Every state transition is a conditional
// update so concurrent callers race safely inside the database.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps the shared catalogue database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// EnsureCatalog creates the sessions table and indexes if missing.
func (s *Store) EnsureCatalog(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, catalogDDL); err != nil {
		return fmt.Errorf("failed to bootstrap session catalogue: %w", err)
	}
	return nil
}

// Insert persists a new PENDING session row.
func (s *Store) Insert(ctx context.Context, session *Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, features, tier, origin_ip, created_at, expires_at, schema_status, last_heartbeat_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		session.Token, session.Features, session.Tier, session.OriginIP,
		session.CreatedAt, session.ExpiresAt, session.SchemaStatus, session.LastHeartbeatAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Get fetches a session by token.
func (s *Store) Get(ctx context.Context, token string) (*Session, error) {
	var session Session
	err := s.db.GetContext(ctx, &session,
		`SELECT `+sessionColumns+` FROM sessions WHERE token = $1`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("session not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	return &session, nil
}

// CountActiveForIP counts non-terminal, unexpired sessions for an origin IP.
func (s *Store) CountActiveForIP(ctx context.Context, ip string, now time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT count(*) FROM sessions
		 WHERE origin_ip = $1
		   AND schema_status IN ('PENDING', 'PROVISIONING', 'READY')
		   AND expires_at > $2`,
		ip, now)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions for ip: %w", err)
	}
	return count, nil
}

// ListByIP returns every session for an origin IP, newest first.
func (s *Store) ListByIP(ctx context.Context, ip string) ([]Session, error) {
	var sessions []Session
	err := s.db.SelectContext(ctx, &sessions,
		`SELECT `+sessionColumns+` FROM sessions WHERE origin_ip = $1 ORDER BY created_at DESC`, ip)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for ip: %w", err)
	}
	return sessions, nil
}

// Heartbeat extends the session expiry. The update uses GREATEST so a
// racing heartbeat can only ever move expires_at forward.
func (s *Store) Heartbeat(ctx context.Context, token string, newExpiry time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET expires_at = GREATEST(expires_at, $2), last_heartbeat_at = now()
		 WHERE token = $1 AND schema_status <> 'DROPPED'`,
		token, newExpiry)
	if err != nil {
		return fmt.Errorf("failed to heartbeat session: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperrors.NewNotFoundError("session not found", nil)
	}
	return nil
}

// ClaimProvisioning is the atomic compare-and-set that serialises
// provisioning. The transition succeeds only when the current status is
// PENDING; otherwise the prior status is returned together with an
// already-claimed error so the caller can decide to wait, reuse, or abort.
func (s *Store) ClaimProvisioning(ctx context.Context, token string) (Status, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET schema_status = 'PROVISIONING'
		 WHERE token = $1 AND schema_status = 'PENDING'`,
		token)
	if err != nil {
		return "", fmt.Errorf("failed to claim session: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return StatusPending, nil
	}

	// No row matched: either the session is gone or another caller holds
	// (or held) the claim. A fresh read disambiguates.
	session, err := s.Get(ctx, token)
	if err != nil {
		return "", err
	}
	return session.SchemaStatus,
		apperrors.NewAlreadyClaimedError(
			fmt.Sprintf("session already claimed (status %s)", session.SchemaStatus), nil)
}

// MarkReady records a successful provision. Conditional on PROVISIONING so
// a late markReady can never resurrect a dropped session.
func (s *Store) MarkReady(ctx context.Context, token, schema string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET schema_status = 'READY', schema_name = $2
		 WHERE token = $1 AND schema_status = 'PROVISIONING'`,
		token, schema)
	if err != nil {
		return fmt.Errorf("failed to mark session ready: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperrors.NewNotFoundError("no provisioning session for token", nil)
	}
	return nil
}

// MarkFailed records a failed provision.
func (s *Store) MarkFailed(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET schema_status = 'FAILED'
		 WHERE token = $1 AND schema_status IN ('PENDING', 'PROVISIONING')`,
		token)
	if err != nil {
		return fmt.Errorf("failed to mark session failed: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperrors.NewNotFoundError("no claimable session for token", nil)
	}
	return nil
}

// MarkDropped terminates a session. Safe to repeat.
func (s *Store) MarkDropped(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET schema_status = 'DROPPED'
		 WHERE token = $1 AND schema_status <> 'DROPPED'`,
		token)
	if err != nil {
		return fmt.Errorf("failed to mark session dropped: %w", err)
	}
	return nil
}

// ListExpired returns sessions past their expiry that have not been
// terminated yet.
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]Session, error) {
	var sessions []Session
	err := s.db.SelectContext(ctx, &sessions,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE expires_at < $1 AND schema_status <> 'DROPPED'
		 ORDER BY expires_at ASC
		 LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	return sessions, nil
}

// ActiveSchemaNames returns the schema names referenced by every
// non-terminal session. For sessions still provisioning, the recorded name
// may be null, so the name is derived from the token; derivation is pure,
// both sides always agree.
func (s *Store) ActiveSchemaNames(ctx context.Context) ([]string, error) {
	var rows []struct {
		Token      string         `db:"token"`
		SchemaName sql.NullString `db:"schema_name"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT token, schema_name FROM sessions
		 WHERE schema_status IN ('PENDING', 'PROVISIONING', 'READY', 'FAILED')`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active schema names: %w", err)
	}

	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.SchemaName.Valid {
			names = append(names, row.SchemaName.String)
			continue
		}
		name, err := schemaname.FromToken(row.Token)
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
