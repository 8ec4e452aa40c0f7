// Package sqlite keeps the security event log in a local SQLite file for
// deployments that run without Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"loginguard/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS security_events (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	username     TEXT NOT NULL,
	reason       TEXT NOT NULL,
	ip           TEXT,
	user_agent   TEXT,
	locked_until INTEGER,
	occurred_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_security_events_username ON security_events(username, occurred_at);
`

type SecurityEventsStore struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*SecurityEventsStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SecurityEventsStore{db: db}, nil
}

func (s *SecurityEventsStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SecurityEventsStore) RecordSecurityEvent(ctx context.Context, ev domain.SecurityEvent) error {
	const q = `
		INSERT OR IGNORE INTO security_events (id, kind, username, reason, ip, user_agent, locked_until, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var lockedUntil sql.NullInt64
	if ev.LockedUntil != nil {
		lockedUntil = sql.NullInt64{Int64: ev.LockedUntil.UnixMilli(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, q,
		ev.ID,
		string(ev.Kind),
		ev.Username,
		ev.Reason,
		nullString(ev.IP),
		nullString(ev.UserAgent),
		lockedUntil,
		ev.OccurredAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

func (s *SecurityEventsStore) ListSecurityEvents(ctx context.Context, username string, limit int) ([]domain.SecurityEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	const q = `
		SELECT id, kind, username, reason, ip, user_agent, locked_until, occurred_at
		FROM security_events
		WHERE username = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, q, username, limit)
	if err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	defer rows.Close()

	var out []domain.SecurityEvent
	for rows.Next() {
		var (
			ev          domain.SecurityEvent
			kind        string
			ip, ua      sql.NullString
			lockedUntil sql.NullInt64
			occurredAt  int64
		)
		if err := rows.Scan(&ev.ID, &kind, &ev.Username, &ev.Reason, &ip, &ua, &lockedUntil, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		ev.Kind = domain.SecurityEventKind(kind)
		ev.IP = ip.String
		ev.UserAgent = ua.String
		ev.OccurredAt = time.UnixMilli(occurredAt).UTC()
		if lockedUntil.Valid {
			t := time.UnixMilli(lockedUntil.Int64).UTC()
			ev.LockedUntil = &t
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	return out, nil
}

// DeleteBefore prunes events older than cutoff.
func (s *SecurityEventsStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM security_events WHERE occurred_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete security events: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
