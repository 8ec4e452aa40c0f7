package postgres

import (
	"context"
	"fmt"
	"time"

	"loginguard/internal/domain"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SecurityEventsStore struct {
	pool *pgxpool.Pool
}

func NewSecurityEventsStore(pool *pgxpool.Pool) *SecurityEventsStore {
	return &SecurityEventsStore{pool: pool}
}

func (s *SecurityEventsStore) RecordSecurityEvent(ctx context.Context, ev domain.SecurityEvent) error {
	const q = `
		INSERT INTO security_events (id, kind, username, reason, ip, user_agent, locked_until, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.pool.Exec(ctx, q,
		ev.ID,
		string(ev.Kind),
		ev.Username,
		ev.Reason,
		nullIfEmpty(ev.IP),
		nullIfEmpty(ev.UserAgent),
		nullTime(ev.LockedUntil),
		ev.OccurredAt,
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
		WHERE username = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, q, username, limit)
	if err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	defer rows.Close()

	var out []domain.SecurityEvent
	for rows.Next() {
		var (
			ev          domain.SecurityEvent
			kind        string
			ipText      pgtype.Text
			uaText      pgtype.Text
			lockedUntil pgtype.Timestamptz
		)
		if err := rows.Scan(&ev.ID, &kind, &ev.Username, &ev.Reason, &ipText, &uaText, &lockedUntil, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		ev.Kind = domain.SecurityEventKind(kind)
		ev.IP = textOrEmpty(ipText)
		ev.UserAgent = textOrEmpty(uaText)
		ev.LockedUntil = timestamptzPtr(lockedUntil)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	return out, nil
}

// DeleteBefore prunes events older than cutoff.
func (s *SecurityEventsStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM security_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete security events: %w", err)
	}
	return tag.RowsAffected(), nil
}
