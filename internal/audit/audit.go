// Package audit delivers security events to one or more sinks.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kjk/betterguid"

	"loginguard/internal/domain"
)

type Sink interface {
	RecordSecurityEvent(ctx context.Context, ev domain.SecurityEvent) error
}

type Reader interface {
	ListSecurityEvents(ctx context.Context, username string, limit int) ([]domain.SecurityEvent, error)
}

// NewEvent fills in the ID and falls back to now for OccurredAt.
func NewEvent(kind domain.SecurityEventKind, username, reason string, now time.Time) domain.SecurityEvent {
	return domain.SecurityEvent{
		ID:         betterguid.New(),
		Kind:       kind,
		Username:   username,
		Reason:     reason,
		OccurredAt: now.UTC(),
	}
}

// Multi delivers every event to all sinks, even when some of them fail.
type Multi []Sink

func (m Multi) RecordSecurityEvent(ctx context.Context, ev domain.SecurityEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.RecordSecurityEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) RecordSecurityEvent(_ context.Context, ev domain.SecurityEvent) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fields := []any{
		"event_id", ev.ID,
		"kind", string(ev.Kind),
		"username", ev.Username,
		"reason", ev.Reason,
	}
	if ev.IP != "" {
		fields = append(fields, "ip", ev.IP)
	}
	if ev.LockedUntil != nil {
		fields = append(fields, "locked_until", ev.LockedUntil.UTC())
	}
	logger.Warn("security event", fields...)
	return nil
}
