package main

import (
	"context"
	"log/slog"
	"time"
)

type throttleSweeper interface {
	Sweep(now time.Time) int
	Len() int
}

type expiredSessionsDeleter interface {
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

type auditPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// sweeper drops throttle entries that can no longer affect a decision,
// expired sessions and audit events older than auditRetention. A nil
// sessions store is skipped; a zero auditRetention keeps events forever.
type sweeper struct {
	logger         *slog.Logger
	throttle       throttleSweeper
	sessions       expiredSessionsDeleter
	audit          []auditPruner
	auditRetention time.Duration
}

// run sweeps every interval until ctx is done.
func (s *sweeper) run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweepOnce(ctx, now)
		}
	}
}

func (s *sweeper) sweepOnce(ctx context.Context, now time.Time) {
	removed := s.throttle.Sweep(now)
	s.logger.Debug("throttle sweep", "removed", removed, "tracked", s.throttle.Len())

	if s.sessions != nil {
		n, err := s.sessions.DeleteExpiredSessions(ctx, now)
		if err != nil {
			s.logger.Warn("session sweep failed", "err", err)
		} else if n > 0 {
			s.logger.Debug("session sweep", "removed", n)
		}
	}

	if s.auditRetention <= 0 {
		return
	}
	cutoff := now.Add(-s.auditRetention)
	for _, a := range s.audit {
		n, err := a.DeleteBefore(ctx, cutoff)
		if err != nil {
			s.logger.Warn("audit sweep failed", "err", err)
			continue
		}
		if n > 0 {
			s.logger.Debug("audit sweep", "removed", n)
		}
	}
}
