package service

import (
	"context"
	"time"

	"loginguard/internal/audit"
	"loginguard/internal/domain"
	"loginguard/internal/guard"
	"loginguard/internal/throttle"
)

type LockoutThrottle interface {
	Snapshot(key string) (throttle.History, bool)
	RecordSuccess(key string)
	Window() time.Duration
}

// LockoutService lets administrators inspect and lift lockouts.
type LockoutService struct {
	Throttle LockoutThrottle
	Events   audit.Sink
	History  audit.Reader
	Now      func() time.Time
}

func (s *LockoutService) Status(_ context.Context, username string) domain.Lockout {
	key := guard.Key(username)
	out := domain.Lockout{Username: key}

	h, ok := s.Throttle.Snapshot(key)
	if !ok {
		return out
	}
	now := s.now()
	out.Attempts = recentAttempts(h.Seen, now, s.Throttle.Window())
	if !h.LockedUntil.IsZero() {
		until := h.LockedUntil
		out.LockedUntil = &until
		out.Locked = h.Locked(now)
	}
	return out
}

// Reset clears the username's history as a successful login would and
// records who did it.
func (s *LockoutService) Reset(ctx context.Context, username, actor string) error {
	key := guard.Key(username)
	s.Throttle.RecordSuccess(key)

	if s.Events == nil {
		return nil
	}
	ev := audit.NewEvent(domain.SecurityEventLockoutReset, key, "reset by "+actor, s.now())
	return s.Events.RecordSecurityEvent(ctx, ev)
}

func (s *LockoutService) RecentEvents(ctx context.Context, username string, limit int) ([]domain.SecurityEvent, error) {
	if s.History == nil {
		return nil, nil
	}
	return s.History.ListSecurityEvents(ctx, guard.Key(username), limit)
}

// recentAttempts counts the attempts still inside the window ending at now.
// The throttle only prunes on the next attempt, so stale entries may remain.
func recentAttempts(seen []time.Time, now time.Time, window time.Duration) int {
	n := 0
	for _, ts := range seen {
		if !ts.Add(window).Before(now) {
			n++
		}
	}
	return n
}

func (s *LockoutService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
