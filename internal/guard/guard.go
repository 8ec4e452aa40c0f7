// Package guard implements the checks that run around credential
// verification: BeforeLogin refuses attempts for throttled usernames and
// AfterLogin clears a username's history once it has authenticated.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"loginguard/internal/audit"
	"loginguard/internal/domain"
)

type Throttle interface {
	ShouldBlock(key string, now time.Time) bool
	RecordSuccess(key string)
	LockedUntil(key string) time.Time
}

type Status int

const (
	StatusContinue Status = iota
	StatusUserDenied
)

func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "continue"
	case StatusUserDenied:
		return "user_denied"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

type Result struct {
	Status      Status
	Message     string
	LockedUntil time.Time
	RetryAfter  time.Duration
}

func (r Result) Denied() bool { return r.Status == StatusUserDenied }

// AttemptInfo carries request metadata that ends up in audit events. It plays
// no part in the blocking decision.
type AttemptInfo struct {
	IP        string
	UserAgent string
}

// Key maps a typed login to its throttle key. Logins are trimmed and
// lower-cased, so "Alice" and "alice " share one history.
func Key(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

type BeforeLogin struct {
	Throttle Throttle
	Events   audit.Sink
	Logger   *slog.Logger
	Now      func() time.Time
}

func (b *BeforeLogin) PreValidate(ctx context.Context, username, _ string, info AttemptInfo) Result {
	now := time.Now()
	if b.Now != nil {
		now = b.Now()
	}

	key := Key(username)
	if !b.Throttle.ShouldBlock(key, now) {
		return Result{Status: StatusContinue}
	}

	until := b.Throttle.LockedUntil(key)
	retry := until.Sub(now)
	if retry < 0 {
		retry = 0
	}
	res := Result{
		Status:      StatusUserDenied,
		Message:     lockedMessage(retry),
		LockedUntil: until,
		RetryAfter:  retry,
	}

	logger := b.logger()
	logger.Warn("login blocked",
		"username", key,
		"locked_until", until.UTC(),
		"retry_after_s", retrySeconds(retry),
	)

	if b.Events != nil {
		ev := audit.NewEvent(domain.SecurityEventLoginBlocked, key, domain.ReasonTooManyAttempts, now)
		ev.IP = info.IP
		ev.UserAgent = info.UserAgent
		ev.LockedUntil = &until
		if err := b.Events.RecordSecurityEvent(ctx, ev); err != nil {
			logger.Warn("record security event failed", "username", key, "err", err)
		}
	}

	return res
}

func (b *BeforeLogin) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

type AfterLogin struct {
	Throttle Throttle
	Logger   *slog.Logger
}

// PostValidate must only be called once the credentials for username have
// been verified.
func (a *AfterLogin) PostValidate(_ context.Context, username string) Result {
	key := Key(username)
	if key == "" {
		return Result{Status: StatusContinue}
	}
	a.Throttle.RecordSuccess(key)
	if a.Logger != nil {
		a.Logger.Debug("login history cleared", "username", key)
	}
	return Result{Status: StatusContinue}
}

func lockedMessage(retry time.Duration) string {
	n := retrySeconds(retry)
	if n == 1 {
		return "Account locked. Try again in 1 second."
	}
	return fmt.Sprintf("Account locked. Try again in %d seconds.", n)
}

func retrySeconds(d time.Duration) int {
	n := int((d + time.Second - 1) / time.Second)
	if n < 1 {
		n = 1
	}
	return n
}
