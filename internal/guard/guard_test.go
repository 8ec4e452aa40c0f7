package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"loginguard/internal/domain"
	"loginguard/internal/throttle"
)

type stubThrottle struct {
	shouldBlockResult bool
	lockedUntil       time.Time

	shouldBlockKey   string
	shouldBlockAt    time.Time
	recordSuccessKey string
}

func (s *stubThrottle) ShouldBlock(key string, now time.Time) bool {
	s.shouldBlockKey = key
	s.shouldBlockAt = now
	return s.shouldBlockResult
}

func (s *stubThrottle) RecordSuccess(key string) { s.recordSuccessKey = key }

func (s *stubThrottle) LockedUntil(string) time.Time { return s.lockedUntil }

type stubSink struct {
	events []domain.SecurityEvent
	err    error
}

func (s *stubSink) RecordSecurityEvent(_ context.Context, ev domain.SecurityEvent) error {
	s.events = append(s.events, ev)
	return s.err
}

func TestBeforeLoginPassesUsernameToThrottle(t *testing.T) {
	th := &stubThrottle{}
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	hook := &BeforeLogin{Throttle: th, Now: func() time.Time { return now }}

	hook.PreValidate(context.Background(), "  UserAsdf ", "pass", AttemptInfo{})

	if th.shouldBlockKey != "userasdf" {
		t.Fatalf("unexpected key: %q", th.shouldBlockKey)
	}
	if !th.shouldBlockAt.Equal(now) {
		t.Fatalf("unexpected time: %s", th.shouldBlockAt)
	}
}

func TestBeforeLoginContinuesWhenNotBlocked(t *testing.T) {
	sink := &stubSink{}
	hook := &BeforeLogin{Throttle: &stubThrottle{}, Events: sink}

	res := hook.PreValidate(context.Background(), "user", "pass", AttemptInfo{})
	if res.Status != StatusContinue {
		t.Fatalf("expected continue, got %s", res.Status)
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected no events, got %d", len(sink.events))
	}
}

func TestBeforeLoginDeniesWhenBlocked(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	th := &stubThrottle{shouldBlockResult: true, lockedUntil: now.Add(42*time.Second + 300*time.Millisecond)}
	sink := &stubSink{}
	hook := &BeforeLogin{Throttle: th, Events: sink, Now: func() time.Time { return now }}

	res := hook.PreValidate(context.Background(), "user", "pass", AttemptInfo{IP: "203.0.113.9", UserAgent: "unit-test"})

	if !res.Denied() {
		t.Fatalf("expected denied, got %s", res.Status)
	}
	if res.Message != "Account locked. Try again in 43 seconds." {
		t.Fatalf("unexpected message: %q", res.Message)
	}
	if !res.LockedUntil.Equal(th.lockedUntil) {
		t.Fatalf("unexpected locked until: %s", res.LockedUntil)
	}

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Kind != domain.SecurityEventLoginBlocked || ev.Username != "user" || ev.Reason != domain.ReasonTooManyAttempts {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.IP != "203.0.113.9" || ev.UserAgent != "unit-test" {
		t.Fatalf("unexpected client info: %+v", ev)
	}
	if ev.LockedUntil == nil || !ev.LockedUntil.Equal(th.lockedUntil) {
		t.Fatalf("unexpected event lock: %v", ev.LockedUntil)
	}
}

func TestBeforeLoginIgnoresSinkFailure(t *testing.T) {
	now := time.Now()
	th := &stubThrottle{shouldBlockResult: true, lockedUntil: now.Add(time.Minute)}
	hook := &BeforeLogin{Throttle: th, Events: &stubSink{err: errors.New("db down")}, Now: func() time.Time { return now }}

	res := hook.PreValidate(context.Background(), "user", "pass", AttemptInfo{})
	if !res.Denied() {
		t.Fatalf("expected denied despite sink failure")
	}
}

func TestBeforeLoginRetryIsAtLeastOneSecond(t *testing.T) {
	now := time.Now()
	th := &stubThrottle{shouldBlockResult: true, lockedUntil: now.Add(10 * time.Millisecond)}
	hook := &BeforeLogin{Throttle: th, Now: func() time.Time { return now }}

	res := hook.PreValidate(context.Background(), "user", "pass", AttemptInfo{})
	if res.Message != "Account locked. Try again in 1 second." {
		t.Fatalf("unexpected message: %q", res.Message)
	}
}

func TestAfterLoginClearsHistory(t *testing.T) {
	th := &stubThrottle{}
	hook := &AfterLogin{Throttle: th}

	res := hook.PostValidate(context.Background(), "User")
	if res.Status != StatusContinue {
		t.Fatalf("expected continue, got %s", res.Status)
	}
	if th.recordSuccessKey != "user" {
		t.Fatalf("unexpected key: %q", th.recordSuccessKey)
	}
}

func TestHooksWithRealThrottle(t *testing.T) {
	th, err := throttle.New(throttle.Config{Window: time.Minute, MaxAttempts: 3})
	if err != nil {
		t.Fatalf("throttle.New: %v", err)
	}
	clock := time.UnixMilli(1)
	sink := &stubSink{}
	before := &BeforeLogin{Throttle: th, Events: sink, Now: func() time.Time { return clock }}
	after := &AfterLogin{Throttle: th}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if res := before.PreValidate(ctx, "user", "bad", AttemptInfo{}); res.Denied() {
			t.Fatalf("attempt %d unexpectedly denied", i+1)
		}
		clock = clock.Add(time.Millisecond)
	}
	res := before.PreValidate(ctx, "user", "bad", AttemptInfo{})
	if !res.Denied() {
		t.Fatalf("expected fourth attempt to be denied")
	}
	if res.Message != "Account locked. Try again in 60 seconds." {
		t.Fatalf("unexpected message: %q", res.Message)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}

	after.PostValidate(ctx, "USER")
	if !th.LockedUntil("user").IsZero() {
		t.Fatalf("expected lock to be cleared")
	}
	if res := before.PreValidate(ctx, "user", "good", AttemptInfo{}); res.Denied() {
		t.Fatalf("expected attempt after success to continue")
	}
}

func TestKeyNormalizesLogin(t *testing.T) {
	cases := map[string]string{
		"Alice":              "alice",
		"  alice ":           "alice",
		"Player@Example.com": "player@example.com",
		"":                   "",
	}
	for in, want := range cases {
		if got := Key(in); got != want {
			t.Fatalf("Key(%q) = %q, want %q", in, got, want)
		}
	}
}
