package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"loginguard/internal/auth"
	"loginguard/internal/config"
	"loginguard/internal/domain"
)

type stubAdminUsers struct {
	existing bool
	created  []string
	hash     string
}

func (s *stubAdminUsers) GetUserByLogin(context.Context, string) (domain.UserWithPassword, error) {
	if s.existing {
		return domain.UserWithPassword{}, nil
	}
	return domain.UserWithPassword{}, domain.ErrNotFound
}

func (s *stubAdminUsers) CreateUser(_ context.Context, email, username, passwordHash string) (domain.User, error) {
	s.created = append(s.created, email+"/"+username)
	s.hash = passwordHash
	return domain.User{Email: email, Username: username}, nil
}

func TestBootstrapAdminUser(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	users := &stubAdminUsers{}
	if err := bootstrapAdminUser(ctx, logger, users, "", "", ""); err != nil || len(users.created) != 0 {
		t.Fatalf("expected no-op without password: err=%v created=%v", err, users.created)
	}

	if err := bootstrapAdminUser(ctx, logger, users, "root@example.com", "admin", "short"); err == nil {
		t.Fatalf("expected short password to be rejected")
	}

	if err := bootstrapAdminUser(ctx, logger, users, "root@example.com", "admin", "correct horse battery"); err != nil {
		t.Fatalf("bootstrapAdminUser: %v", err)
	}
	if len(users.created) != 1 || users.created[0] != "root@example.com/admin" {
		t.Fatalf("unexpected created users: %v", users.created)
	}
	if ok, err := auth.VerifyPassword(users.hash, "correct horse battery"); err != nil || !ok {
		t.Fatalf("stored hash does not verify: ok=%v err=%v", ok, err)
	}

	existing := &stubAdminUsers{existing: true}
	if err := bootstrapAdminUser(ctx, logger, existing, "root@example.com", "admin", "correct horse battery"); err != nil || len(existing.created) != 0 {
		t.Fatalf("expected existing admin to be left alone: err=%v created=%v", err, existing.created)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for raw, want := range cases {
		logger := newLogger(config.Config{Env: "test", LogLevel: raw})
		if !logger.Enabled(context.Background(), want) {
			t.Fatalf("%q: level %s not enabled", raw, want)
		}
		if want > slog.LevelDebug && logger.Enabled(context.Background(), want-4) {
			t.Fatalf("%q: level below %s unexpectedly enabled", raw, want)
		}
	}
}
