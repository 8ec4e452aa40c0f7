package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loginguard/internal/audit"
	"loginguard/internal/auth"
	"loginguard/internal/config"
	"loginguard/internal/domain"
	"loginguard/internal/guard"
	"loginguard/internal/httpapi"
	"loginguard/internal/service"
	"loginguard/internal/store/postgres"
	"loginguard/internal/store/sqlite"
	"loginguard/internal/throttle"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	th, err := throttle.New(cfg.ThrottleConfig())
	if err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	logger.Info("login throttle", "window", th.Window(), "max_attempts", th.MaxAttempts(), "sweep_interval", cfg.ThrottleSweepInterval)

	var (
		authSvc    *service.AuthService
		lockoutSvc *service.LockoutService
		sessions   *postgres.SessionsStore
		dbPing     func(context.Context) error
		sinks      audit.Multi
		history    audit.Reader
		pruners    []auditPruner
	)

	if cfg.HasAuditSink(config.AuditSinkLog) {
		sinks = append(sinks, audit.LogSink{Logger: logger})
	}

	if cfg.HasAuditSink(config.AuditSinkSQLite) {
		store, err := sqlite.Open(ctx, cfg.AuditSQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
		history = store
		pruners = append(pruners, store)
		logger.Info("audit sink enabled", "sink", config.AuditSinkSQLite, "path", cfg.AuditSQLitePath, "retention", cfg.AuditRetention)
	}

	if cfg.HasAuditSink(config.AuditSinkRedis) {
		sink, client := audit.NewRedisStreamSink(audit.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Stream:   cfg.AuditRedisStream,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping failed", "addr", cfg.RedisAddr, "err", err)
		}
		sinks = append(sinks, sink)
		logger.Info("audit sink enabled", "sink", config.AuditSinkRedis, "stream", cfg.AuditRedisStream)
	}

	if cfg.DBDSN != "" {
		pgPool, err := postgres.Open(ctx, cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("db open: %w", err)
		}
		defer pgPool.Close()

		if err := postgres.Migrate(ctx, pgPool); err != nil {
			return fmt.Errorf("db migrate: %w", err)
		}

		users := postgres.NewUsersStore(pgPool)
		sessions = postgres.NewSessionsStore(pgPool)

		if cfg.HasAuditSink(config.AuditSinkPostgres) {
			events := postgres.NewSecurityEventsStore(pgPool)
			sinks = append(sinks, events)
			history = events
			pruners = append(pruners, events)
			logger.Info("audit sink enabled", "sink", config.AuditSinkPostgres)
		}

		if err := bootstrapAdminUser(ctx, logger, users, cfg.AdminBootstrapEmail, cfg.AdminBootstrapUsername, cfg.AdminBootstrapPassword); err != nil {
			return err
		}

		authSvc = &service.AuthService{
			Users:      users,
			Sessions:   sessions,
			SessionTTL: cfg.SessionTTL,
			Logger:     logger,
			BeforeLogin: &guard.BeforeLogin{
				Throttle: th,
				Events:   sinks,
				Logger:   logger,
			},
			AfterLogin: &guard.AfterLogin{
				Throttle: th,
				Logger:   logger,
			},
			GoogleWebClientID: cfg.GoogleWebClientID,
			AppleServiceID:    cfg.AppleServiceID,
		}
		lockoutSvc = &service.LockoutService{
			Throttle: th,
			Events:   sinks,
			History:  history,
		}
		dbPing = pgPool.Ping
	} else {
		logger.Warn("APP_DB_DSN not set: auth endpoints disabled")
	}

	handler := httpapi.NewRouter(httpapi.RouterOpts{
		Logger:      logger,
		IsProd:      cfg.IsProd(),
		DBPing:      dbPing,
		Auth:        authSvc,
		Lockouts:    lockoutSvc,
		Cookies:     auth.NewSessionCookies([]byte(cfg.CookieSecret), cfg.SessionTTL, cfg.CookieSecure()),
		AdminEmails: cfg.AdminEmails,
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sw := &sweeper{
		logger:         logger,
		throttle:       th,
		audit:          pruners,
		auditRetention: cfg.AuditRetention,
	}
	if sessions != nil {
		sw.sessions = sessions
	}
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sw.run(ctx, cfg.ThrottleSweepInterval)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "env", cfg.Env, "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	case err = <-errCh:
		stop()
	}
	<-sweepDone

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

type adminUsersStore interface {
	GetUserByLogin(ctx context.Context, login string) (domain.UserWithPassword, error)
	CreateUser(ctx context.Context, email, username, passwordHash string) (domain.User, error)
}

func bootstrapAdminUser(ctx context.Context, logger *slog.Logger, users adminUsersStore, email, username, password string) error {
	if password == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if len(password) < 12 {
		return errors.New("APP_ADMIN_BOOTSTRAP_PASSWORD: must be at least 12 characters")
	}
	if email == "" || username == "" {
		return errors.New("admin bootstrap: email and username are required")
	}

	_, err := users.GetUserByLogin(ctx, email)
	if err == nil {
		logger.Info("admin bootstrap: user already exists", "email", email)
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("admin bootstrap: lookup user: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("admin bootstrap: hash password: %w", err)
	}

	_, err = users.CreateUser(ctx, email, username, hash)
	if err != nil {
		if errors.Is(err, domain.ErrEmailTaken) || errors.Is(err, domain.ErrUsernameTaken) {
			logger.Info("admin bootstrap: user already exists", "email", email)
			return nil
		}
		return fmt.Errorf("admin bootstrap: create user: %w", err)
	}

	logger.Info("admin bootstrap: created admin user", "email", email)
	return nil
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
