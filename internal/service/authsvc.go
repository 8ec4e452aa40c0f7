package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"loginguard/internal/auth"
	"loginguard/internal/domain"
	"loginguard/internal/guard"
)

type UsersStore interface {
	CreateUser(ctx context.Context, email, username, passwordHash string) (domain.User, error)
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByLogin(ctx context.Context, login string) (domain.UserWithPassword, error)
	GetUserByExternalAccount(ctx context.Context, provider, providerID string) (domain.User, domain.ExternalAccount, error)
	SetLastLogin(ctx context.Context, userID string, when time.Time) error
	SetPasswordHash(ctx context.Context, userID, passwordHash string) error
}

type SessionsStore interface {
	CreateSession(ctx context.Context, userID string, expiresAt time.Time, ip, userAgent string) (string, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	RevokeSession(ctx context.Context, sessionID string, when time.Time) error
}

type PreValidator interface {
	PreValidate(ctx context.Context, username, password string, info guard.AttemptInfo) guard.Result
}

type PostValidator interface {
	PostValidate(ctx context.Context, username string) guard.Result
}

type AuthService struct {
	Users      UsersStore
	Sessions   SessionsStore
	SessionTTL time.Duration
	Now        func() time.Time
	Logger     *slog.Logger

	// BeforeLogin and AfterLogin wrap password verification. Either may be
	// nil.
	BeforeLogin PreValidator
	AfterLogin  PostValidator

	GoogleWebClientID   string
	AppleServiceID      string
	VerifyGoogleIDToken auth.IDTokenVerifier
	VerifyAppleIDToken  auth.IDTokenVerifier
}

func (s *AuthService) Register(ctx context.Context, email, username, password, ip, userAgent string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	username = strings.TrimSpace(username)

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", err
	}

	u, err := s.Users.CreateUser(ctx, email, username, passwordHash)
	if err != nil {
		return domain.User{}, "", err
	}

	sessID, err := s.Sessions.CreateSession(ctx, u.ID, s.now().Add(s.SessionTTL), ip, userAgent)
	if err != nil {
		return domain.User{}, "", err
	}

	return u, sessID, nil
}

// Login verifies a username (or email) and password. A throttled login fails
// with *domain.LockedError before the users store is consulted.
func (s *AuthService) Login(ctx context.Context, login, password, ip, userAgent string) (domain.User, string, error) {
	login = strings.TrimSpace(login)

	if s.BeforeLogin != nil {
		res := s.BeforeLogin.PreValidate(ctx, login, password, guard.AttemptInfo{IP: ip, UserAgent: userAgent})
		if res.Denied() {
			return domain.User{}, "", &domain.LockedError{
				Username:   guard.Key(login),
				Until:      res.LockedUntil,
				RetryAfter: res.RetryAfter,
				Message:    res.Message,
			}
		}
	}

	u, err := s.Users.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			auth.BurnVerify(password)
			return domain.User{}, "", domain.ErrInvalidCredentials
		}
		return domain.User{}, "", err
	}

	ok, err := auth.VerifyPassword(u.PasswordHash, password)
	if err != nil {
		return domain.User{}, "", err
	}
	if !ok {
		return domain.User{}, "", domain.ErrInvalidCredentials
	}
	if u.Status == domain.UserStatusDisabled {
		return domain.User{}, "", domain.ErrUserDisabled
	}

	sessID, err := s.Sessions.CreateSession(ctx, u.ID, s.now().Add(s.SessionTTL), ip, userAgent)
	if err != nil {
		return domain.User{}, "", err
	}

	s.loginSucceeded(ctx, u.User, login)

	if auth.NeedsRehash(u.PasswordHash) {
		if hash, err := auth.HashPassword(password); err == nil {
			if err := s.Users.SetPasswordHash(ctx, u.ID, hash); err != nil {
				s.logger().Warn("password rehash failed", "user_id", u.ID, "err", err)
			}
		}
	}

	return u.User, sessID, nil
}

// LoginWithIDToken signs in an account linked to a Google or Apple identity.
func (s *AuthService) LoginWithIDToken(ctx context.Context, provider, token, ip, userAgent string) (domain.User, string, error) {
	verify, aud, err := s.idTokenVerifier(provider)
	if err != nil {
		return domain.User{}, "", err
	}

	claims, err := verify(ctx, token, aud)
	if err != nil || claims == nil || claims.Subject == "" {
		return domain.User{}, "", domain.ErrInvalidCredentials
	}

	u, acct, err := s.Users.GetUserByExternalAccount(ctx, provider, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, "", domain.ErrInvalidCredentials
		}
		return domain.User{}, "", err
	}
	if u.Status == domain.UserStatusDisabled {
		return domain.User{}, "", domain.ErrUserDisabled
	}

	sessID, err := s.Sessions.CreateSession(ctx, u.ID, s.now().Add(s.SessionTTL), ip, userAgent)
	if err != nil {
		return domain.User{}, "", err
	}

	s.loginSucceeded(ctx, u, "")
	s.logger().Info("external login", "provider", acct.Provider, "user_id", acct.UserID)
	return u, sessID, nil
}

func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	return s.Sessions.RevokeSession(ctx, sessionID, s.now())
}

func (s *AuthService) GetUserForSession(ctx context.Context, sessionID string) (domain.User, error) {
	sess, err := s.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrUnauthorized
		}
		return domain.User{}, err
	}
	if !sess.ExpiresAt.After(s.now()) {
		return domain.User{}, domain.ErrUnauthorized
	}

	u, err := s.Users.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrUnauthorized
		}
		return domain.User{}, err
	}
	if u.Status == domain.UserStatusDisabled {
		return domain.User{}, domain.ErrForbidden
	}

	return u, nil
}

// loginSucceeded clears attempt history for the login the user typed and for
// the account's username, which differ when signing in by email.
func (s *AuthService) loginSucceeded(ctx context.Context, u domain.User, typed string) {
	if s.AfterLogin != nil {
		s.AfterLogin.PostValidate(ctx, u.Username)
		if typed != "" && guard.Key(typed) != guard.Key(u.Username) {
			s.AfterLogin.PostValidate(ctx, typed)
		}
	}

	if err := s.Users.SetLastLogin(ctx, u.ID, s.now()); err != nil {
		s.logger().Warn("set last login failed", "user_id", u.ID, "err", err)
	}
}

func (s *AuthService) idTokenVerifier(provider string) (auth.IDTokenVerifier, string, error) {
	var (
		verify auth.IDTokenVerifier
		aud    string
	)
	switch provider {
	case auth.ProviderGoogle:
		verify, aud = s.VerifyGoogleIDToken, s.GoogleWebClientID
		if verify == nil {
			verify = auth.VerifyGoogleIDToken
		}
	case auth.ProviderApple:
		verify, aud = s.VerifyAppleIDToken, s.AppleServiceID
		if verify == nil {
			verify = auth.VerifyAppleIDToken
		}
	default:
		return nil, "", fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, provider)
	}
	if aud == "" {
		return nil, "", fmt.Errorf("%w: %s not configured", domain.ErrUnsupportedProvider, provider)
	}
	return verify, aud, nil
}

func (s *AuthService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *AuthService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
