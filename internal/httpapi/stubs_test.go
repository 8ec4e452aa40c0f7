package httpapi

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"loginguard/internal/domain"
)

type stubUsersStore struct {
	t *testing.T

	createUserFunc        func(context.Context, string, string, string) (domain.User, error)
	getUserByIDFunc       func(context.Context, string) (domain.User, error)
	getUserByLoginFunc    func(context.Context, string) (domain.UserWithPassword, error)
	getUserByExternalFunc func(context.Context, string, string) (domain.User, domain.ExternalAccount, error)
}

func (s *stubUsersStore) CreateUser(ctx context.Context, email, username, passwordHash string) (domain.User, error) {
	if s.createUserFunc != nil {
		return s.createUserFunc(ctx, email, username, passwordHash)
	}
	s.t.Fatalf("CreateUser called unexpectedly")
	return domain.User{}, errors.New("unexpected call")
}

func (s *stubUsersStore) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	if s.getUserByIDFunc != nil {
		return s.getUserByIDFunc(ctx, id)
	}
	s.t.Fatalf("GetUserByID called unexpectedly")
	return domain.User{}, errors.New("unexpected call")
}

func (s *stubUsersStore) GetUserByLogin(ctx context.Context, login string) (domain.UserWithPassword, error) {
	if s.getUserByLoginFunc != nil {
		return s.getUserByLoginFunc(ctx, login)
	}
	s.t.Fatalf("GetUserByLogin called unexpectedly")
	return domain.UserWithPassword{}, errors.New("unexpected call")
}

func (s *stubUsersStore) GetUserByExternalAccount(ctx context.Context, provider, providerID string) (domain.User, domain.ExternalAccount, error) {
	if s.getUserByExternalFunc != nil {
		return s.getUserByExternalFunc(ctx, provider, providerID)
	}
	s.t.Fatalf("GetUserByExternalAccount called unexpectedly")
	return domain.User{}, domain.ExternalAccount{}, errors.New("unexpected call")
}

func (s *stubUsersStore) SetLastLogin(context.Context, string, time.Time) error { return nil }

func (s *stubUsersStore) SetPasswordHash(context.Context, string, string) error { return nil }

type stubSessionsStore struct {
	sessions map[string]domain.Session
	revoked  []string
	next     int
}

func newStubSessionsStore() *stubSessionsStore {
	return &stubSessionsStore{sessions: map[string]domain.Session{}}
}

func (s *stubSessionsStore) CreateSession(_ context.Context, userID string, expiresAt time.Time, _, _ string) (string, error) {
	s.next++
	id := "sess-" + strconv.Itoa(s.next)
	s.sessions[id] = domain.Session{ID: id, UserID: userID, ExpiresAt: expiresAt}
	return id, nil
}

func (s *stubSessionsStore) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return sess, nil
}

func (s *stubSessionsStore) RevokeSession(_ context.Context, sessionID string, _ time.Time) error {
	delete(s.sessions, sessionID)
	s.revoked = append(s.revoked, sessionID)
	return nil
}

type captureSink struct {
	events []domain.SecurityEvent
}

func (s *captureSink) RecordSecurityEvent(_ context.Context, ev domain.SecurityEvent) error {
	s.events = append(s.events, ev)
	return nil
}

type stubEventReader struct {
	events []domain.SecurityEvent
	err    error
}

func (s *stubEventReader) ListSecurityEvents(context.Context, string, int) ([]domain.SecurityEvent, error) {
	return s.events, s.err
}
