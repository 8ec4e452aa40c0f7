package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"loginguard/internal/auth"
	"loginguard/internal/domain"
	"loginguard/internal/guard"
	"loginguard/internal/service"
	"loginguard/internal/throttle"
)

const testPassword = "correct horse battery"

type testServer struct {
	handler  http.Handler
	throttle *throttle.AttemptThrottle
	sink     *captureSink
	sessions *stubSessionsStore
	users    *stubUsersStore
	cookies  auth.SessionCookies
}

func newTestServer(t *testing.T, now time.Time, users map[string]domain.UserWithPassword) *testServer {
	t.Helper()

	th, err := throttle.New(throttle.Config{Window: time.Minute, MaxAttempts: 3})
	if err != nil {
		t.Fatalf("throttle.New: %v", err)
	}
	clock := func() time.Time { return now }

	byID := make(map[string]domain.User, len(users))
	for _, u := range users {
		byID[u.ID] = u.User
	}

	ts := &testServer{
		throttle: th,
		sink:     &captureSink{},
		sessions: newStubSessionsStore(),
		cookies:  auth.NewSessionCookies([]byte("test-secret"), time.Hour, false),
	}
	ts.users = &stubUsersStore{
		t: t,
		getUserByLoginFunc: func(_ context.Context, login string) (domain.UserWithPassword, error) {
			u, ok := users[strings.ToLower(login)]
			if !ok {
				return domain.UserWithPassword{}, domain.ErrNotFound
			}
			return u, nil
		},
		getUserByIDFunc: func(_ context.Context, id string) (domain.User, error) {
			u, ok := byID[id]
			if !ok {
				return domain.User{}, domain.ErrNotFound
			}
			return u, nil
		},
	}

	authSvc := &service.AuthService{
		Users:       ts.users,
		Sessions:    ts.sessions,
		SessionTTL:  time.Hour,
		Now:         clock,
		BeforeLogin: &guard.BeforeLogin{Throttle: th, Events: ts.sink, Now: clock},
		AfterLogin:  &guard.AfterLogin{Throttle: th},
	}
	lockoutSvc := &service.LockoutService{
		Throttle: th,
		Events:   ts.sink,
		History:  &stubEventReader{events: []domain.SecurityEvent{{ID: "ev-1", Kind: domain.SecurityEventLoginBlocked, Username: "player"}}},
		Now:      clock,
	}

	ts.handler = NewRouter(RouterOpts{
		Auth:        authSvc,
		Lockouts:    lockoutSvc,
		Cookies:     ts.cookies,
		AdminEmails: []string{"Admin@Example.com"},
	})
	return ts
}

func hashForTest(t *testing.T, password string) string {
	t.Helper()
	h, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return h
}

func postJSON(h http.Handler, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return env
}

func TestLoginLocksAfterRepeatedFailures(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	hash := hashForTest(t, testPassword)
	ts := newTestServer(t, now, map[string]domain.UserWithPassword{
		"player": {User: domain.User{ID: "user-1", Username: "player", Status: domain.UserStatusActive}, PasswordHash: hash},
	})

	for i := 0; i < 3; i++ {
		rr := postJSON(ts.handler, "/v1/auth/login", `{"login":"player","password":"wrong password"}`)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: unexpected status %d", i+1, rr.Code)
		}
	}

	rr := postJSON(ts.handler, "/v1/auth/login", `{"login":"player","password":"wrong password"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After: got %q", got)
	}
	env := decodeErrorCode(t, rr)
	if env.Error.Code != "account_locked" || env.Error.Message != "Account locked. Try again in 60 seconds." {
		t.Fatalf("unexpected error: %+v", env.Error)
	}

	// The right password does not help while locked.
	rr = postJSON(ts.handler, "/v1/auth/login", `{"login":"Player","password":"`+testPassword+`"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for correct password while locked, got %d", rr.Code)
	}
	if len(ts.sink.events) != 2 {
		t.Fatalf("expected one audit event per denied attempt, got %d", len(ts.sink.events))
	}
}

func TestLoginSuccessSetsCookieAndClearsHistory(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	hash := hashForTest(t, testPassword)
	ts := newTestServer(t, now, map[string]domain.UserWithPassword{
		"player": {User: domain.User{ID: "user-1", Username: "player", Status: domain.UserStatusActive}, PasswordHash: hash},
	})

	postJSON(ts.handler, "/v1/auth/login", `{"login":"player","password":"wrong password"}`)
	if _, ok := ts.throttle.Snapshot("player"); !ok {
		t.Fatalf("expected history after failed attempt")
	}

	rr := postJSON(ts.handler, "/v1/auth/login", `{"login":"player","password":"`+testPassword+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rr.Code, rr.Body.String())
	}
	if _, ok := ts.throttle.Snapshot("player"); ok {
		t.Fatalf("expected history cleared after success")
	}

	var sessionCookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatalf("expected session cookie")
	}
	if id, ok := ts.cookies.Decode(sessionCookie.Value); !ok || id != "sess-1" {
		t.Fatalf("unexpected cookie value: %q", sessionCookie.Value)
	}

	var body userResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ID != "user-1" || body.Username != "player" {
		t.Fatalf("unexpected user: %+v", body)
	}
}

func TestLoginValidation(t *testing.T) {
	ts := newTestServer(t, time.Now(), nil)

	rr := postJSON(ts.handler, "/v1/auth/login", `{"login":"  ","password":""}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if env := decodeErrorCode(t, rr); env.Error.Code != "validation_error" {
		t.Fatalf("unexpected code: %q", env.Error.Code)
	}

	rr = postJSON(ts.handler, "/v1/auth/login", `{"login":"player","password":"x","extra":1}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status for unknown field: %d", rr.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t, time.Now(), nil)

	rr := postJSON(ts.handler, "/v1/auth/register", `{"email":"nope","username":"a!","password":"short"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	env := decodeErrorCode(t, rr)
	for _, f := range []string{"email", "username", "password"} {
		if env.Error.Fields[f] == "" {
			t.Fatalf("expected field error for %s: %+v", f, env.Error.Fields)
		}
	}
}

func TestIDTokenLoginUnsupportedWhenNotConfigured(t *testing.T) {
	ts := newTestServer(t, time.Now(), nil)

	rr := postJSON(ts.handler, "/v1/auth/google", `{"id_token":"abc"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if env := decodeErrorCode(t, rr); env.Error.Code != "unsupported_provider" {
		t.Fatalf("unexpected code: %q", env.Error.Code)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	ts := newTestServer(t, time.Now(), map[string]domain.UserWithPassword{
		"player": {User: domain.User{ID: "user-1", Username: "player", Status: domain.UserStatusActive}},
	})
	sessID, _ := ts.sessions.CreateSession(context.Background(), "user-1", time.Now().Add(time.Hour), "", "")
	cookie := &http.Cookie{Name: auth.SessionCookieName, Value: ts.cookies.Encode(sessID)}

	rr := postJSON(ts.handler, "/v1/auth/logout", ``, cookie)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if len(ts.sessions.revoked) != 1 || ts.sessions.revoked[0] != sessID {
		t.Fatalf("unexpected revoked sessions: %v", ts.sessions.revoked)
	}

	rr = postJSON(ts.handler, "/v1/auth/logout", ``, cookie)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rr.Code)
	}
}

func TestUsersMeRejectsTamperedCookie(t *testing.T) {
	ts := newTestServer(t, time.Now(), nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/users/me", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "sess-1.forged"})
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
}
