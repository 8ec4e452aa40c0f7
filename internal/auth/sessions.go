package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

const SessionCookieName = "loginguard_session"

// SessionCookies signs session ids with HMAC-SHA256 and moves them in and out
// of the session cookie. An empty secret disables signing.
type SessionCookies struct {
	secret []byte
	ttl    time.Duration
	secure bool
}

func NewSessionCookies(secret []byte, ttl time.Duration, secure bool) SessionCookies {
	secretCopy := make([]byte, len(secret))
	copy(secretCopy, secret)
	return SessionCookies{secret: secretCopy, ttl: ttl, secure: secure}
}

func (c SessionCookies) Encode(sessionID string) string {
	if len(c.secret) == 0 {
		return sessionID
	}
	return sessionID + "." + base64.RawURLEncoding.EncodeToString(c.sign(sessionID))
}

func (c SessionCookies) Decode(cookieValue string) (string, bool) {
	if len(c.secret) == 0 {
		return cookieValue, cookieValue != ""
	}

	id, sigB64, ok := strings.Cut(cookieValue, ".")
	if !ok || id == "" || sigB64 == "" {
		return "", false
	}

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil || len(sig) != sha256.Size {
		return "", false
	}
	if subtle.ConstantTimeCompare(sig, c.sign(id)) != 1 {
		return "", false
	}
	return id, true
}

// SessionID returns the verified session id carried by r, if any.
func (c SessionCookies) SessionID(r *http.Request) (string, bool) {
	ck, err := r.Cookie(SessionCookieName)
	if err != nil || ck.Value == "" {
		return "", false
	}
	return c.Decode(ck.Value)
}

func (c SessionCookies) Set(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    c.Encode(sessionID),
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.ttl.Seconds()),
		Expires:  time.Now().Add(c.ttl),
	})
}

func (c SessionCookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

func (c SessionCookies) sign(id string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	_, _ = mac.Write([]byte(id))
	return mac.Sum(nil)
}
