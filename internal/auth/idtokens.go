package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HendrickPhan/go-verify-apple-id-token/validator"
	"google.golang.org/api/idtoken"
)

const (
	ProviderGoogle = "google"
	ProviderApple  = "apple"
)

type ExternalTokenClaims struct {
	Issuer  string
	Subject string
	Email   string
}

// IDTokenVerifier validates a provider id token for the expected audience.
type IDTokenVerifier func(ctx context.Context, token, expectedAud string) (*ExternalTokenClaims, error)

func VerifyGoogleIDToken(ctx context.Context, tokenString, expectedAud string) (*ExternalTokenClaims, error) {
	if err := checkTokenArgs(tokenString, expectedAud, "google client id"); err != nil {
		return nil, err
	}

	payload, err := idtoken.Validate(ctx, tokenString, expectedAud)
	if err != nil {
		return nil, err
	}
	if payload.Issuer != "accounts.google.com" && payload.Issuer != "https://accounts.google.com" {
		return nil, fmt.Errorf("unexpected issuer: %s", payload.Issuer)
	}

	email, _ := payload.Claims["email"].(string)
	return &ExternalTokenClaims{
		Issuer:  payload.Issuer,
		Subject: payload.Subject,
		Email:   normalizeEmail(email),
	}, nil
}

func VerifyAppleIDToken(_ context.Context, tokenString, expectedAud string) (*ExternalTokenClaims, error) {
	if err := checkTokenArgs(tokenString, expectedAud, "apple service id"); err != nil {
		return nil, err
	}

	client := validator.NewClient()
	tok, err := client.VerifyIdToken(expectedAud, tokenString)
	if err != nil {
		return nil, err
	}
	if tok.Iss != "https://appleid.apple.com" {
		return nil, fmt.Errorf("unexpected issuer: %s", tok.Iss)
	}

	return &ExternalTokenClaims{
		Issuer:  tok.Iss,
		Subject: tok.Sub,
		Email:   normalizeEmail(tok.Email),
	}, nil
}

func checkTokenArgs(token, aud, audName string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("missing id token")
	}
	if strings.TrimSpace(aud) == "" {
		return fmt.Errorf("missing %s", audName)
	}
	return nil
}

func normalizeEmail(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}
