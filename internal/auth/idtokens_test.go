package auth

import (
	"context"
	"testing"
)

func TestVerifyIDTokenRejectsMissingArgs(t *testing.T) {
	ctx := context.Background()
	verifiers := map[string]IDTokenVerifier{
		ProviderGoogle: VerifyGoogleIDToken,
		ProviderApple:  VerifyAppleIDToken,
	}
	for name, verify := range verifiers {
		if _, err := verify(ctx, "", "aud"); err == nil {
			t.Fatalf("%s: expected error for empty token", name)
		}
		if _, err := verify(ctx, "token", " "); err == nil {
			t.Fatalf("%s: expected error for empty audience", name)
		}
	}
}
