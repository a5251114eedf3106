package service

import (
	"context"
	"testing"
	"time"

	pkgerrors "sandboxd/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "unit-test-secret"

func mintToken(t *testing.T, secret, subject, role, issuer string, expiresIn time.Duration) string {
	t.Helper()
	claims := tokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func TestAuthenticateValidToken(t *testing.T) {
	svc := NewAuthService(testSecret, "sandboxd")
	raw := mintToken(t, testSecret, "user-42", "admin", "sandboxd", time.Hour)

	info, err := svc.Authenticate(context.Background(), raw)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if info.ID != "user-42" || info.Role != "admin" {
		t.Fatalf("identity = %+v", info)
	}
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	svc := NewAuthService(testSecret, "")
	raw := mintToken(t, testSecret, "user-42", "", "", -time.Minute)

	_, err := svc.Authenticate(context.Background(), raw)
	if !pkgerrors.Is(err, pkgerrors.TokenExpired) {
		t.Fatalf("error code = %v, want TokenExpired", pkgerrors.GetCode(err))
	}
}

func TestAuthenticateRejectsBadSignature(t *testing.T) {
	svc := NewAuthService(testSecret, "")
	raw := mintToken(t, "another-secret", "user-42", "", "", time.Hour)

	_, err := svc.Authenticate(context.Background(), raw)
	if !pkgerrors.Is(err, pkgerrors.TokenInvalid) {
		t.Fatalf("error code = %v, want TokenInvalid", pkgerrors.GetCode(err))
	}
}

func TestAuthenticateRejectsWrongIssuer(t *testing.T) {
	svc := NewAuthService(testSecret, "sandboxd")
	raw := mintToken(t, testSecret, "user-42", "", "someone-else", time.Hour)

	_, err := svc.Authenticate(context.Background(), raw)
	if !pkgerrors.Is(err, pkgerrors.TokenInvalid) {
		t.Fatalf("error code = %v, want TokenInvalid", pkgerrors.GetCode(err))
	}
}

func TestAuthenticateRejectsMissingSubject(t *testing.T) {
	svc := NewAuthService(testSecret, "")
	raw := mintToken(t, testSecret, "", "", "", time.Hour)

	_, err := svc.Authenticate(context.Background(), raw)
	if !pkgerrors.Is(err, pkgerrors.TokenInvalid) {
		t.Fatalf("error code = %v, want TokenInvalid", pkgerrors.GetCode(err))
	}
}

func TestAuthenticateRejectsEmptyToken(t *testing.T) {
	svc := NewAuthService(testSecret, "")
	if _, err := svc.Authenticate(context.Background(), ""); !pkgerrors.Is(err, pkgerrors.TokenInvalid) {
		t.Fatalf("error code = %v, want TokenInvalid", pkgerrors.GetCode(err))
	}
}
