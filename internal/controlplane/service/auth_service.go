package service

import (
	"context"
	"errors"
	"fmt"

	pkgerrors "sandboxd/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// UserInfo is the authenticated identity attached to a request.
type UserInfo struct {
	ID   string
	Role string
}

// AuthService verifies bearer tokens issued by the external identity
// service. It only validates; it never mints tokens.
type AuthService struct {
	jwtSecret []byte
	jwtIssuer string
}

func NewAuthService(jwtSecret, jwtIssuer string) *AuthService {
	return &AuthService{jwtSecret: []byte(jwtSecret), jwtIssuer: jwtIssuer}
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticate parses and verifies a raw HS256 token and returns the user
// identity from its subject claim.
func (s *AuthService) Authenticate(_ context.Context, raw string) (UserInfo, error) {
	if raw == "" {
		return UserInfo{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, err := s.parseToken(raw)
	if err != nil {
		return UserInfo{}, err
	}
	if claims.Subject == "" {
		return UserInfo{}, pkgerrors.New(pkgerrors.TokenInvalid).WithMessage("token has no subject")
	}
	return UserInfo{ID: claims.Subject, Role: claims.Role}, nil
}

func (s *AuthService) parseToken(raw string) (*tokenClaims, error) {
	if len(s.jwtSecret) == 0 {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if s.jwtIssuer != "" && claims.Issuer != s.jwtIssuer {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid).WithMessage("unexpected token issuer")
	}
	return claims, nil
}
