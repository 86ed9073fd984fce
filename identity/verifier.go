package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the identity claims of an access token whose signature has
// been checked.
type TokenClaims struct {
	Subject string
	Email   string
	Expiry  time.Time
}

// AccessTokenVerifier checks the signature of a relayed access token. Expiry
// is not enforced; an expired but genuine token is refreshed.
type AccessTokenVerifier interface {
	VerifyAccessToken(ctx context.Context, raw string) (*TokenClaims, error)
}

// HMACVerifier checks tokens signed with a shared project secret.
type HMACVerifier struct {
	secret []byte
	parser *jwt.Parser
}

var _ AccessTokenVerifier = (*HMACVerifier)(nil)

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

func (v *HMACVerifier) VerifyAccessToken(_ context.Context, raw string) (*TokenClaims, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("[HMACVerifier VerifyAccessToken] %w", err)
	}

	out := &TokenClaims{}
	out.Subject, _ = claims.GetSubject()
	out.Email, _ = claims["email"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.Expiry = exp.Time
	}
	return out, nil
}

// OIDCAccessVerifier checks tokens against the identity provider's published
// keys. The wrapped verifier should skip the client ID and expiry checks.
type OIDCAccessVerifier struct {
	verifier IDTokenVerifier
}

var _ AccessTokenVerifier = (*OIDCAccessVerifier)(nil)

func NewOIDCAccessVerifier(verifier IDTokenVerifier) *OIDCAccessVerifier {
	return &OIDCAccessVerifier{verifier: verifier}
}

func (v *OIDCAccessVerifier) VerifyAccessToken(ctx context.Context, raw string) (*TokenClaims, error) {
	token, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("[OIDCAccessVerifier VerifyAccessToken] %w", err)
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("[OIDCAccessVerifier VerifyAccessToken] claims: %w", err)
	}
	return &TokenClaims{Subject: token.Subject, Email: claims.Email, Expiry: token.Expiry}, nil
}
