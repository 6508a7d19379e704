package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenLifetime bounds how long a verified session stays valid.
const tokenLifetime = time.Hour

// nonceRetention bounds how long used nonces are remembered. Anything older
// cannot mint a live token anyway.
const nonceRetention = 24 * time.Hour

// TokenIssuer mints and validates HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewTokenIssuer builds an issuer from the shared secret.
func NewTokenIssuer(secret string, now func() time.Time) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: jwt secret required")
	}
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{secret: []byte(secret), now: now}, nil
}

// Issue mints a one-hour token whose subject is the native address.
func (t *TokenIssuer) Issue(address string) (string, error) {
	now := t.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   address,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Validate parses a token and returns the address it was issued for.
func (t *TokenIssuer) Validate(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return t.now().UTC() }))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token missing subject", ErrUnauthorized)
	}
	return claims.Subject, nil
}

// Service composes signature verification, replay protection and token
// issuance into the flow the API layer calls.
type Service struct {
	nonces NonceStore
	tokens *TokenIssuer
	now    func() time.Time
}

// NewService builds the verification flow.
func NewService(nonces NonceStore, tokens *TokenIssuer, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{nonces: nonces, tokens: tokens, now: now}
}

// Authenticate verifies the signature, records the nonce and mints a session
// token for the recovered address.
func (s *Service) Authenticate(ctx context.Context, params VerifyParams) (address, token string, err error) {
	address, err = VerifySignature(params)
	if err != nil {
		return "", "", err
	}
	now := s.now().UTC()
	if s.nonces != nil {
		replayed, err := s.nonces.Ensure(ctx, params.PublicKey, params.Nonce, now)
		if err != nil {
			return "", "", err
		}
		if replayed {
			return "", "", ErrNonceReplayed
		}
		// Best effort; stale entries only cost disk.
		_ = s.nonces.Prune(ctx, now.Add(-nonceRetention))
	}
	token, err = s.tokens.Issue(address)
	if err != nil {
		return "", "", err
	}
	return address, token, nil
}
