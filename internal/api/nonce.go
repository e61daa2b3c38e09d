package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrInvalidNonce = errors.New("invalid or expired nonce")
	ErrNonceAction  = errors.New("nonce was issued for another action")
)

// nonceClaims binds a token to one admin action.
type nonceClaims struct {
	Action string `json:"action"`
	jwt.RegisteredClaims
}

// NonceIssuer signs and verifies per-action admin nonces.
type NonceIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewNonceIssuer creates an issuer. A non-positive ttl defaults to 12 hours.
func NewNonceIssuer(secret string, ttl time.Duration) *NonceIssuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &NonceIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a nonce valid for action until the returned time.
func (n *NonceIssuer) Issue(action string) (string, time.Time, error) {
	if action == "" {
		return "", time.Time{}, fmt.Errorf("%w: action is required", ErrInvalidNonce)
	}
	now := n.now()
	expires := now.Add(n.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, nonceClaims{
		Action: action,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    "formflow",
		},
	})
	signed, err := token.SignedString(n.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign nonce: %w", err)
	}
	return signed, expires, nil
}

// Verify checks the signature, expiry and bound action of a nonce.
func (n *NonceIssuer) Verify(nonce, action string) error {
	if nonce == "" {
		return ErrInvalidNonce
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parser.SkipClaimsValidation = true

	claims := &nonceClaims{}
	token, err := parser.ParseWithClaims(nonce, claims, func(*jwt.Token) (interface{}, error) {
		return n.secret, nil
	})
	if err != nil || !token.Valid {
		return ErrInvalidNonce
	}
	if claims.ExpiresAt == nil || !n.now().Before(claims.ExpiresAt.Time) {
		return ErrInvalidNonce
	}
	if claims.Action != action {
		return ErrNonceAction
	}
	return nil
}
