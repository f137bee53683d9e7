// Package token signs and parses session bearer tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "face-auth"

// Claims represents JWT claims of a session token. The token ID is the session ID.
type Claims struct {
	jwt.RegisteredClaims
	SecondFactor bool `json:"mfa"`
}

// Issuer signs session tokens with a symmetric HMAC key.
type Issuer struct {
	secretKey []byte
}

// NewIssuer creates a token issuer with the provided secret key.
func NewIssuer(secretKey string) (*Issuer, error) {
	if len(secretKey) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	return &Issuer{secretKey: []byte(secretKey)}, nil
}

// Sign creates a token for the session.
func (i *Issuer) Sign(sessionID, identityID string, issuedAt, expiresAt time.Time, secondFactor bool) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   identityID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SecondFactor: secondFactor,
	})

	tokenString, err := token.SignedString(i.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return tokenString, nil
}

// Parse validates the token and returns the session ID it carries.
// The session row stays authoritative, callers must still look it up.
func (i *Issuer) Parse(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("wrong signing method %v", t.Header["alg"])
		}
		return i.secretKey, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("failed to parse session token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("session token is invalid")
	}
	if claims.ID == "" {
		return "", errors.New("session token has no id")
	}
	return claims.ID, nil
}
