package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

// Claims defines the custom claims for the JWT.
type Claims struct {
	TenantKey string      `json:"tenant_key"`
	Role      domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates session tokens.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer using HS256 with the given secret.
func NewTokenIssuer(secret string, expiry time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), expiry: expiry, now: time.Now}
}

// Generate creates a new JWT for a tenant account.
func (i *TokenIssuer) Generate(tenantKey string, role domain.Role) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.expiry)
	claims := &Claims{
		TenantKey: tenantKey,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantKey,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate parses and validates a JWT string.
func (i *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims.TenantKey == "" || !claims.Role.Valid() {
		return nil, errors.New("token is missing tenant claims")
	}

	return claims, nil
}
