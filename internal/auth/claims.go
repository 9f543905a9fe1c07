package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// defaultTokenTTL applies when GenerateAccessToken is given no TTL.
const defaultTokenTTL = 15 * time.Minute

// CustomClaims extends JWT standard claims with Gray Logic-specific fields.
type CustomClaims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// GenerateAccessToken creates a signed HS256 access token. Gray Logic Core
// issues these for its panels and users; the bridge only needs to mint them
// for tooling and tests.
func GenerateAccessToken(subject string, role Role, secret, issuer string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseToken validates and parses an access token. It checks the signature,
// expiry, issuer (when issuer is non-empty) and required fields.
func ParseToken(tokenString, secret, issuer string) (*CustomClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}
	return claims, nil
}
