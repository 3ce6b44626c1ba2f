package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that does not identify a member.
var ErrInvalidToken = errors.New("invalid token")

// Validator resolves a bearer token to the authenticated member id.
type Validator interface {
	ValidateToken(ctx context.Context, token string) (int, error)
}

// JWTValidator verifies HS256 tokens issued by the auth service. The member id
// is carried in the subject claim.
type JWTValidator struct {
	secret []byte
	issuer string
}

// NewJWTValidator constructs a validator. An empty issuer disables the issuer check.
func NewJWTValidator(secret, issuer string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret), issuer: issuer}
}

// ValidateToken verifies the signature and expiry and returns the member id.
func (v *JWTValidator) ValidateToken(_ context.Context, token string) (int, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return 0, ErrInvalidToken
	}

	userID, err := strconv.Atoi(claims.Subject)
	if err != nil || userID <= 0 {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

// Issue signs a token for userID. Used by tooling and tests; production tokens
// come from the auth service.
func (v *JWTValidator) Issue(userID int, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.Itoa(userID),
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
