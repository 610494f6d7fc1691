package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer    = "confera"
	RoleAdmin = "admin"
)

var ErrNotAdmin = errors.New("token does not carry the admin role")

// AdminClaims is the payload of tokens accepted by the room admin API.
type AdminClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// AdminTokens issues and validates HS256 admin tokens.
type AdminTokens struct {
	secret []byte
	ttl    time.Duration
}

func NewAdminTokens(secret string, ttl time.Duration) *AdminTokens {
	return &AdminTokens{secret: []byte(secret), ttl: ttl}
}

// Issue signs a short-lived admin token for subject.
func (a *AdminTokens) Issue(subject string) (string, error) {
	now := time.Now()
	claims := &AdminClaims{
		Roles: []string{RoleAdmin},
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate checks signature, expiry, issuer and the admin role.
func (a *AdminTokens) Validate(tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse admin token: %w", err)
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	for _, role := range claims.Roles {
		if role == RoleAdmin {
			return claims, nil
		}
	}
	return nil, ErrNotAdmin
}
