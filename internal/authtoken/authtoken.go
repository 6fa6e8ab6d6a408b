// Package authtoken validates JWTs on the notification API's admin
// and operator surfaces. Grounded on internal/auth/service.go's
// Claims type and ValidateToken logic, narrowed: this core has no
// user registry to register or log in against, so only issuance and
// validation survive — both against a single shared secret.
package authtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("authtoken: invalid token")
	ErrTokenExpired = errors.New("authtoken: token expired")
)

// Claims identifies the caller and what they're allowed to do.
type Claims struct {
	Subject string   `json:"sub"`
	Perms   []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

// HasPerm reports whether the token carries perm, or the wildcard "*".
func (c Claims) HasPerm(perm string) bool {
	for _, p := range c.Perms {
		if p == perm || p == "*" {
			return true
		}
	}
	return false
}

// Issuer signs and validates tokens against a shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// New builds an Issuer. ttl bounds how long an issued token is valid.
func New(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for subject carrying perms.
func (i *Issuer) Issue(subject string, perms []string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Subject: subject,
		Perms:   perms,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validate parses and verifies tokenString, returning its claims.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
