// Package auth validates access tokens issued by the identity service.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/coursehub/backend/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the part of the identity token this service reads.
type Claims struct {
	UserID uuid.UUID   `json:"user_id"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with the secret shared with the identity service.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a verifier. An empty issuer accepts any issuer.
func NewVerifier(secret, issuer string) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Verifier{secret: []byte(secret), parser: jwt.NewParser(opts...)}
}

// Verify parses token and returns its claims. Tokens without a user or with
// an unknown role are rejected.
func (v *Verifier) Verify(token string) (*Claims, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.UserID == uuid.Nil || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
