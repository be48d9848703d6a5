package jwt

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Role identifies which side of the marketplace a token belongs to.
type Role string

const (
	RolePassenger Role = "PASSENGER"
	RoleDriver    Role = "DRIVER"
)

// Valid reports whether the role is one we issue tokens for.
func (r Role) Valid() bool {
	return r == RolePassenger || r == RoleDriver
}

// Claims defines our canonical JWT claims payload.
type Claims struct {
	Role Role `json:"role"` // PASSENGER or DRIVER
	jwtlib.RegisteredClaims
}

var _ jwtlib.Claims = (*Claims)(nil)

// NewClaims constructs claims for a passenger or driver token.
func NewClaims(subjectID string, role Role, ttl time.Duration) *Claims {
	now := time.Now().UTC()
	return &Claims{
		Role: role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subjectID,
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
}
