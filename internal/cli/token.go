package cli

import (
	"fmt"
	"time"

	"ride-dispatch/internal/general/jwt"
)

// GenerateToken mints a short-lived JWT for a passenger or driver.
// It uses jwt.Manager and returns the raw token plus the claims.
//
// Keep this package dev/internal only. Do not call it from production code paths.
func GenerateToken(secret, subjectID, roleStr string, ttl time.Duration) (string, jwt.Claims, error) {
	role := jwt.Role(roleStr)
	if !role.Valid() {
		return "", jwt.Claims{}, fmt.Errorf("invalid role %q: want PASSENGER or DRIVER", roleStr)
	}

	mgr := jwt.NewManager(secret, ttl)

	token, claims, err := mgr.IssueToken(subjectID, role)
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("issue token: %w", err)
	}

	return token, *claims, nil
}
