package apiclient

import (
	"workpulse/internal/apierr"
	"workpulse/internal/auth"

	"github.com/golang-jwt/jwt/v5"
)

// DecodeClaims reads the claims of a stored token without verifying the
// signature. The agent uses it to learn its own user id; the server still
// verifies every request.
func DecodeClaims(token string) (*auth.Claims, error) {
	claims := &auth.Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, apierr.Wrap(apierr.CodeInvalidToken, "malformed token", err)
	}
	if _, err := claims.UserUUID(); err != nil {
		return nil, apierr.Wrap(apierr.CodeInvalidToken, "token has no user id", err)
	}
	return claims, nil
}
