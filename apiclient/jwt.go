package apiclient

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the identity hints carried in an access token. They are
// read without verifying the signature and must only be used for display or
// to fill gaps; the backend remains the authority.
type TokenClaims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}

// DecodeClaims reads the payload of a JWT access token without verifying it.
func DecodeClaims(rawToken string) (*TokenClaims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, errors.New("empty token")
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return nil, err
	}
	claims, ok := unverified.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("error extracting claims")
	}

	out := &TokenClaims{}
	out.Subject, _ = claims.GetSubject()
	if out.Subject == "" {
		// some backends put the user id in "id" or "userId"
		for _, k := range []string{"id", "userId"} {
			if v, ok := claims[k].(string); ok && v != "" {
				out.Subject = v
				break
			}
		}
	}
	out.Email, _ = claims["email"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// TokenExpiry returns the exp claim of rawToken, if it has one.
func TokenExpiry(rawToken string) (time.Time, bool) {
	claims, err := DecodeClaims(rawToken)
	if err != nil || claims.ExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return claims.ExpiresAt, true
}
