package utils // helpers for operator token issuing and password hashing

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed HS256 JWT identifying an operator session at
// a station, along with its expiry. Stations present it as a Bearer
// token on every call to the ticket API.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// NewAccessToken builds and signs an HS256 JWT for an operator. The
// claims carry the operator id as subject, the username for audit
// references and the role for the authorization middleware. Stations
// are long-lived kiosks that re-login on shift change, so access
// tokens are the only session artifact; there is no refresh flow.
func NewAccessToken(secret string, operatorID int64, username, role string, ttlMin int) (AccessToken, error) {
	exp := time.Now().UTC().Add(time.Duration(ttlMin) * time.Minute)
	claims := jwt.MapClaims{
		"sub":      operatorID,
		"username": username,
		"role":     role,
		"exp":      exp.Unix(),
		"iat":      time.Now().UTC().Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}
