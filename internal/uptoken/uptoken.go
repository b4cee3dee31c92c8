// Package uptoken defines the JWT presented by robot uplinks when
// connecting to the relay. Browser clients use the session cookie instead;
// robots hold a long-lived signed token scoped to their own identity.
package uptoken

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

// ScopeUplink is the scope required to connect as a robot uplink
const ScopeUplink = "uplink"

// Token represents the claims in an uplink JWT
type Token struct {

	// RobotID is the identity the uplink is allowed to join
	RobotID string `json:"robotId"`

	// Scopes controlling access to the relay; uplinks require "uplink"
	Scopes []string `json:"scopes"`

	jwt.RegisteredClaims
}

// New returns a Token populated with the supplied information
func New(audience, robotID string, scopes []string, iat, nbf, exp int64) Token {
	return Token{
		RobotID: robotID,
		Scopes:  scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Unix(iat, 0)),
			NotBefore: jwt.NewNumericDate(time.Unix(nbf, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(exp, 0)),
			Audience:  jwt.ClaimStrings{audience},
		},
	}
}

// Signed signs a token and returns it as a string
func Signed(token Token, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, token).SignedString([]byte(secret))
}

// HasRequiredClaims returns false if the Token is missing any required elements
func HasRequiredClaims(token Token) bool {

	if token.RobotID == "" ||
		len(token.Scopes) == 0 ||
		len(token.RegisteredClaims.Audience) == 0 ||
		token.RegisteredClaims.ExpiresAt == nil ||
		(*token.RegisteredClaims.ExpiresAt).IsZero() {
		return false
	}
	return true
}

// HasUplinkScope returns true if the token carries the uplink scope
func HasUplinkScope(token Token) bool {
	for _, scope := range token.Scopes {
		if scope == ScopeUplink {
			return true
		}
	}
	return false
}

// Verify parses and validates a signed uplink token, checking the
// signature method, standard time claims, audience and required claims
func Verify(signed, secret, audience string) (Token, error) {

	claims := &Token{}

	token, err := jwt.ParseWithClaims(signed, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method was %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})

	if err != nil {
		return Token{}, err
	}

	if !token.Valid { //checks iat, nbf, exp
		return Token{}, errors.New("token invalid")
	}

	if !claims.RegisteredClaims.VerifyAudience(audience, true) {
		return Token{}, errors.New("token audience does not match this relay")
	}

	if !HasRequiredClaims(*claims) {
		return Token{}, errors.New("token missing required claims")
	}

	return *claims, nil
}
