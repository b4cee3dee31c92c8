// Package session signs and verifies the browser session cookie.
// The cookie value is base64url(json) + "." + base64url(hmac-sha256),
// both unpadded, with the signature computed over the encoded body.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// CookieName is the name of the session cookie issued by the panel
const CookieName = "rover_session"

// Role represents the authorisation level recorded in a session
type Role string

// Admin and User are the only roles a session can carry
const (
	Admin Role = "admin"
	User  Role = "user"
)

// Payload represents the contents of a session cookie
type Payload struct {

	// Subject is the username the session was issued to
	Subject string `json:"sub"`

	// Role is either admin or user
	Role Role `json:"role"`

	// ExpiresAt is the expiry Unix time in milliseconds
	ExpiresAt int64 `json:"exp"`
}

// Signer issues and verifies session cookie values for a single secret
type Signer struct {
	Secret []byte

	// Now returns the current Unix time in milliseconds - replace for testing
	Now func() int64
}

// New returns a Signer using the system clock
func New(secret []byte) *Signer {
	return &Signer{
		Secret: secret,
		Now:    NowMs,
	}
}

// NowMs returns the current Unix time in milliseconds
func NowMs() int64 {
	return time.Now().UnixMilli()
}

func (s *Signer) sign(body string) []byte {
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}

// Sign returns the cookie value for a payload
func (s *Signer) Sign(p Payload) (string, error) {

	raw, err := json.Marshal(p)

	if err != nil {
		return "", err
	}

	body := base64.RawURLEncoding.EncodeToString(raw)
	sig := base64.RawURLEncoding.EncodeToString(s.sign(body))

	return body + "." + sig, nil
}

// Verify checks a cookie value and returns the payload it carries.
// Any malformed, tampered or expired value returns ok false - callers
// must treat that as no session, with no further detail available.
func (s *Signer) Verify(value string) (Payload, bool) {

	parts := strings.Split(value, ".")

	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Payload{}, false
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[1])

	if err != nil {
		return Payload{}, false
	}

	if !hmac.Equal(sig, s.sign(parts[0])) {
		return Payload{}, false
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])

	if err != nil {
		return Payload{}, false
	}

	var p Payload

	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, false
	}

	if p.Subject == "" {
		return Payload{}, false
	}

	if p.Role != Admin && p.Role != User {
		return Payload{}, false
	}

	if p.ExpiresAt <= s.Now() {
		return Payload{}, false
	}

	return p, true
}
