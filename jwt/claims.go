package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes access tokens from refresh tokens inside the payload.
type Kind string

const (
	KindAccess  Kind = "ACCESS_TOKEN"
	KindRefresh Kind = "REFRESH_TOKEN"
)

// Valid reports whether k is one of the known token kinds.
func (k Kind) Valid() bool {
	return k == KindAccess || k == KindRefresh
}

// Claims is the signed payload of every token.
//
// Roles is only populated for access tokens and is the role snapshot taken at
// issuance time.
type Claims struct {
	Kind  Kind     `json:"token_type"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// NewClaims builds a payload for subject valid from now for ttl. Every call
// gets a fresh token ID so two tokens minted in the same second differ.
func NewClaims(subject string, kind Kind, roles []string, issuer string, now time.Time, ttl time.Duration) Claims {
	c := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if kind == KindAccess && len(roles) > 0 {
		c.Roles = append([]string(nil), roles...)
	}
	return c
}

// Expired reports whether the token is expired at now. A token is valid only
// while now is strictly before its expiry.
func (c *Claims) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return !now.Before(c.ExpiresAt.Time)
}

// check enforces the payload invariants shared by Encode and Decode.
func (c *Claims) check() error {
	if c.Subject == "" {
		return fmt.Errorf("%w: empty subject", ErrMalformed)
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: unknown token kind %q", ErrMalformed, c.Kind)
	}
	if c.IssuedAt == nil || c.ExpiresAt == nil {
		return fmt.Errorf("%w: missing iat or exp", ErrMalformed)
	}
	if !c.ExpiresAt.After(c.IssuedAt.Time) {
		return fmt.Errorf("%w: exp must be after iat", ErrMalformed)
	}
	if c.Kind == KindRefresh && len(c.Roles) > 0 {
		return fmt.Errorf("%w: refresh token carries roles", ErrMalformed)
	}
	return nil
}
