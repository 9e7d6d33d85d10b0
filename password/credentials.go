package password

import (
	"context"
	"errors"
	"sync"
)

// ErrBadCredentials is returned for an unknown login name or a wrong
// password; callers cannot tell the two apart.
var ErrBadCredentials = errors.New("bad credentials")

// Credentials maps login names to argon2id hashes. It is the credential
// check in front of token issuance; token semantics live elsewhere.
type Credentials struct {
	hasher *Argon2

	mu     sync.RWMutex
	hashes map[string]string
	// dummy is verified for unknown names so both failures cost the same.
	dummy string
}

func NewCredentials(hasher *Argon2) (*Credentials, error) {
	dummy, err := hasher.Hash("tokenlife-unknown-login")
	if err != nil {
		return nil, err
	}
	return &Credentials{
		hasher: hasher,
		hashes: make(map[string]string),
		dummy:  dummy,
	}, nil
}

// SetPassword hashes password and stores it for loginName.
func (c *Credentials) SetPassword(loginName, password string) error {
	hash, err := c.hasher.Hash(password)
	if err != nil {
		return err
	}
	return c.SetHash(loginName, hash)
}

// SetHash stores an already encoded hash, e.g. loaded from a file.
func (c *Credentials) SetHash(loginName, hash string) error {
	if _, err := parsePHC(hash); err != nil {
		return err
	}
	c.mu.Lock()
	c.hashes[loginName] = hash
	c.mu.Unlock()
	return nil
}

func (c *Credentials) CheckCredentials(ctx context.Context, loginName, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	hash, ok := c.hashes[loginName]
	c.mu.RUnlock()
	if !ok {
		_, _ = c.hasher.Verify(password, c.dummy)
		return ErrBadCredentials
	}

	match, err := c.hasher.Verify(password, hash)
	if err != nil || !match {
		return ErrBadCredentials
	}
	return nil
}
