package tokenlife

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Identity is the authenticated principal. Subject is the directory's
// immutable primary key; Roles is a snapshot taken when the access token was
// issued.
type Identity struct {
	Subject string
	Roles   []string
}

// TokenPair is returned by Login.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Account is a directory entry as seen by LoginByName.
type Account struct {
	Subject            string
	LoginName          string
	Roles              []string
	Enabled            bool
	Locked             bool
	CredentialsExpired bool
}

// Available reports whether the account may receive tokens.
func (a Account) Available() bool {
	return a.Enabled && !a.Locked && !a.CredentialsExpired
}

// Directory is the identity directory the engine consults. Implementations
// return an error wrapping ErrIdentityNotFound for unknown names and
// subjects; any other error is treated as the directory being unavailable.
type Directory interface {
	FindByLoginName(ctx context.Context, loginName string) (Account, error)
	Roles(ctx context.Context, subject string) ([]string, error)
}

// StaticDirectory is an in-memory Directory for tests and small deployments.
type StaticDirectory struct {
	mu        sync.RWMutex
	byName    map[string]Account
	bySubject map[string]string
}

func NewStaticDirectory(accounts ...Account) *StaticDirectory {
	d := &StaticDirectory{
		byName:    make(map[string]Account, len(accounts)),
		bySubject: make(map[string]string, len(accounts)),
	}
	for _, a := range accounts {
		d.Put(a)
	}
	return d
}

// Put adds or replaces an account.
func (d *StaticDirectory) Put(a Account) {
	a.Roles = slices.Clone(a.Roles)

	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.bySubject[a.Subject]; ok && old != a.LoginName {
		delete(d.byName, old)
	}
	d.byName[a.LoginName] = a
	d.bySubject[a.Subject] = a.LoginName
}

// Remove forgets subject. Outstanding tokens stay valid until refresh,
// which then fails with UnknownIdentity.
func (d *StaticDirectory) Remove(subject string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if name, ok := d.bySubject[subject]; ok {
		delete(d.byName, name)
		delete(d.bySubject, subject)
	}
}

func (d *StaticDirectory) FindByLoginName(_ context.Context, loginName string) (Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.byName[loginName]
	if !ok {
		return Account{}, fmt.Errorf("%w: %q", ErrIdentityNotFound, loginName)
	}
	a.Roles = slices.Clone(a.Roles)
	return a, nil
}

func (d *StaticDirectory) Roles(_ context.Context, subject string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.bySubject[subject]
	if !ok {
		return nil, fmt.Errorf("%w: subject %q", ErrIdentityNotFound, subject)
	}
	return slices.Clone(d.byName[name].Roles), nil
}
