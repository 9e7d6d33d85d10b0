package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/MrEthical07/tokenlife"
	"github.com/MrEthical07/tokenlife/password"
	"gopkg.in/yaml.v3"
)

// usersFile is the seed directory read at startup.
//
//	users:
//	  - subject: 8f0c...
//	    login_name: alice
//	    password_hash: $argon2id$v=19$m=65536,t=3,p=2$...
//	    roles: [reader]
type usersFile struct {
	Users []userEntry `yaml:"users"`
}

type userEntry struct {
	Subject            string   `yaml:"subject"`
	LoginName          string   `yaml:"login_name"`
	Password           string   `yaml:"password"`
	PasswordHash       string   `yaml:"password_hash"`
	Roles              []string `yaml:"roles"`
	Disabled           bool     `yaml:"disabled"`
	Locked             bool     `yaml:"locked"`
	CredentialsExpired bool     `yaml:"credentials_expired"`
}

func loadUsers(path string, creds *password.Credentials) ([]tokenlife.Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse users file %s: %w", path, err)
	}
	return seedUsers(f.Users, creds)
}

func seedUsers(entries []userEntry, creds *password.Credentials) ([]tokenlife.Account, error) {
	accounts := make([]tokenlife.Account, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))

	for i, u := range entries {
		if u.Subject == "" || u.LoginName == "" {
			return nil, fmt.Errorf("user %d: subject and login_name are required", i)
		}
		if _, dup := seen[u.LoginName]; dup {
			return nil, fmt.Errorf("user %d: duplicate login_name %q", i, u.LoginName)
		}
		seen[u.LoginName] = struct{}{}

		switch {
		case u.PasswordHash != "":
			err := creds.SetHash(u.LoginName, u.PasswordHash)
			if err != nil {
				return nil, fmt.Errorf("user %q: %w", u.LoginName, err)
			}
		case u.Password != "":
			err := creds.SetPassword(u.LoginName, u.Password)
			if err != nil {
				return nil, fmt.Errorf("user %q: %w", u.LoginName, err)
			}
		default:
			return nil, fmt.Errorf("user %q: %w", u.LoginName, errNoPassword)
		}

		accounts = append(accounts, tokenlife.Account{
			Subject:            u.Subject,
			LoginName:          u.LoginName,
			Roles:              u.Roles,
			Enabled:            !u.Disabled,
			Locked:             u.Locked,
			CredentialsExpired: u.CredentialsExpired,
		})
	}
	return accounts, nil
}

var errNoPassword = errors.New("password or password_hash required")
