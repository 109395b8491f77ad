// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package credentials resolves the username and password for an account.
// Secrets are never logged; Credentials formats with the password masked.
package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"

	"src.bluestatic.org/popmirror/pkg/pop3"
)

type Credentials struct {
	Username string
	Password string
}

func (c Credentials) String() string {
	return fmt.Sprintf("%s:****", c.Username)
}

// Provider returns the credentials for a named account.
type Provider interface {
	Resolve(ctx context.Context, account string) (Credentials, error)
}

// Source describes where an account's password comes from. The first
// non-empty of Password, PasswordEnv and PasswordFile is used.
type Source struct {
	Username     string
	Password     string
	PasswordEnv  string
	PasswordFile string
}

// Static resolves accounts from their configured Source.
type Static map[string]Source

func (s Static) Resolve(ctx context.Context, account string) (Credentials, error) {
	src, ok := s[account]
	if !ok {
		return Credentials{}, pop3.ConfigError("No credentials for account %q", account)
	}
	if src.Username == "" {
		return Credentials{}, pop3.ConfigError("No username for account %q", account)
	}
	pass, err := src.password()
	if err != nil {
		return Credentials{}, pop3.ConfigError("Password for account %q: %w", account, err)
	}
	if pass == "" {
		return Credentials{}, pop3.ConfigError("No password for account %q", account)
	}
	return Credentials{Username: src.Username, Password: pass}, nil
}

func (src Source) password() (string, error) {
	switch {
	case src.Password != "":
		return src.Password, nil
	case src.PasswordEnv != "":
		return os.Getenv(src.PasswordEnv), nil
	case src.PasswordFile != "":
		b, err := os.ReadFile(src.PasswordFile)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(b), "\r\n"), nil
	}
	return "", nil
}
