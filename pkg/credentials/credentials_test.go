// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package credentials

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"src.bluestatic.org/popmirror/pkg/pop3"
)

func TestStaticSources(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "pass")
	if err := os.WriteFile(file, []byte("from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("POPMIRROR_TEST_PASS", "from-env")

	s := Static{
		"inline": {Username: "a", Password: "inline"},
		"env":    {Username: "b", PasswordEnv: "POPMIRROR_TEST_PASS"},
		"file":   {Username: "c", PasswordFile: file},
		"both":   {Username: "d", Password: "wins", PasswordEnv: "POPMIRROR_TEST_PASS"},
	}
	for account, want := range map[string]string{
		"inline": "inline",
		"env":    "from-env",
		"file":   "from-file",
		"both":   "wins",
	} {
		c, err := s.Resolve(context.Background(), account)
		if err != nil {
			t.Errorf("%s: %v", account, err)
			continue
		}
		if c.Password != want {
			t.Errorf("%s: want password %q, got %q", account, want, c.Password)
		}
	}
}

func TestStaticMissing(t *testing.T) {
	t.Setenv("POPMIRROR_TEST_EMPTY", "")
	s := Static{
		"nopass":   {Username: "a"},
		"nouser":   {Password: "x"},
		"emptyenv": {Username: "a", PasswordEnv: "POPMIRROR_TEST_EMPTY"},
		"nofile":   {Username: "a", PasswordFile: filepath.Join(t.TempDir(), "missing")},
	}
	for _, account := range []string{"nopass", "nouser", "emptyenv", "nofile", "unknown"} {
		_, err := s.Resolve(context.Background(), account)
		if !pop3.IsKind(err, pop3.ErrConfiguration) {
			t.Errorf("%s: expected configuration error, got %v", account, err)
		}
	}
}

func TestCredentialsString(t *testing.T) {
	c := Credentials{Username: "alice", Password: "hunter2"}
	if s := c.String(); strings.Contains(s, "hunter2") {
		t.Errorf("String leaks the password: %q", s)
	}
}

func TestPrompt(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompt(Static{
		"set":   {Username: "a", Password: "configured"},
		"unset": {Username: "b"},
	}, &out)
	reads := 0
	p.readPassword = func() ([]byte, error) {
		reads++
		return []byte("typed"), nil
	}

	c, err := p.Resolve(context.Background(), "set")
	if err != nil {
		t.Fatal(err)
	}
	if want, got := "configured", c.Password; want != got {
		t.Errorf("want %q, got %q", want, got)
	}
	if reads != 0 {
		t.Errorf("Prompted for a configured password")
	}

	for i := 0; i < 2; i++ {
		c, err = p.Resolve(context.Background(), "unset")
		if err != nil {
			t.Fatal(err)
		}
		if want, got := "typed", c.Password; want != got {
			t.Errorf("want %q, got %q", want, got)
		}
	}
	if want, got := 1, reads; want != got {
		t.Errorf("want %d prompts, got %d", want, got)
	}
	if !strings.Contains(out.String(), "Password for unset (b)") {
		t.Errorf("Unexpected prompt %q", out.String())
	}

	if _, err := p.Resolve(context.Background(), "unknown"); !pop3.IsKind(err, pop3.ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}
