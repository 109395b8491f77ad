// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"src.bluestatic.org/popmirror/pkg/pop3"
	"src.bluestatic.org/popmirror/pkg/pop3/pop3test"
)

func writeConfig(t *testing.T, s *pop3test.Server, store, password string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "popmirror.yaml")
	config := fmt.Sprintf(`
log: {level: error}
store: {type: %s, path: %s}
accounts:
  - name: test
    host: %s
    port: %d
    security: plain
    username: u
    password: %q
    timeout: 5s
    batch_size: 1
`, store, filepath.Join(dir, "store"), s.Host(), s.Port(), password)
	if err := os.WriteFile(path, []byte(config), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestSyncCommand(t *testing.T) {
	for _, store := range []string{"sqlite", "mbox"} {
		t.Run(store, func(t *testing.T) {
			s := pop3test.NewServer()
			s.AddMessage("a", "Subject: one\n\nfirst\n")
			s.AddMessage("b", "Subject: two\n\nsecond\n")
			s.Start(t)
			path := writeConfig(t, s, store, "p")

			out, err := execute(t, "--config", path, "stat")
			if err != nil {
				t.Fatalf("stat: %v\n%s", err, out)
			}
			if !strings.Contains(out, "remote: 2 messages") || !strings.Contains(out, "0 stored, 2 not yet mirrored") {
				t.Errorf("Unexpected stat output:\n%s", out)
			}

			out, err = execute(t, "--config", path, "sync")
			if err != nil {
				t.Fatalf("sync: %v\n%s", err, out)
			}
			if want := "test: 2 new, 0 failed\n"; out != want {
				t.Errorf("want %q, got %q", want, out)
			}

			s.AddMessage("c", "Subject: three\n\nthird\n")
			out, err = execute(t, "--config", path, "sync", "test")
			if err != nil {
				t.Fatalf("sync: %v\n%s", err, out)
			}
			if want := "test: 1 new, 0 failed\n"; out != want {
				t.Errorf("want %q, got %q", want, out)
			}

			out, err = execute(t, "--config", path, "stat", "test")
			if err != nil {
				t.Fatalf("stat: %v\n%s", err, out)
			}
			if !strings.Contains(out, "3 stored, 0 not yet mirrored") {
				t.Errorf("Unexpected stat output:\n%s", out)
			}
			if n := s.Count("DELE"); n != 0 {
				t.Errorf("Maildrop modified: %d DELE", n)
			}
		})
	}
}

func TestSyncCommandErrors(t *testing.T) {
	s := pop3test.NewServer()
	s.Start(t)

	_, err := execute(t, "--config", writeConfig(t, s, "sqlite", "wrong"), "sync")
	if want, got := 3, exitCode(err); want != got {
		t.Errorf("Bad password: want exit %d, got %d (%v)", want, got, err)
	}

	_, err = execute(t, "--config", writeConfig(t, s, "sqlite", "p"), "sync", "nobody")
	if err == nil {
		t.Errorf("Expected error for unknown account")
	}

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "sync")
	if want, got := 2, exitCode(err); want != got {
		t.Errorf("Missing config: want exit %d, got %d (%v)", want, got, err)
	}
}

func TestExitCode(t *testing.T) {
	if want, got := 1, exitCode(errors.New("x")); want != got {
		t.Errorf("want %d, got %d", want, got)
	}
	if want, got := 4, exitCode(fmt.Errorf("wrapped: %w", &pop3.Error{Kind: pop3.ErrConnection})); want != got {
		t.Errorf("want %d, got %d", want, got)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "popmirror ") {
		t.Errorf("Unexpected version %q", out)
	}
}
